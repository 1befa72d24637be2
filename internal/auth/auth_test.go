package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

func TestGenerateAssignsDefaultPermissionsPerKind(t *testing.T) {
	s := New(log.Nop())

	worker, err := s.Generate(model.TokenWorker, "worker-1", time.Hour)
	require.NoError(t, err)
	require.True(t, worker.Permissions.CanRegister)
	require.False(t, worker.Permissions.CanSubmitJobs)

	admin, err := s.Generate(model.TokenAdmin, "root", 0)
	require.NoError(t, err)
	require.True(t, admin.Permissions.CanAdmin)
	require.True(t, admin.ExpiresAt.IsZero())
}

func TestSeedRegistersTokenUnderCallerChosenValue(t *testing.T) {
	s := New(log.Nop())

	token := s.Seed("bootstrap-token", model.TokenWorker, "worker-1", 0)
	require.Equal(t, "bootstrap-token", token.Value)
	require.Equal(t, model.Success, s.Validate("bootstrap-token", ""))

	got, ok := s.Get(token.ID)
	require.True(t, ok)
	require.Equal(t, "bootstrap-token", got.Value)
}

func TestValidateDistinguishesExpiredRevokedAndInvalid(t *testing.T) {
	s := New(log.Nop())

	require.Equal(t, model.Invalid, s.Validate("not-a-real-value", ""))

	expired, err := s.Generate(model.TokenClient, "c1", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, model.Expired, s.Validate(expired.Value, ""))

	revoked, err := s.Generate(model.TokenClient, "c2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Revoke(revoked.ID, "compromised"))
	require.Equal(t, model.Revoked, s.Validate(revoked.Value, ""))
}

func TestValidateEnforcesAllowedHosts(t *testing.T) {
	s := New(log.Nop())
	token, err := s.Generate(model.TokenWorker, "w1", time.Hour)
	require.NoError(t, err)
	token.AllowedHosts = []string{"10.0.0.5"}

	require.Equal(t, model.NotAuthorized, s.Validate(token.Value, "10.0.0.9"))
	require.Equal(t, model.Success, s.Validate(token.Value, "10.0.0.5"))
}

func TestRefreshRequiresConfigOptIn(t *testing.T) {
	disallowed := New(log.Nop())
	token, err := disallowed.Generate(model.TokenWorker, "w1", time.Hour)
	require.NoError(t, err)
	require.Error(t, disallowed.Refresh(token.ID, time.Hour))

	allowed := New(log.Nop(), WithRefreshAllowed(true))
	token2, err := allowed.Generate(model.TokenWorker, "w2", time.Minute)
	require.NoError(t, err)
	oldExpiry := token2.ExpiresAt
	require.NoError(t, allowed.Refresh(token2.ID, time.Hour))
	got, _ := allowed.Get(token2.ID)
	require.True(t, got.ExpiresAt.After(oldExpiry))
}

func TestCleanupExpiredRemovesOnlyExpiredTokens(t *testing.T) {
	s := New(log.Nop())
	expired, err := s.Generate(model.TokenClient, "c1", time.Nanosecond)
	require.NoError(t, err)
	live, err := s.Generate(model.TokenClient, "c2", time.Hour)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	removed := s.CleanupExpired()
	require.Equal(t, 1, removed)
	_, ok := s.Get(expired.ID)
	require.False(t, ok)
	_, ok = s.Get(live.ID)
	require.True(t, ok)
}

func TestChallengeVerifySucceedsOnceThenBecomesInvalid(t *testing.T) {
	s := New(log.Nop())
	challenge, err := s.CreateChallenge("nonce-1", "expected-response", time.Minute)
	require.NoError(t, err)

	require.Equal(t, model.Success, s.VerifyChallenge(challenge.ID, "expected-response"))
	require.Equal(t, model.Invalid, s.VerifyChallenge(challenge.ID, "expected-response"))
}

func TestChallengeVerifyRejectsWrongResponse(t *testing.T) {
	s := New(log.Nop())
	challenge, err := s.CreateChallenge("nonce-1", "expected-response", time.Minute)
	require.NoError(t, err)
	require.Equal(t, model.Invalid, s.VerifyChallenge(challenge.ID, "wrong"))
}

func TestCreateChallengeRejectsWhenSlotArrayIsFull(t *testing.T) {
	s := New(log.Nop(), WithMaxChallenges(2))
	_, err := s.CreateChallenge("n1", "r1", time.Minute)
	require.NoError(t, err)
	_, err = s.CreateChallenge("n2", "r2", time.Minute)
	require.NoError(t, err)
	_, err = s.CreateChallenge("n3", "r3", time.Minute)
	require.Error(t, err)
}

func TestCreateChallengePurgesUsedSlotsBeforeRejecting(t *testing.T) {
	s := New(log.Nop(), WithMaxChallenges(1))
	first, err := s.CreateChallenge("n1", "r1", time.Minute)
	require.NoError(t, err)
	s.VerifyChallenge(first.ID, "r1")

	_, err = s.CreateChallenge("n2", "r2", time.Minute)
	require.NoError(t, err)
}
