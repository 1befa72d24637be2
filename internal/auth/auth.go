// Package auth implements the Auth component: token
// issuance/validation/revocation and a bounded challenge/response slot
// array used by the coordinator's handshake.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

// Store owns the token tables. byValue and byID always point at the same
// underlying *model.AuthToken so mutations through either map are visible
// via the other.
type Store struct {
	mu           sync.RWMutex
	byValue      map[string]*model.AuthToken
	byID         map[string]*model.AuthToken
	allowRefresh bool
	log          log.Logger

	challenges    *gocache.Cache
	maxChallenges int
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithRefreshAllowed controls whether Refresh extends a token's expiry.
// Disabled by default, matching a conservative default config.
func WithRefreshAllowed(allowed bool) Option {
	return func(s *Store) { s.allowRefresh = allowed }
}

// WithMaxChallenges overrides the default bounded slot count (100).
func WithMaxChallenges(n int) Option {
	return func(s *Store) { s.maxChallenges = n }
}

// New builds an empty token/challenge Store.
func New(logger log.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{
		byValue:       make(map[string]*model.AuthToken),
		byID:          make(map[string]*model.AuthToken),
		maxChallenges: 100,
		log:           logger,
		challenges:    gocache.New(gocache.NoExpiration, time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate mints a new token of kind for subject, valid for ttl (zero means
// never expires), with the default permission set for its kind.
func (s *Store) Generate(kind model.TokenKind, subject string, ttl time.Duration) (*model.AuthToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("auth: generating token value: %w", err)
	}

	token := &model.AuthToken{
		ID:          uuid.NewString(),
		Value:       base64.StdEncoding.EncodeToString(raw),
		Kind:        kind,
		Subject:     subject,
		IssuedAt:    time.Now(),
		Permissions: model.DefaultPermissions(kind),
	}
	if ttl > 0 {
		token.ExpiresAt = token.IssuedAt.Add(ttl)
	}

	s.mu.Lock()
	s.byValue[token.Value] = token
	s.byID[token.ID] = token
	s.mu.Unlock()

	return token, nil
}

// Seed registers a token with an operator-chosen value rather than a random
// one, for bootstrapping the first worker token a coordinator operator hands
// out alongside `coordinator start --token`.
func (s *Store) Seed(value string, kind model.TokenKind, subject string, ttl time.Duration) *model.AuthToken {
	token := &model.AuthToken{
		ID:          uuid.NewString(),
		Value:       value,
		Kind:        kind,
		Subject:     subject,
		IssuedAt:    time.Now(),
		Permissions: model.DefaultPermissions(kind),
	}
	if ttl > 0 {
		token.ExpiresAt = token.IssuedAt.Add(ttl)
	}

	s.mu.Lock()
	s.byValue[token.Value] = token
	s.byID[token.ID] = token
	s.mu.Unlock()

	return token
}

// Validate classifies value's current standing, optionally checking it
// against sourceHost when the token restricts AllowedHosts.
func (s *Store) Validate(value string, sourceHost string) model.ValidationResult {
	s.mu.RLock()
	token, ok := s.byValue[value]
	s.mu.RUnlock()

	if !ok {
		return model.Invalid
	}
	if token.Revoked {
		return model.Revoked
	}
	if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
		return model.Expired
	}
	if len(token.AllowedHosts) > 0 && sourceHost != "" {
		allowed := false
		for _, h := range token.AllowedHosts {
			if h == sourceHost {
				allowed = true
				break
			}
		}
		if !allowed {
			return model.NotAuthorized
		}
	}
	return model.Success
}

// Revoke marks id revoked; subsequent Validate calls against its value
// return Revoked rather than Invalid.
func (s *Store) Revoke(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("auth: unknown token id %q", id)
	}
	token.Revoked = true
	token.RevocationReason = reason
	return nil
}

// Refresh extends id's expiry by ttl, if the Store was configured to allow
// it.
func (s *Store) Refresh(id string, ttl time.Duration) error {
	if !s.allowRefresh {
		return fmt.Errorf("auth: refresh is disabled by configuration")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("auth: unknown token id %q", id)
	}
	token.ExpiresAt = time.Now().Add(ttl)
	return nil
}

// CleanupExpired removes every token whose expiry has passed.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for value, token := range s.byValue {
		if !token.ExpiresAt.IsZero() && now.After(token.ExpiresAt) {
			delete(s.byValue, value)
			delete(s.byID, token.ID)
			removed++
		}
	}
	return removed
}

// Get returns the token by id, for admin inspection.
func (s *Store) Get(id string) (*model.AuthToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok
}

// CreateChallenge issues a new challenge/response slot, rejecting the
// request if the bounded slot array is still full after purging expired and
// used entries.
func (s *Store) CreateChallenge(nonce, expectedResponse string, ttl time.Duration) (*model.AuthChallenge, error) {
	s.purgeChallenges()

	if s.challenges.ItemCount() >= s.maxChallenges {
		return nil, fmt.Errorf("auth: challenge slot array is full")
	}

	now := time.Now()
	challenge := &model.AuthChallenge{
		ID:               uuid.NewString(),
		Nonce:            nonce,
		ExpectedResponse: expectedResponse,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
	s.challenges.Set(challenge.ID, challenge, ttl)
	return challenge, nil
}

// purgeChallenges drops used or expired slots. go-cache's ItemCount still
// counts expired entries until they are deleted, so those are deleted first;
// used-but-unexpired ones are stripped too so they stop counting against the
// bound.
func (s *Store) purgeChallenges() {
	s.challenges.DeleteExpired()
	for id, item := range s.challenges.Items() {
		challenge, ok := item.Object.(*model.AuthChallenge)
		if !ok {
			continue
		}
		if challenge.Used || time.Now().After(challenge.ExpiresAt) {
			s.challenges.Delete(id)
		}
	}
}

// VerifyChallenge marks the challenge used (win or lose) and returns Success
// iff it was unexpired, unused-before-this-call, and the response matches.
func (s *Store) VerifyChallenge(id, response string) model.ValidationResult {
	item, ok := s.challenges.Get(id)
	if !ok {
		return model.Invalid
	}
	challenge := item.(*model.AuthChallenge)

	if challenge.Used {
		return model.Invalid
	}
	challenge.Used = true

	if time.Now().After(challenge.ExpiresAt) {
		return model.Expired
	}
	if response != challenge.ExpectedResponse {
		return model.Invalid
	}
	return model.Success
}
