package model

import "time"

// TokenKind distinguishes the subject classes a token can be issued for.
type TokenKind int

const (
	TokenWorker TokenKind = iota
	TokenAdmin
	TokenClient
	TokenSession
)

func (k TokenKind) String() string {
	switch k {
	case TokenAdmin:
		return "Admin"
	case TokenClient:
		return "Client"
	case TokenSession:
		return "Session"
	default:
		return "Worker"
	}
}

// Permissions gates what an AuthToken's bearer may do.
type Permissions struct {
	CanRegister   bool
	CanSubmitJobs bool
	CanAdmin      bool
}

// DefaultPermissions returns the permission set assigned per token kind:
// Worker registers only, Client/Session submit only, Admin all.
func DefaultPermissions(kind TokenKind) Permissions {
	switch kind {
	case TokenAdmin:
		return Permissions{CanRegister: true, CanSubmitJobs: true, CanAdmin: true}
	case TokenClient, TokenSession:
		return Permissions{CanSubmitJobs: true}
	default:
		return Permissions{CanRegister: true}
	}
}

// AuthToken is the persistent credential record. ExpiresAt == zero time means
// never expires.
type AuthToken struct {
	ID               string
	Value            string
	Kind             TokenKind
	Subject          string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Revoked          bool
	RevocationReason string
	AllowedHosts     []string
	Permissions      Permissions
}

// ValidationResult is the distinct, never-collapsed auth outcome.
type ValidationResult int

const (
	Success ValidationResult = iota
	Invalid
	Expired
	Revoked
	NotAuthorized
)

func (v ValidationResult) String() string {
	switch v {
	case Success:
		return "Success"
	case Expired:
		return "Expired"
	case Revoked:
		return "Revoked"
	case NotAuthorized:
		return "NotAuthorized"
	default:
		return "Invalid"
	}
}

// AuthChallenge is a single-use challenge/response slot.
type AuthChallenge struct {
	ID               string
	Nonce            string
	ExpectedResponse string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Used             bool
}
