// Package store defines the persistence contracts for credentials and
// sessions. Implementations live in subpackages; the authority only talks
// to these interfaces.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a create would violate a uniqueness rule,
	// including the one-active-session-per-identity rule.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrQuotaExceeded is returned by conditional counter updates that would
	// push sessions_used past session_limit.
	ErrQuotaExceeded = errors.New("store: quota exceeded")
)

// Credential is the persistent record for one identity.
// Secret holds a bcrypt hash, never plaintext.
type Credential struct {
	Identity     string
	Secret       string
	Active       bool
	SessionLimit int
	SessionsUsed int
	LastUsed     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialPatch is a partial update; nil fields are left untouched.
type CredentialPatch struct {
	Secret       *string
	Active       *bool
	SessionLimit *int
}

// Session is the time-boxed authorization record for one identity. At most
// one session per identity may have Active=true.
type Session struct {
	ID                 string
	Identity           string
	StartTime          time.Time
	LastActivity       time.Time
	MessageCount       int
	Active             bool
	ConversationActive bool
	ConversationStart  time.Time
}

// SessionPatch is a partial update; nil fields are left untouched.
type SessionPatch struct {
	LastActivity       *time.Time
	MessageCount       *int
	Active             *bool
	ConversationActive *bool
	ConversationStart  *time.Time
}

type CredentialStore interface {
	Get(ctx context.Context, identity string) (Credential, error)
	List(ctx context.Context) ([]Credential, error)
	Create(ctx context.Context, cred Credential) error
	Update(ctx context.Context, identity string, patch CredentialPatch) error
	Delete(ctx context.Context, identity string) error

	// IncrementSessionsUsed adds one to the counter only while it is below
	// the limit, and returns the new value. ErrQuotaExceeded otherwise.
	IncrementSessionsUsed(ctx context.Context, identity string) (int, error)
	ResetSessionsUsed(ctx context.Context, identity string) error
	TouchLastUsed(ctx context.Context, identity string, at time.Time) error
}

type SessionStore interface {
	// Create inserts a new active session. ErrDuplicate when an active
	// session already exists for the identity.
	Create(ctx context.Context, sess Session) error
	GetActive(ctx context.Context, identity string) (Session, error)
	Update(ctx context.Context, identity string, patch SessionPatch) error
	Deactivate(ctx context.Context, identity string) error

	// DeactivateOlderThan marks every active session started before cutoff
	// as inactive and reports how many it touched.
	DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context) ([]Session, error)
}
