// Package authority owns the session authorization state machine: credential
// validation, session creation and expiry, per-session message quotas, and
// the conversation timer that bills against an identity's quota.
package authority

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/voxgate/voxgate/pkg/store"
)

const (
	// DefaultSessionDuration bounds both the session lifetime and the
	// conversation timer. Anchored to start time; activity never extends it.
	DefaultSessionDuration = 5 * time.Minute
	// DefaultMaxMessages is the per-session message ceiling.
	DefaultMaxMessages = 20
	// DefaultReaperInterval is how often the background sweep runs.
	DefaultReaperInterval = time.Minute
)

type Config struct {
	SessionDuration time.Duration
	MaxMessages     int
	ReaperInterval  time.Duration

	// The administrative identity bypasses quota and expiry enforcement but
	// still requires an exact secret match.
	AdminIdentity string
	AdminSecret   string

	Now func() time.Time
}

type Authority struct {
	creds    store.CredentialStore
	sessions store.SessionStore
	logger   *slog.Logger
	cfg      Config
	locks    *identityLocks
	now      func() time.Time
}

func New(creds store.CredentialStore, sessions store.SessionStore, logger *slog.Logger, cfg Config) *Authority {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = DefaultSessionDuration
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = DefaultReaperInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Authority{
		creds:    creds,
		sessions: sessions,
		logger:   logger,
		cfg:      cfg,
		locks:    newIdentityLocks(),
		now:      now,
	}
}

// SessionDuration exposes the configured fixed duration for callers that
// report it to clients.
func (a *Authority) SessionDuration() time.Duration { return a.cfg.SessionDuration }

// HashSecret prepares a plaintext secret for storage.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (a *Authority) isAdmin(identity string) bool {
	return a.cfg.AdminIdentity != "" && identity == a.cfg.AdminIdentity
}

func (a *Authority) adminSecretMatches(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(a.cfg.AdminSecret)) == 1
}

// CredentialCheck is the result of a successful ValidateCredentials call.
// IsAdmin is resolved here, once; downstream components carry it rather than
// re-deriving it from the identity.
type CredentialCheck struct {
	Identity string
	IsAdmin  bool
}

// ValidateCredentials checks identity/secret against the credential store.
// The admin identity is matched against the configured admin secret and
// skips the quota checks entirely.
func (a *Authority) ValidateCredentials(ctx context.Context, identity, secret string) (CredentialCheck, error) {
	if a.isAdmin(identity) {
		if !a.adminSecretMatches(secret) {
			return CredentialCheck{}, newError(ReasonBadCredentials, "invalid admin password")
		}
		return CredentialCheck{Identity: identity, IsAdmin: true}, nil
	}

	cred, err := a.creds.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return CredentialCheck{}, newError(ReasonBadCredentials, "invalid credentials")
	}
	if err != nil {
		a.logger.Error("credential lookup failed", "identity", identity, "error", err)
		return CredentialCheck{}, internalError("authentication error", err)
	}
	if !cred.Active {
		return CredentialCheck{}, newError(ReasonInactive, "account is disabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.Secret), []byte(secret)) != nil {
		return CredentialCheck{}, newError(ReasonBadCredentials, "invalid password")
	}
	if cred.SessionsUsed >= cred.SessionLimit {
		return CredentialCheck{}, newError(ReasonQuotaExhausted, "session limit reached, contact admin for new credentials")
	}
	return CredentialCheck{Identity: identity}, nil
}

// SessionGrant is the result of CreateSession.
type SessionGrant struct {
	SessionID string
	ExpiresAt time.Time
}

// CreateSession creates the single active session for identity. It fails
// closed when one already exists. The admin identity always succeeds; its
// session carries a real expiry for bookkeeping but is never enforced.
func (a *Authority) CreateSession(ctx context.Context, identity string) (SessionGrant, error) {
	unlock := a.locks.lock(identity)
	defer unlock()

	start := a.now()

	if a.isAdmin(identity) {
		// Admin reconnects replace any lingering session instead of failing.
		if err := a.sessions.Deactivate(ctx, identity); err != nil {
			a.logger.Error("admin session replace failed", "identity", identity, "error", err)
			return SessionGrant{}, internalError("failed to create session", err)
		}
		sess := newSession(identity, start)
		if err := a.sessions.Create(ctx, sess); err != nil {
			a.logger.Error("admin session create failed", "identity", identity, "error", err)
			return SessionGrant{}, internalError("failed to create session", err)
		}
		return SessionGrant{SessionID: sess.ID, ExpiresAt: start.Add(a.cfg.SessionDuration)}, nil
	}

	cred, err := a.creds.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return SessionGrant{}, newError(ReasonBadCredentials, "invalid credentials")
	}
	if err != nil {
		a.logger.Error("credential lookup failed", "identity", identity, "error", err)
		return SessionGrant{}, internalError("failed to create session", err)
	}
	if !cred.Active {
		return SessionGrant{}, newError(ReasonInactive, "account is disabled")
	}
	if cred.SessionsUsed >= cred.SessionLimit {
		return SessionGrant{}, newError(ReasonQuotaExhausted, "session limit reached, contact admin for new credentials")
	}

	if _, err := a.sessions.GetActive(ctx, identity); err == nil {
		return SessionGrant{}, newError(ReasonAlreadyActive, "you already have an active session")
	} else if !errors.Is(err, store.ErrNotFound) {
		a.logger.Error("active session lookup failed", "identity", identity, "error", err)
		return SessionGrant{}, internalError("failed to create session", err)
	}

	sess := newSession(identity, start)
	if err := a.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return SessionGrant{}, newError(ReasonAlreadyActive, "you already have an active session")
		}
		a.logger.Error("session create failed", "identity", identity, "error", err)
		return SessionGrant{}, internalError("failed to create session", err)
	}

	if err := a.creds.TouchLastUsed(ctx, identity, start); err != nil {
		a.logger.Warn("touch last used failed", "identity", identity, "error", err)
	}

	a.logger.Info("session created", "identity", identity, "session_id", sess.ID, "expires_at", start.Add(a.cfg.SessionDuration))
	return SessionGrant{SessionID: sess.ID, ExpiresAt: start.Add(a.cfg.SessionDuration)}, nil
}

func newSession(identity string, start time.Time) store.Session {
	return store.Session{
		ID:           "sess_" + uuid.NewString(),
		Identity:     identity,
		StartTime:    start,
		LastActivity: start,
		Active:       true,
	}
}

// SessionStatus is the result of ValidateSession.
type SessionStatus struct {
	TimeRemaining time.Duration
	ExpiresAt     time.Time
	MessageCount  int
}

// ValidateSession checks the wall-clock expiry anchored to the session's
// start time. An expired session is deactivated as a side effect. On success
// the session's last-activity timestamp is refreshed; the expiry is not
// extended.
func (a *Authority) ValidateSession(ctx context.Context, identity string) (SessionStatus, error) {
	unlock := a.locks.lock(identity)
	defer unlock()
	return a.validateSessionLocked(ctx, identity)
}

func (a *Authority) validateSessionLocked(ctx context.Context, identity string) (SessionStatus, error) {
	sess, err := a.sessions.GetActive(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return SessionStatus{}, newError(ReasonNoSession, "no active session found")
	}
	if err != nil {
		a.logger.Error("session lookup failed", "identity", identity, "error", err)
		return SessionStatus{}, internalError("session validation error", err)
	}

	now := a.now()
	expiresAt := sess.StartTime.Add(a.cfg.SessionDuration)
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		if err := a.sessions.Deactivate(ctx, identity); err != nil {
			a.logger.Error("expired session deactivate failed", "identity", identity, "error", err)
		}
		return SessionStatus{}, newError(ReasonExpired, "session expired")
	}

	if err := a.sessions.Update(ctx, identity, store.SessionPatch{LastActivity: &now}); err != nil {
		a.logger.Warn("last activity refresh failed", "identity", identity, "error", err)
	}
	return SessionStatus{TimeRemaining: remaining, ExpiresAt: expiresAt, MessageCount: sess.MessageCount}, nil
}

// IncrementMessageCount bumps the session's message counter. The ceiling is
// checked against the pre-increment count, so the configured maximum is the
// last message actually accepted.
func (a *Authority) IncrementMessageCount(ctx context.Context, identity string) (int, error) {
	unlock := a.locks.lock(identity)
	defer unlock()

	sess, err := a.sessions.GetActive(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return 0, newError(ReasonNoSession, "no active session")
	}
	if err != nil {
		a.logger.Error("session lookup failed", "identity", identity, "error", err)
		return 0, internalError("failed to increment message count", err)
	}
	if sess.MessageCount >= a.cfg.MaxMessages {
		return sess.MessageCount, newError(ReasonLimitReached, "message limit reached")
	}

	next := sess.MessageCount + 1
	if err := a.sessions.Update(ctx, identity, store.SessionPatch{MessageCount: &next}); err != nil {
		a.logger.Error("message count update failed", "identity", identity, "error", err)
		return 0, internalError("failed to increment message count", err)
	}
	return next, nil
}

// ConversationStart is the result of StartConversation.
type ConversationStart struct {
	SessionID     string
	MessageCount  int
	TimeRemaining time.Duration
}

// StartConversation flips the conversation timer on and consumes exactly one
// unit of the identity's quota. Creating a session is free; starting the
// conversation is the billing event.
func (a *Authority) StartConversation(ctx context.Context, identity string) (ConversationStart, error) {
	unlock := a.locks.lock(identity)
	defer unlock()

	sess, err := a.sessions.GetActive(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return ConversationStart{}, newError(ReasonNoSession, "no active session found")
	}
	if err != nil {
		a.logger.Error("session lookup failed", "identity", identity, "error", err)
		return ConversationStart{}, internalError("failed to start conversation", err)
	}
	if sess.ConversationActive {
		return ConversationStart{}, newError(ReasonConversationActive, "conversation is already active")
	}

	start := a.now()
	active := true
	if err := a.sessions.Update(ctx, identity, store.SessionPatch{
		ConversationActive: &active,
		ConversationStart:  &start,
	}); err != nil {
		a.logger.Error("conversation start update failed", "identity", identity, "error", err)
		return ConversationStart{}, internalError("failed to start conversation", err)
	}

	if !a.isAdmin(identity) {
		if _, err := a.creds.IncrementSessionsUsed(ctx, identity); err != nil {
			if errors.Is(err, store.ErrQuotaExceeded) {
				// Roll the timer back; the quota unit was never consumed.
				inactive := false
				if rbErr := a.sessions.Update(ctx, identity, store.SessionPatch{ConversationActive: &inactive}); rbErr != nil {
					a.logger.Error("conversation rollback failed", "identity", identity, "error", rbErr)
				}
				return ConversationStart{}, newError(ReasonQuotaExhausted, "session limit reached")
			}
			a.logger.Error("sessions used increment failed", "identity", identity, "error", err)
			return ConversationStart{}, internalError("failed to start conversation", err)
		}
	}

	a.logger.Info("conversation started", "identity", identity, "session_id", sess.ID)
	return ConversationStart{
		SessionID:     sess.ID,
		MessageCount:  sess.MessageCount,
		TimeRemaining: a.cfg.SessionDuration,
	}, nil
}

// StopConversation flips the conversation timer off. The consumed quota unit
// is not refunded.
func (a *Authority) StopConversation(ctx context.Context, identity string) error {
	unlock := a.locks.lock(identity)
	defer unlock()

	if _, err := a.sessions.GetActive(ctx, identity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ReasonNoSession, "no active session found")
		}
		a.logger.Error("session lookup failed", "identity", identity, "error", err)
		return internalError("failed to stop conversation", err)
	}

	inactive := false
	if err := a.sessions.Update(ctx, identity, store.SessionPatch{ConversationActive: &inactive}); err != nil {
		a.logger.Error("conversation stop update failed", "identity", identity, "error", err)
		return internalError("failed to stop conversation", err)
	}
	return nil
}

// ConversationClock reports the conversation timer state. When no
// conversation is running for an existing session, Remaining is the full
// fixed duration: a "ready" state, not zero.
type ConversationClock struct {
	Remaining time.Duration
	Active    bool
}

func (a *Authority) ConversationTimeRemaining(ctx context.Context, identity string) (ConversationClock, error) {
	sess, err := a.sessions.GetActive(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return ConversationClock{}, nil
	}
	if err != nil {
		a.logger.Error("session lookup failed", "identity", identity, "error", err)
		return ConversationClock{}, internalError("failed to read conversation timer", err)
	}
	if !sess.ConversationActive || sess.ConversationStart.IsZero() {
		return ConversationClock{Remaining: a.cfg.SessionDuration}, nil
	}

	remaining := a.cfg.SessionDuration - a.now().Sub(sess.ConversationStart)
	if remaining < 0 {
		remaining = 0
	}
	return ConversationClock{Remaining: remaining, Active: true}, nil
}

// SessionDetails is the result of SessionInfo.
type SessionDetails struct {
	SessionID     string
	MessageCount  int
	TimeRemaining time.Duration
}

// SessionInfo reports the current session's counters without refreshing
// activity or enforcing expiry.
func (a *Authority) SessionInfo(ctx context.Context, identity string) (SessionDetails, error) {
	sess, err := a.sessions.GetActive(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return SessionDetails{}, newError(ReasonNoSession, "no active session")
	}
	if err != nil {
		a.logger.Error("session lookup failed", "identity", identity, "error", err)
		return SessionDetails{}, internalError("failed to get session info", err)
	}

	remaining := sess.StartTime.Add(a.cfg.SessionDuration).Sub(a.now())
	if remaining < 0 {
		remaining = 0
	}
	return SessionDetails{
		SessionID:     sess.ID,
		MessageCount:  sess.MessageCount,
		TimeRemaining: remaining,
	}, nil
}

// EndSession deactivates the identity's session. Already-inactive is not an
// error.
func (a *Authority) EndSession(ctx context.Context, identity string) error {
	unlock := a.locks.lock(identity)
	defer unlock()

	if err := a.sessions.Deactivate(ctx, identity); err != nil {
		a.logger.Error("session deactivate failed", "identity", identity, "error", err)
		return internalError("failed to end session", err)
	}
	a.logger.Info("session ended", "identity", identity)
	return nil
}

// ResetSessionsUsed zeroes the identity's quota counter and force-deactivates
// any active session. A deactivation failure after a successful reset is
// surfaced as an overall failure so the admin retries rather than leaving a
// dangling active session.
func (a *Authority) ResetSessionsUsed(ctx context.Context, identity string) error {
	unlock := a.locks.lock(identity)
	defer unlock()

	if err := a.creds.ResetSessionsUsed(ctx, identity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ReasonNotFound, "credential not found")
		}
		a.logger.Error("sessions used reset failed", "identity", identity, "error", err)
		return internalError("failed to reset sessions", err)
	}
	if err := a.sessions.Deactivate(ctx, identity); err != nil {
		a.logger.Error("session deactivate during reset failed", "identity", identity, "error", err)
		return internalError("failed to deactivate session after reset", err)
	}
	return nil
}
