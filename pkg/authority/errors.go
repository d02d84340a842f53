package authority

import (
	"errors"
	"fmt"
)

// Reason tags an expected control-flow failure. Bad passwords, expired
// sessions and quota hits are results, not exceptions; only ReasonInternal
// hides an unexpected store error.
type Reason string

const (
	ReasonBadCredentials     Reason = "invalid_credentials"
	ReasonInactive           Reason = "account_inactive"
	ReasonQuotaExhausted     Reason = "quota_exhausted"
	ReasonNoSession          Reason = "no_session"
	ReasonAlreadyActive      Reason = "session_already_active"
	ReasonExpired            Reason = "session_expired"
	ReasonLimitReached       Reason = "message_limit_reached"
	ReasonConversationActive Reason = "conversation_already_active"
	ReasonNotFound           Reason = "not_found"
	ReasonInternal           Reason = "authority_error"
)

type Error struct {
	Reason  Reason
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func newError(reason Reason, message string) *Error {
	return &Error{Reason: reason, Message: message}
}

// internalError wraps an unexpected store failure without leaking its text
// to callers; the original error stays reachable for logging via Unwrap.
func internalError(message string, err error) *Error {
	return &Error{Reason: ReasonInternal, Message: message, err: err}
}

// ReasonOf extracts the Reason from err, or ReasonInternal when err is not
// an authority error.
func ReasonOf(err error) Reason {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ReasonInternal
}

// IsReason reports whether err carries the given reason.
func IsReason(err error, reason Reason) bool {
	return ReasonOf(err) == reason
}

// MessageOf returns a client-safe description of err. Internal failures are
// masked; expected control-flow failures keep their message.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Reason != ReasonInternal {
		return ae.Message
	}
	return "internal error"
}
