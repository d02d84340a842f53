// Package apierror converts internal errors into the HTTP JSON error
// envelope. Unknown errors are reported as a generic internal error so store
// and backend details never leak to clients.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/store"
	"github.com/voxgate/voxgate/pkg/token"
)

// ErrorType is the wire-visible error category.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrQuota          ErrorType = "quota_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrAPI            ErrorType = "api_error"
)

type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps err to the wire error and its HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: ErrAPI, Message: "request cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	if errors.Is(err, token.ErrInvalidToken) {
		return &Error{Type: ErrAuthentication, Message: "invalid or expired token", RequestID: requestID}, http.StatusUnauthorized
	}

	var authErr *authority.Error
	if errors.As(err, &authErr) && authErr != nil {
		errType, status := fromReason(authErr.Reason)
		return &Error{Type: errType, Message: authErr.Message, RequestID: requestID}, status
	}

	// Store errors reaching here bypassed the authority; map the sentinels
	// and keep everything else opaque.
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Type: ErrNotFound, Message: "not found", RequestID: requestID}, http.StatusNotFound
	}
	if errors.Is(err, store.ErrDuplicate) {
		return &Error{Type: ErrConflict, Message: "already exists", RequestID: requestID}, http.StatusConflict
	}

	return &Error{Type: ErrAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func fromReason(reason authority.Reason) (ErrorType, int) {
	switch reason {
	case authority.ReasonBadCredentials:
		return ErrAuthentication, http.StatusUnauthorized
	case authority.ReasonInactive:
		return ErrPermission, http.StatusForbidden
	case authority.ReasonQuotaExhausted, authority.ReasonLimitReached:
		return ErrQuota, http.StatusTooManyRequests
	case authority.ReasonNoSession, authority.ReasonExpired:
		return ErrAuthentication, http.StatusUnauthorized
	case authority.ReasonAlreadyActive, authority.ReasonConversationActive:
		return ErrConflict, http.StatusConflict
	case authority.ReasonNotFound:
		return ErrNotFound, http.StatusNotFound
	default:
		return ErrAPI, http.StatusInternalServerError
	}
}

// Write renders err as the JSON envelope on w.
func Write(w http.ResponseWriter, err error, requestID string) {
	wireErr, status := FromError(err, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: wireErr})
}

// WriteMessage renders a literal error without an underlying error value.
func WriteMessage(w http.ResponseWriter, errType ErrorType, message, requestID string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: &Error{Type: errType, Message: message, RequestID: requestID}})
}
