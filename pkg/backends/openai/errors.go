package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ErrorType categorizes API errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// Error represents an API error from OpenAI.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("openai: %s: %s", e.Type, e.Message)
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrRateLimit || e.Type == ErrAPI
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return &Error{Type: ErrAPI, Message: string(body), StatusCode: resp.StatusCode}
	}

	errType := ErrAPI
	switch resp.StatusCode {
	case http.StatusBadRequest:
		errType = ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrAuthentication
	case http.StatusTooManyRequests:
		errType = ErrRateLimit
	}
	return &Error{Type: errType, Message: parsed.Error.Message, StatusCode: resp.StatusCode}
}
