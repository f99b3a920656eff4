package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the remote API knows nothing about the
	// requested tournament, event or set.
	ErrNotFound = errors.New("remote resource not found")
)

// AuthError means the credential was rejected (401/403). It is fatal for the
// owning tournament's poll and is never retried.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote API rejected credential (status %d): %s", e.Status, e.Message)
}

// RateLimitError means the remote API returned 429. Classification is by
// transport status, not by message text. Retried internally.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("remote API rate limited, retry after %s", e.RetryAfter)
	}
	return "remote API rate limited"
}

// GraphQLError is one entry of a structured remote error payload.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// APIError carries the full list of remote business errors, not just the
// first one. Not retried.
type APIError struct {
	Operation string
	Errors    []GraphQLError
}

func (e *APIError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return fmt.Sprintf("remote API returned errors for %s: %s", e.Operation, strings.Join(msgs, "; "))
}

// IsAuthError reports whether err wraps a credential rejection.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimitError reports whether err wraps a 429 classification.
func IsRateLimitError(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsAPIError reports whether err wraps a structured remote rejection.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
