package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error is a non-2xx response from the remote API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a 429-class backpressure signal.
func IsRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsAuth reports whether err requires user re-authentication. Auth failures
// are terminal for the cycle and must not be auto-retried.
func IsAuth(err error) bool {
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	var apiErr *Error
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// IsConflict reports whether err is a 409: an idempotency key replayed with a
// different payload. The pusher resolves these by dropping the local
// duplicate, never by retrying.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsTransient reports whether err is worth retrying on a later cycle:
// timeouts, connection failures, and 5xx responses.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
