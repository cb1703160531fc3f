// Package apperr defines the error taxonomy shared by PeeRly services and
// its mapping onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// Error attaches a user-facing message to one of the sentinels.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an *Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Invalid is shorthand for New(ErrInvalid, msg).
func Invalid(msg string) *Error { return New(ErrInvalid, msg) }

// NotFound is shorthand for New(ErrNotFound, msg).
func NotFound(msg string) *Error { return New(ErrNotFound, msg) }

// Forbidden is shorthand for New(ErrForbidden, msg).
func Forbidden(msg string) *Error { return New(ErrForbidden, msg) }

// IsTransient reports whether err is a network abort or cancellation that
// callers should drop without logging.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"aborted", "canceled", "cancelled", "connection reset", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Message returns the text safe to show a user. Internal errors are
// reported generically.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if Status(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
