// Package errs defines the error taxonomy used across the gateway.
// Callers branch on the Kind of an error rather than matching message
// strings; the HTTP layer maps kinds onto response status codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary handling.
type Kind int

const (
	// Internal is an unexpected failure. Detail is logged, never returned
	// to the caller.
	Internal Kind = iota
	// Validation is malformed caller input: bad XML, empty or oversized
	// batch, missing fields.
	Validation
	// Auth is a missing, invalid, or expired credential.
	Auth
	// NotFound is an unknown protocol or resource.
	NotFound
	// RateLimited is a rejected request under quota.
	RateLimited
	// Upstream is a non-2xx or transport failure from the integration
	// partner.
	Upstream
	// Timeout is an upstream call exceeding its deadline. Kept distinct
	// from Upstream so retry accounting can tell them apart.
	Timeout
)

// Error carries a kind alongside a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error wrapping err with the given kind and message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err, or Internal if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code returned to clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Auth:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case Upstream, Timeout, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// String returns the wire label for the kind, used in error envelopes.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "Validation Error"
	case Auth:
		return "Unauthorized"
	case NotFound:
		return "Not Found"
	case RateLimited:
		return "Rate Limit Exceeded"
	case Upstream:
		return "Upstream Error"
	case Timeout:
		return "Upstream Timeout"
	default:
		return "Internal Server Error"
	}
}
