// Package apierr classifies failures of gateway-mediated calls.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation" // server rejected the payload
	KindAuth       Kind = "auth"       // bad credentials or invalid/expired token
	KindNotFound   Kind = "not_found"  // stale id targeted by update/delete
	KindNetwork    Kind = "network"    // no response received
	KindInternal   Kind = "internal"   // any other non-2xx response
)

// Error is the rejected outcome of a remote call. Message is the server's
// {error} body when present, otherwise the caller's fallback.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an error with no HTTP status, e.g. a local validation failure.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an error around a transport-level cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, cause: cause}
}

// FromStatus maps an HTTP status to the taxonomy.
func FromStatus(op string, status int, message string) *Error {
	kind := KindInternal
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: message}
}

// KindOf returns the kind of err, or "" when err is not an apierr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAuth reports whether err is an authorization failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// MessageOf returns the recorded message, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
