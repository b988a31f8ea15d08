// Package apperr classifies every way a proxied request can be refused and
// maps each class to the HTTP status the client sees.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Kind string

const (
	RateLimitExceeded    Kind = "rate_limit_exceeded"
	MalformedRequest     Kind = "malformed_request"
	InvalidTable         Kind = "invalid_table"
	MaliciousInput       Kind = "malicious_input"
	MaliciousIdentifier  Kind = "malicious_identifier"
	Unauthenticated      Kind = "unauthenticated"
	Unauthorized         Kind = "unauthorized"
	UnsupportedMethod    Kind = "unsupported_method"
	StoreOperationFailed Kind = "store_operation_failed"
	StoreUnavailable     Kind = "store_unavailable"
	UnexpectedFailure    Kind = "unexpected_failure"
)

// Error is a classified failure. Key is an English format string that doubles
// as the message catalog key; Args fill it.
type Error struct {
	Kind Kind
	Key  string
	Args []any
	Err  error
}

func New(kind Kind, key string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Args: args}
}

func Wrap(kind Kind, err error, key string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Args: args, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf(e.Key, e.Args...)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Localize renders the client-facing message in the given language.
// The wrapped cause is never included.
func (e *Error) Localize(tag language.Tag) string {
	return message.NewPrinter(tag).Sprintf(e.Key, e.Args...)
}

// KindOf reports the classification of err. Anything unclassified is an
// unexpected failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnexpectedFailure
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case MalformedRequest, InvalidTable, MaliciousInput, MaliciousIdentifier, UnsupportedMethod, StoreOperationFailed:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Unauthorized:
		return http.StatusForbidden
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the localized message for err, or the generic
// internal error message when err is not classified.
func ClientMessage(err error, tag language.Tag) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != UnexpectedFailure {
		return e.Localize(tag)
	}
	return message.NewPrinter(tag).Sprintf(MsgInternal)
}
