// Package apperr defines the error taxonomy shared by the chat modules.
//
// Every failure that can reach a client is an *Error carrying a Kind. Kinds
// survive request-reply boundaries through Body, and map to WebSocket error
// codes and HTTP statuses at the edge.
package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies an error.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// AccessDenied is the message shown for both not_found and unauthorized on
// read paths, so callers cannot tell which applied.
const AccessDenied = "access denied"

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same Kind, so sentinel values built
// with New can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates an error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Auth(msg string) error         { return New(KindAuth, msg) }
func Validation(msg string) error   { return New(KindValidation, msg) }
func Conflict(msg string) error     { return New(KindConflict, msg) }
func NotFound(msg string) error     { return New(KindNotFound, msg) }
func Unauthorized(msg string) error { return New(KindUnauthorized, msg) }
func RateLimited(msg string) error  { return New(KindRateLimited, msg) }

// Unavailable wraps a persistence or transport failure as retryable.
func Unavailable(msg string, cause error) error {
	return Wrap(KindUnavailable, msg, cause)
}

// Internal wraps an unexpected failure.
func Internal(msg string, cause error) error {
	return Wrap(KindInternal, msg, cause)
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindRateLimited:
		return true
	}
	return false
}

// PublicMessage returns the text safe to show a client. Internal causes are
// never exposed, and not_found/unauthorized collapse into AccessDenied.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindNotFound, KindUnauthorized:
		return AccessDenied
	case KindInternal:
		return "internal error"
	case KindUnavailable:
		return "service temporarily unavailable, please retry"
	}
	return e.Message
}

// Store classifies an error returned by a persistence driver. Timeouts and
// broken connections become KindUnavailable; errors that are already
// classified pass through unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if isTransient(err) {
		return Unavailable(op, err)
	}
	return Internal(op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Body is the wire form of an error inside request-reply responses.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToBody converts err for transport. A nil error yields a nil Body.
func ToBody(err error) *Body {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Kind == KindInternal || e.Kind == KindUnavailable {
			msg = e.Error()
		}
		return &Body{Kind: e.Kind, Message: msg}
	}
	return &Body{Kind: KindInternal, Message: err.Error()}
}

// Err converts a received Body back into an error. A nil Body yields nil.
func (b *Body) Err() error {
	if b == nil {
		return nil
	}
	return New(b.Kind, b.Message)
}
