package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies every failure that crosses a layer boundary.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindNotFound
	KindForbidden
	KindRestricted
	KindRateLimited
	KindTransient
	KindInvalidState
	KindVanished
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindUnauthenticated: "unauthenticated",
	KindNotFound:        "not_found",
	KindForbidden:       "forbidden",
	KindRestricted:      "restricted",
	KindRateLimited:     "rate_limited",
	KindTransient:       "transient",
	KindInvalidState:    "invalid_state",
	KindVanished:        "vanished",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Sentinels for errors.Is. Each matches any *Error of the same kind.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrRestricted      = &Error{Kind: KindRestricted}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrTransient       = &Error{Kind: KindTransient}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrVanished        = &Error{Kind: KindVanished}
)

// Error is the tagged error type shared by the remote client, the orchestration layers and the HTTP boundary.
type Error struct {
	Kind       Kind
	Op         string
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels: a target with no Op, Status or Message compares by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Status != 0 || t.Message != "" {
		return e == t
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status recorded in err's chain, 0 if none.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// RetryAfterOf returns the server-provided retry hint, 0 if none.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Retryable reports whether the remote flagged the failure as worth repeating:
// rate limiting, 502/503/504 and transport errors.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindRateLimited:
		return true
	case KindTransient:
		switch e.Status {
		case 0, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}
