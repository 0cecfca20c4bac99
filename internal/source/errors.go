package source

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a normalized source failure.
type Kind int

const (
	// KindNotFound means the symbol or resource is not available on this
	// source. Terminal for the source, but the coordinator may fall back.
	KindNotFound Kind = iota + 1

	// KindRateLimited means the upstream throttled the request. Retryable.
	KindRateLimited

	// KindTimeout means the request exceeded its deadline. Retryable.
	KindTimeout

	// KindConnection means a transport-level failure reaching the upstream,
	// including malformed responses. Retryable.
	KindConnection

	// KindAuth means the upstream rejected our credentials. Terminal;
	// never retried and never falls back.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection_failure"
	case KindAuth:
		return "authentication_failure"
	default:
		return "unknown"
	}
}

// Error is a source failure normalized into the shared taxonomy. Adapters
// convert upstream-specific errors into Errors; the layers above them
// (retry policy, fetch coordinator) decide on Kind alone and never inspect
// upstream detail.
type Error struct {
	Kind     Kind
	Exchange string
	Message  string
	Err      error // underlying cause, may be nil
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Exchange, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// Errorf builds a taxonomy error with a formatted message.
func Errorf(kind Kind, exchange, format string, args ...any) *Error {
	return &Error{Kind: kind, Exchange: exchange, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a taxonomy error around an underlying cause.
func Wrap(kind Kind, exchange string, err error) *Error {
	return &Error{Kind: kind, Exchange: exchange, Message: err.Error(), Err: err}
}

// Retryable reports whether err should trigger a retry. Bare context
// deadline errors count as timeouts (per-attempt deadlines expiring before
// an adapter could normalize them). Anything outside the taxonomy is
// terminal.
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// KindOf returns the taxonomy kind carried by err, or zero when err
// carries none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsNotFound reports whether err is a not-found taxonomy failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsAuth reports whether err is an authentication taxonomy failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }
