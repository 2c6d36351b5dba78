// Package apperr defines the error taxonomy shared by the transport client,
// the retry policy and the booking state machines.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for retry and presentation decisions.
type Kind string

const (
	// KindValidation means a precondition failed locally; no network call was made.
	KindValidation Kind = "validation"
	// KindUnauthorized means the backend considers the session invalid.
	KindUnauthorized Kind = "unauthorized"
	// KindServerError is a non-2xx, non-4xx HTTP status or an unreadable payload.
	KindServerError Kind = "server_error"
	// KindApplication means the envelope carried code != 1.
	KindApplication Kind = "application_error"
	// KindSlotFetchFailed means slot availability could not be loaded after retries.
	KindSlotFetchFailed Kind = "slot_fetch_failed"
	// KindNetwork is a transport-level failure before any response arrived.
	KindNetwork Kind = "network"
)

const (
	genericMessage      = "Something went wrong. Please try again."
	networkMessage      = "Network or server error. Please try again."
	unauthorizedMessage = "Your session has expired. Please log in again."
	slotFetchMessage    = "Failed to load slots. Please try again or pick another date."
)

// ErrOutcomeUnknown marks a failure after which the backend may already have
// applied the request, such as an unreadable 2xx reply to a mutating call.
// Such failures are never retried.
var ErrOutcomeUnknown = errors.New("outcome unknown")

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	// Detail carries the raw server-side text when it differs from Message.
	Detail string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap implements the unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsAuthProblem reports whether err denotes an authorization or session problem,
// either by kind or by message text for errors that escaped classification.
func IsAuthProblem(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, KindUnauthorized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unauthorized", "unauthorised", "session expired", "authorization", "forbidden"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsAuthProblem(err) || errors.Is(err, ErrOutcomeUnknown) {
		return false
	}
	switch k, _ := KindOf(err); k {
	case KindApplication, KindValidation:
		return false
	}
	return true
}

// UserMessage maps any error to a single human-readable string.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		return genericMessage
	}
	switch appErr.Kind {
	case KindUnauthorized:
		return unauthorizedMessage
	case KindApplication, KindValidation:
		if appErr.Message != "" {
			return appErr.Message
		}
		return genericMessage
	case KindSlotFetchFailed:
		return slotFetchMessage
	case KindNetwork, KindServerError:
		return networkMessage
	default:
		return genericMessage
	}
}
