// Package mail implements the connectivity core: the shared inbox
// session manager, the folder locator, the single-message fetch
// gateway, and the outbound delivery dispatcher.
package mail

import (
	"errors"
	"fmt"
)

// Classification names the failure category of a mail operation.
// Callers use it to decide whether a retry affordance makes sense.
type Classification string

const (
	// ClassNoActiveProfile: no connection profile is active.
	ClassNoActiveProfile Classification = "NoActiveProfile"

	// ClassAuthenticationFailed: the server rejected the credentials
	// during inbound login.
	ClassAuthenticationFailed Classification = "AuthenticationFailed"

	// ClassUnreachable: the server could not be reached (dial failure,
	// connection refused, timeout while connecting).
	ClassUnreachable Classification = "Unreachable"

	// ClassProtocolError: the server misbehaved at the protocol level.
	ClassProtocolError Classification = "ProtocolError"

	// ClassMailboxEmpty: the opened folder contains no messages.
	ClassMailboxEmpty Classification = "MailboxEmpty"

	// ClassMessageNotFound: the opaque identifier resolved to nothing,
	// or the fetched message did not match the requested identifier.
	ClassMessageNotFound Classification = "MessageNotFound"

	// ClassSearchTimeout: the identifier resolution search exceeded
	// its deadline. Distinct from not-found: the message may exist.
	ClassSearchTimeout Classification = "SearchTimeout"

	// ClassFetchTimeout: the body fetch exceeded its deadline.
	ClassFetchTimeout Classification = "FetchTimeout"

	// ClassFolderNotFound: no candidate folder name could be opened
	// for the requested role.
	ClassFolderNotFound Classification = "FolderNotFound"

	// ClassDeliveryTimeout: an outbound transmission attempt exceeded
	// its deadline.
	ClassDeliveryTimeout Classification = "DeliveryTimeout"

	// ClassDeliveryAuthFailed: the outbound server rejected the
	// credentials.
	ClassDeliveryAuthFailed Classification = "DeliveryAuthFailed"
)

// Error is the classified failure the connectivity core returns to its
// callers. Raw transport errors never cross the package boundary.
type Error struct {
	// Classification is the failure category.
	Classification Classification

	// Message is the human-readable description.
	Message string

	// Retryable reports whether the same call might succeed if simply
	// repeated.
	Retryable bool

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Classification, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Classification, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified error with the retryability implied by
// its classification.
func newError(class Classification, err error, format string, args ...any) *Error {
	return &Error{
		Classification: class,
		Message:        fmt.Sprintf(format, args...),
		Retryable:      classRetryable(class),
		Err:            err,
	}
}

// classRetryable reports whether a classification is worth a manual
// retry. Timeouts and reachability problems are transient; everything
// else is terminal for the same input.
func classRetryable(class Classification) bool {
	switch class {
	case ClassUnreachable, ClassSearchTimeout, ClassFetchTimeout, ClassDeliveryTimeout:
		return true
	default:
		return false
	}
}

// AsError extracts a classified *Error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ClassificationOf returns the classification of err, or an empty
// string when err carries none.
func ClassificationOf(err error) Classification {
	if e, ok := AsError(err); ok {
		return e.Classification
	}
	return ""
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}
