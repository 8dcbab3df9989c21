package model

import "time"

// Delivery outcome constants. A delivery record is only ever persisted
// in a terminal state.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Attempt outcome constants.
const (
	AttemptSuccess          = "success"
	AttemptRetryableFailure = "retryable_failure"
	AttemptTerminalFailure  = "terminal_failure"
)

// DeliveryAttempt records one transmission attempt for an outbound
// message.
type DeliveryAttempt struct {
	// Number is the 1-based attempt counter.
	Number int `json:"number"`

	// Outcome is one of the Attempt* constants.
	Outcome string `json:"outcome"`

	// Classification is the error classification for failed attempts,
	// empty on success.
	Classification string `json:"classification,omitempty"`

	// Error is the error text for failed attempts.
	Error string `json:"error,omitempty"`

	// StartedAt and FinishedAt bound the attempt in time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// DeliveryRecord aggregates all attempts for one outbound message.
// It is persisted exactly once, after the retry loop ends, in a
// terminal state (sent or failed).
type DeliveryRecord struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`

	// To lists the envelope recipients.
	To []string `json:"to"`

	// Subject is the message subject.
	Subject string `json:"subject"`

	// Outcome is DeliverySent or DeliveryFailed.
	Outcome string `json:"outcome"`

	// Attempts holds every attempt made, in order.
	Attempts []DeliveryAttempt `json:"attempts"`

	// LastError is the final attempt's error text when Outcome is
	// failed, empty on success.
	LastError string `json:"last_error,omitempty"`

	// CreatedAt is when the record was persisted.
	CreatedAt time.Time `json:"created_at"`
}
