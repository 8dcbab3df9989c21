package model

import "time"

// Notification represents an alert surfaced to the user about new
// inbox activity.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// MessageIdentifier links this notification to the message that
	// triggered it, when there is one.
	MessageIdentifier string `json:"message_identifier"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}
