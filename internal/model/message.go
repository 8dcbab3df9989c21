package model

import "time"

// FolderRole names a logical mailbox role. The physical folder name is
// resolved per provider by the folder locator.
type FolderRole string

const (
	// RoleInbox is the incoming mail folder.
	RoleInbox FolderRole = "inbox"

	// RoleSent is the sent-mail folder.
	RoleSent FolderRole = "sent"
)

// MessageSummary is the envelope-level view of one message, as
// returned by inbox listing.
type MessageSummary struct {
	// Identifier is the stable opaque message identifier (the
	// Message-ID header). It survives reconnects and folder
	// reselection.
	Identifier string `json:"identifier"`

	// UID is the server-assigned unique number within the folder.
	UID uint32 `json:"uid"`

	// Subject is the message subject.
	Subject string `json:"subject"`

	// From is the sender display name or address.
	From string `json:"from"`

	// To lists the recipient addresses.
	To []string `json:"to"`

	// Date is the message date from the envelope.
	Date time.Time `json:"date"`

	// Seen, Flagged, and Answered mirror the server-side flags.
	Seen     bool `json:"seen"`
	Flagged  bool `json:"flagged"`
	Answered bool `json:"answered"`
}

// Attachment holds metadata about a message attachment.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// RawMessage is the full content of one fetched message.
type RawMessage struct {
	// Identifier is the opaque identifier the message was fetched by.
	Identifier string `json:"identifier"`

	// Folder is the physical folder the message was read from.
	Folder string `json:"folder"`

	// Summary is the envelope-level view of the message.
	Summary MessageSummary `json:"summary"`

	// Raw is the unparsed RFC 5322 message source.
	Raw []byte `json:"-"`

	// TextBody is the decoded text/plain part, if any.
	TextBody string `json:"text_body"`

	// HTMLBody is the decoded text/html part, if any.
	HTMLBody string `json:"html_body"`

	// Attachments holds metadata for each attachment part.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// OutboundMessage is a message to be delivered. At least one of
// TextBody or HTMLBody must be set.
type OutboundMessage struct {
	// To lists the recipient addresses. At least one is required.
	To []string `json:"to"`

	// Cc lists the carbon-copy addresses.
	Cc []string `json:"cc,omitempty"`

	// Subject is the message subject.
	Subject string `json:"subject"`

	// TextBody is the plain-text body.
	TextBody string `json:"text_body"`

	// HTMLBody is the rich (HTML) body.
	HTMLBody string `json:"html_body"`
}

// Recipients returns all envelope recipients (To and Cc).
func (m OutboundMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return out
}
