package model

import "time"

// SecurityMode selects how the transport is secured when connecting
// to a mail server.
type SecurityMode string

const (
	// SecurityTLS uses an implicit TLS connection from the first byte.
	SecurityTLS SecurityMode = "tls"

	// SecurityStartTLS connects in plaintext and upgrades via STARTTLS.
	SecurityStartTLS SecurityMode = "starttls"
)

// Endpoint holds the connection settings for one mail server
// (inbound or outbound).
type Endpoint struct {
	// Host is the server hostname.
	Host string `json:"host" db:"host"`

	// Port is the server port as a string (e.g., "993", "465").
	Port string `json:"port" db:"port"`

	// Security selects implicit TLS or STARTTLS.
	Security SecurityMode `json:"security" db:"security"`

	// Username is the account login name.
	Username string `json:"username" db:"username"`

	// Password is the account secret. It is filled from the system
	// keyring at read time and never stored in the database.
	Password string `json:"-" db:"-"`
}

// Addr returns the host:port dial address for the endpoint.
func (e Endpoint) Addr() string {
	return e.Host + ":" + e.Port
}

// Profile is one configured mail account. Exactly one profile is
// active system-wide at any instant; the active profile is re-read on
// every operation because it can change between calls.
type Profile struct {
	// ID is the unique identifier for this profile.
	ID string `json:"id"`

	// Name is the user-defined label for this profile.
	Name string `json:"name"`

	// FromAddress is the sender address used for outbound mail.
	FromAddress string `json:"from_address"`

	// IMAP is the inbound server endpoint.
	IMAP Endpoint `json:"imap"`

	// SMTP is the outbound server endpoint.
	SMTP Endpoint `json:"smtp"`

	// Active marks this profile as the one in use.
	Active bool `json:"active"`

	// CreatedAt is when this profile was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this profile was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
