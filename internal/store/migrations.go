package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	from_address  TEXT NOT NULL DEFAULT '',
	imap_host     TEXT NOT NULL,
	imap_port     TEXT NOT NULL,
	imap_security TEXT NOT NULL DEFAULT 'tls',
	imap_username TEXT NOT NULL,
	smtp_host     TEXT NOT NULL,
	smtp_port     TEXT NOT NULL,
	smtp_security TEXT NOT NULL DEFAULT 'tls',
	smtp_username TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS delivery_records (
	id          TEXT PRIMARY KEY,
	recipients  TEXT NOT NULL DEFAULT '[]',
	subject     TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	attempts    TEXT NOT NULL DEFAULT '[]',
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id                 TEXT PRIMARY KEY,
	message_identifier TEXT NOT NULL DEFAULT '',
	message            TEXT NOT NULL,
	read               INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_profiles_active ON profiles(active);
CREATE INDEX IF NOT EXISTS idx_delivery_outcome ON delivery_records(outcome);
CREATE INDEX IF NOT EXISTS idx_delivery_created ON delivery_records(created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
