package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nlr-erp/opsmail/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// === Profiles ===

// profileRow is the flat database shape of a profile. Secrets are not
// stored here; the profile provider fills them from the keyring.
type profileRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	FromAddress  string    `db:"from_address"`
	IMAPHost     string    `db:"imap_host"`
	IMAPPort     string    `db:"imap_port"`
	IMAPSecurity string    `db:"imap_security"`
	IMAPUsername string    `db:"imap_username"`
	SMTPHost     string    `db:"smtp_host"`
	SMTPPort     string    `db:"smtp_port"`
	SMTPSecurity string    `db:"smtp_security"`
	SMTPUsername string    `db:"smtp_username"`
	Active       int       `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r profileRow) toModel() model.Profile {
	return model.Profile{
		ID:          r.ID,
		Name:        r.Name,
		FromAddress: r.FromAddress,
		IMAP: model.Endpoint{
			Host:     r.IMAPHost,
			Port:     r.IMAPPort,
			Security: model.SecurityMode(r.IMAPSecurity),
			Username: r.IMAPUsername,
		},
		SMTP: model.Endpoint{
			Host:     r.SMTPHost,
			Port:     r.SMTPPort,
			Security: model.SecurityMode(r.SMTPSecurity),
			Username: r.SMTPUsername,
		},
		Active:    r.Active != 0,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// UpsertProfile inserts or replaces a profile and returns its ID.
// If the profile has no ID, a new UUID is generated.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.Profile) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = time.Now().UTC()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO profiles (
			id, name, from_address,
			imap_host, imap_port, imap_security, imap_username,
			smtp_host, smtp_port, smtp_security, smtp_username,
			active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.FromAddress,
		p.IMAP.Host, p.IMAP.Port, string(p.IMAP.Security), p.IMAP.Username,
		p.SMTP.Host, p.SMTP.Port, string(p.SMTP.Security), p.SMTP.Username,
		boolToInt(p.Active), p.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("upserting profile %s: %w", p.ID, err)
	}
	return p.ID, nil
}

// GetProfiles retrieves all profiles ordered by name.
func (s *SQLiteStore) GetProfiles(ctx context.Context) ([]model.Profile, error) {
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM profiles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}

	profiles := make([]model.Profile, len(rows))
	for i, r := range rows {
		profiles[i] = r.toModel()
	}
	return profiles, nil
}

// GetProfileByID retrieves a single profile by its ID.
func (s *SQLiteStore) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM profiles WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting profile %s: %w", id, err)
	}
	p := row.toModel()
	return &p, nil
}

// GetActiveProfile retrieves the active profile, or nil when no
// profile is active.
func (s *SQLiteStore) GetActiveProfile(ctx context.Context) (*model.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM profiles WHERE active = 1 LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active profile: %w", err)
	}
	p := row.toModel()
	return &p, nil
}

// SetActiveProfile marks the given profile active and deactivates all
// others, keeping exactly one profile active system-wide.
func (s *SQLiteStore) SetActiveProfile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE profiles SET active = 0 WHERE active = 1"); err != nil {
		return fmt.Errorf("deactivating profiles: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE profiles SET active = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("activating profile %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking activation of %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("profile %s not found", id)
	}

	return tx.Commit()
}

// DeleteProfile removes a profile by ID.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting profile %s: %w", id, err)
	}
	return nil
}

// === Delivery records ===

// SaveDeliveryRecord persists a terminal delivery record. Records are
// append-only; saving the same ID twice is an error.
func (s *SQLiteStore) SaveDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error {
	recipients, err := json.Marshal(rec.To)
	if err != nil {
		return fmt.Errorf("marshaling recipients for record %s: %w", rec.ID, err)
	}
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return fmt.Errorf("marshaling attempts for record %s: %w", rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (
			id, recipients, subject, outcome, attempts, last_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(recipients), rec.Subject, rec.Outcome,
		string(attempts), rec.LastError, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving delivery record %s: %w", rec.ID, err)
	}
	return nil
}

// deliveryRow is the flat database shape of a delivery record.
type deliveryRow struct {
	ID         string    `db:"id"`
	Recipients string    `db:"recipients"`
	Subject    string    `db:"subject"`
	Outcome    string    `db:"outcome"`
	Attempts   string    `db:"attempts"`
	LastError  string    `db:"last_error"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r deliveryRow) toModel() (model.DeliveryRecord, error) {
	rec := model.DeliveryRecord{
		ID:        r.ID,
		Subject:   r.Subject,
		Outcome:   r.Outcome,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Recipients), &rec.To); err != nil {
		return rec, fmt.Errorf("unmarshaling recipients for record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Attempts), &rec.Attempts); err != nil {
		return rec, fmt.Errorf("unmarshaling attempts for record %s: %w", r.ID, err)
	}
	return rec, nil
}

// GetDeliveryRecords retrieves delivery records matching the filter,
// newest first.
func (s *SQLiteStore) GetDeliveryRecords(ctx context.Context, filter DeliveryFilter) ([]model.DeliveryRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.Outcome != nil {
		conditions = append(conditions, "outcome = ?")
		args = append(args, *filter.Outcome)
	}

	query := "SELECT * FROM delivery_records"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var rows []deliveryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying delivery records: %w", err)
	}

	records := make([]model.DeliveryRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetDeliveryRecordByID retrieves a single delivery record by its ID.
func (s *SQLiteStore) GetDeliveryRecordByID(ctx context.Context, id string) (*model.DeliveryRecord, error) {
	var row deliveryRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM delivery_records WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting delivery record %s: %w", id, err)
	}
	rec, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// === Notifications ===

// CreateNotification inserts a new notification.
// If the notification has no ID, a new UUID is generated.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, message_identifier, message, read, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.MessageIdentifier, n.Message, boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification %s: %w", n.ID, err)
	}
	return nil
}

// notificationRow is the flat database shape of a notification.
type notificationRow struct {
	ID                string    `db:"id"`
	MessageIdentifier string    `db:"message_identifier"`
	Message           string    `db:"message"`
	Read              int       `db:"read"`
	CreatedAt         time.Time `db:"created_at"`
}

// GetUnreadNotifications retrieves unread notifications, newest first.
func (s *SQLiteStore) GetUnreadNotifications(ctx context.Context) ([]model.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM notifications WHERE read = 0 ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	out := make([]model.Notification, len(rows))
	for i, r := range rows {
		out[i] = model.Notification{
			ID:                r.ID,
			MessageIdentifier: r.MessageIdentifier,
			Message:           r.Message,
			Read:              r.Read != 0,
			CreatedAt:         r.CreatedAt,
		}
	}
	return out, nil
}

// MarkNotificationRead marks a notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
