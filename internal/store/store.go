package store

import (
	"context"

	"github.com/nlr-erp/opsmail/internal/model"
)

// DeliveryFilter controls filtering and pagination for delivery record
// queries.
type DeliveryFilter struct {
	Outcome *string // "sent", "failed", or nil (all)
	Limit   int
	Offset  int
}

// Store defines the persistence interface for mail profiles, delivery
// records, and notifications.
type Store interface {
	// === Profiles ===

	UpsertProfile(ctx context.Context, p model.Profile) (string, error)
	GetProfiles(ctx context.Context) ([]model.Profile, error)
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
	GetActiveProfile(ctx context.Context) (*model.Profile, error)
	SetActiveProfile(ctx context.Context, id string) error
	DeleteProfile(ctx context.Context, id string) error

	// === Delivery records (append-only) ===

	SaveDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error
	GetDeliveryRecords(ctx context.Context, filter DeliveryFilter) ([]model.DeliveryRecord, error)
	GetDeliveryRecordByID(ctx context.Context, id string) (*model.DeliveryRecord, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}
