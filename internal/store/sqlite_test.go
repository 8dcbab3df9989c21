package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nlr-erp/opsmail/internal/model"
	"github.com/nlr-erp/opsmail/internal/store"
	"github.com/nlr-erp/opsmail/tests/testutil"
)

func sampleProfile(name string) model.Profile {
	return model.Profile{
		Name:        name,
		FromAddress: name + "@example.com",
		IMAP: model.Endpoint{
			Host: "imap.example.com", Port: "993",
			Security: model.SecurityTLS, Username: name,
		},
		SMTP: model.Endpoint{
			Host: "smtp.example.com", Port: "587",
			Security: model.SecurityStartTLS, Username: name,
		},
	}
}

func TestProfileRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertProfile(ctx, sampleProfile("ops"))
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	got, err := s.GetProfileByID(ctx, id)
	if err != nil {
		t.Fatalf("GetProfileByID: %v", err)
	}
	if got.Name != "ops" || got.IMAP.Host != "imap.example.com" {
		t.Errorf("profile = %+v", got)
	}
	if got.SMTP.Security != model.SecurityStartTLS {
		t.Errorf("smtp security = %q, want starttls", got.SMTP.Security)
	}
	if got.IMAP.Password != "" || got.SMTP.Password != "" {
		t.Error("passwords must never be persisted in the database")
	}

	got.Name = "ops-renamed"
	if _, err := s.UpsertProfile(ctx, *got); err != nil {
		t.Fatalf("UpsertProfile update: %v", err)
	}
	all, err := s.GetProfiles(ctx)
	if err != nil {
		t.Fatalf("GetProfiles: %v", err)
	}
	if len(all) != 1 || all[0].Name != "ops-renamed" {
		t.Errorf("profiles = %+v, want one renamed profile", all)
	}
}

func TestSetActiveProfileIsExclusive(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertProfile(ctx, sampleProfile("first"))
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	second, err := s.UpsertProfile(ctx, sampleProfile("second"))
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	active, err := s.GetActiveProfile(ctx)
	if err != nil {
		t.Fatalf("GetActiveProfile: %v", err)
	}
	if active != nil {
		t.Fatalf("active = %+v, want nil before any activation", active)
	}

	if err := s.SetActiveProfile(ctx, first); err != nil {
		t.Fatalf("SetActiveProfile(first): %v", err)
	}
	if err := s.SetActiveProfile(ctx, second); err != nil {
		t.Fatalf("SetActiveProfile(second): %v", err)
	}

	active, err = s.GetActiveProfile(ctx)
	if err != nil {
		t.Fatalf("GetActiveProfile: %v", err)
	}
	if active == nil || active.ID != second {
		t.Fatalf("active = %+v, want the second profile", active)
	}

	all, err := s.GetProfiles(ctx)
	if err != nil {
		t.Fatalf("GetProfiles: %v", err)
	}
	activeCount := 0
	for _, p := range all {
		if p.Active {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("active profiles = %d, want exactly 1", activeCount)
	}
}

func TestSetActiveProfileUnknownID(t *testing.T) {
	s := testutil.NewTestStore(t)

	if err := s.SetActiveProfile(context.Background(), "no-such-id"); err == nil {
		t.Fatal("expected an error activating an unknown profile")
	}
}

func TestDeliveryRecordRoundtrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	rec := &model.DeliveryRecord{
		ID:      "rec-1",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Quotation 1042",
		Outcome: model.DeliveryFailed,
		Attempts: []model.DeliveryAttempt{
			{Number: 1, Outcome: model.AttemptRetryableFailure, Classification: "Unreachable", Error: "dial tcp: refused"},
			{Number: 2, Outcome: model.AttemptRetryableFailure, Classification: "Unreachable", Error: "dial tcp: refused"},
		},
		LastError: "dial tcp: refused",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveDeliveryRecord(ctx, rec); err != nil {
		t.Fatalf("SaveDeliveryRecord: %v", err)
	}

	got, err := s.GetDeliveryRecordByID(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetDeliveryRecordByID: %v", err)
	}
	if len(got.To) != 2 || got.To[1] != "b@example.com" {
		t.Errorf("recipients = %v", got.To)
	}
	if len(got.Attempts) != 2 || got.Attempts[1].Classification != "Unreachable" {
		t.Errorf("attempts = %+v", got.Attempts)
	}

	// Records are append-only; a second save of the same ID must fail.
	if err := s.SaveDeliveryRecord(ctx, rec); err == nil {
		t.Error("expected an error re-saving an existing record")
	}
}

func TestGetDeliveryRecordsFilter(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, outcome := range []string{model.DeliverySent, model.DeliveryFailed, model.DeliverySent} {
		rec := &model.DeliveryRecord{
			ID:        string(rune('a' + i)),
			To:        []string{"x@example.com"},
			Outcome:   outcome,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveDeliveryRecord(ctx, rec); err != nil {
			t.Fatalf("SaveDeliveryRecord: %v", err)
		}
	}

	sent := model.DeliverySent
	recs, err := s.GetDeliveryRecords(ctx, store.DeliveryFilter{Outcome: &sent})
	if err != nil {
		t.Fatalf("GetDeliveryRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("sent records = %d, want 2", len(recs))
	}
	if recs[0].ID != "c" {
		t.Errorf("first record = %q, want the newest (c)", recs[0].ID)
	}

	recs, err = s.GetDeliveryRecords(ctx, store.DeliveryFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("GetDeliveryRecords paged: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "b" {
		t.Errorf("page = %+v, want just record b", recs)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	n := model.Notification{
		ID:                "n-1",
		MessageIdentifier: "msg-123@example.com",
		Message:           "New message: Quotation 1042",
	}
	if err := s.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	unread, err := s.GetUnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("GetUnreadNotifications: %v", err)
	}
	if len(unread) != 1 || unread[0].MessageIdentifier != "msg-123@example.com" {
		t.Fatalf("unread = %+v", unread)
	}

	if err := s.MarkNotificationRead(ctx, "n-1"); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	unread, err = s.GetUnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("GetUnreadNotifications: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("unread after mark = %d, want 0", len(unread))
	}
}
