package mail

import (
	"context"
	"sync"
	"testing"

	"github.com/nlr-erp/opsmail/internal/model"
)

func newTestService(t *testing.T, dialer *fakeDialer, profiles ProfileProvider) *Service {
	t.Helper()
	factory := newTestFactory(dialer)
	locator := NewLocator(nil)
	manager := NewManager(profiles, factory, nil)
	t.Cleanup(func() { _ = manager.Close() })
	gateway := NewGateway(profiles, factory, locator, nil)
	dispatcher := NewDispatcher(profiles, &fakeRecorder{}, factory, locator, nil)
	dispatcher.AppendToSent = false
	return NewService(manager, gateway, dispatcher, locator, testTimeouts(), nil)
}

func inboxDialer(total uint32) *fakeDialer {
	return &fakeDialer{make: func() *fakeConn {
		return &fakeConn{selectCounts: map[string]uint32{"INBOX": total}}
	}}
}

func TestListMessagesEmptyMailbox(t *testing.T) {
	svc := newTestService(t, inboxDialer(0), &fakeProfiles{p: testProfile()})

	list, err := svc.ListMessages(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if list.Total != 0 || len(list.Items) != 0 || list.HasMore {
		t.Errorf("list = %+v, want empty page", list)
	}
}

func TestListMessagesNewestFirst(t *testing.T) {
	svc := newTestService(t, inboxDialer(10), &fakeProfiles{p: testProfile()})

	list, err := svc.ListMessages(context.Background(), 3, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if list.Total != 10 {
		t.Errorf("total = %d, want 10", list.Total)
	}
	if !list.HasMore {
		t.Error("HasMore = false, want true with 7 older messages left")
	}
	want := []string{"id-10", "id-9", "id-8"}
	if len(list.Items) != len(want) {
		t.Fatalf("items = %d, want %d", len(list.Items), len(want))
	}
	for i, id := range want {
		if list.Items[i].Identifier != id {
			t.Errorf("item %d = %q, want %q", i, list.Items[i].Identifier, id)
		}
	}
}

func TestListMessagesLastPage(t *testing.T) {
	svc := newTestService(t, inboxDialer(10), &fakeProfiles{p: testProfile()})

	list, err := svc.ListMessages(context.Background(), 5, 8)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if list.HasMore {
		t.Error("HasMore = true on the last page")
	}
	want := []string{"id-2", "id-1"}
	if len(list.Items) != len(want) {
		t.Fatalf("items = %d, want %d", len(list.Items), len(want))
	}
	for i, id := range want {
		if list.Items[i].Identifier != id {
			t.Errorf("item %d = %q, want %q", i, list.Items[i].Identifier, id)
		}
	}
}

func TestListMessagesOffsetPastEnd(t *testing.T) {
	svc := newTestService(t, inboxDialer(4), &fakeProfiles{p: testProfile()})

	list, err := svc.ListMessages(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list.Items) != 0 || list.HasMore {
		t.Errorf("list = %+v, want empty page past the end", list)
	}
	if list.Total != 4 {
		t.Errorf("total = %d, want 4", list.Total)
	}
}

func TestListMessagesReusesSharedSession(t *testing.T) {
	dialer := inboxDialer(3)
	svc := newTestService(t, dialer, &fakeProfiles{p: testProfile()})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.ListMessages(ctx, 10, 0); err != nil {
			t.Fatalf("ListMessages #%d: %v", i+1, err)
		}
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 shared session across listings", got)
	}
}

// Listings racing the manager's invalidation path must never observe
// a half-torn-down session: every outcome is either a page or a
// classified error. Run with -race to check the synchronization.
func TestListMessagesSurvivesConcurrentInvalidation(t *testing.T) {
	dialer := inboxDialer(5)
	profiles := &fakeProfiles{p: testProfile()}
	factory := newTestFactory(dialer)
	locator := NewLocator(nil)
	manager := NewManager(profiles, factory, nil)
	t.Cleanup(func() { _ = manager.Close() })
	svc := NewService(manager, NewGateway(profiles, factory, locator, nil), nil, locator, testTimeouts(), nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 25; j++ {
				_, err := svc.ListMessages(context.Background(), 3, 0)
				if err != nil && ClassificationOf(err) == "" {
					t.Errorf("unclassified error escaped: %v", err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for j := 0; j < 25; j++ {
			manager.Invalidate()
		}
	}()
	close(start)
	wg.Wait()
}

func TestSendMessageRejectsEmptyRecipients(t *testing.T) {
	svc := newTestService(t, inboxDialer(0), &fakeProfiles{p: testProfile()})

	_, err := svc.SendMessage(context.Background(), model.OutboundMessage{
		Subject:  "no recipients",
		TextBody: "body",
	})
	if got := ClassificationOf(err); got != ClassProtocolError {
		t.Errorf("classification = %q, want ProtocolError", got)
	}
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	svc := newTestService(t, inboxDialer(0), &fakeProfiles{p: testProfile()})

	_, err := svc.SendMessage(context.Background(), model.OutboundMessage{
		To:      []string{"someone@example.com"},
		Subject: "empty",
	})
	if err == nil {
		t.Fatal("expected an error for a bodiless message")
	}
}

func TestConnectivityProbe(t *testing.T) {
	dialer := inboxDialer(0)
	svc := newTestService(t, dialer, &fakeProfiles{p: testProfile()})

	if err := svc.TestConnectivity(context.Background()); err != nil {
		t.Fatalf("TestConnectivity: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", dialer.dialCount())
	}
	// The probe must not touch any folder.
	if selects, _, _, _ := dialer.conn(0).stats(); len(selects) != 0 {
		t.Errorf("selects = %v, want none from a connectivity probe", selects)
	}
}

func TestConnectivityProbeNoProfile(t *testing.T) {
	svc := newTestService(t, inboxDialer(0), &fakeProfiles{})

	err := svc.TestConnectivity(context.Background())
	if got := ClassificationOf(err); got != ClassNoActiveProfile {
		t.Errorf("classification = %q, want NoActiveProfile", got)
	}
}
