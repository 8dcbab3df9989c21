package mail

import (
	"strings"
	"testing"

	"github.com/nlr-erp/opsmail/internal/model"
)

// connectedSession returns a session wired to conn and already
// authenticated.
func connectedSession(t *testing.T, conn *fakeConn) *Session {
	t.Helper()
	dialer := &fakeDialer{make: func() *fakeConn { return conn }}
	sess := newTestFactory(dialer).New(testProfile().IMAP)
	if err := sess.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sess
}

func TestOpenInbox(t *testing.T) {
	conn := &fakeConn{selectCounts: map[string]uint32{"INBOX": 7}}
	sess := connectedSession(t, conn)

	folder, err := NewLocator(nil).Open(sess, model.RoleInbox)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if folder.Name != "INBOX" || folder.NumMessages != 7 {
		t.Errorf("folder = %+v, want INBOX with 7 messages", folder)
	}
	if sess.State() != StateFolderSelected {
		t.Errorf("state = %v, want folder_selected", sess.State())
	}
}

func TestOpenInboxFailsWithoutProbing(t *testing.T) {
	conn := &fakeConn{}
	sess := connectedSession(t, conn)

	_, err := NewLocator(nil).Open(sess, model.RoleInbox)
	if got := ClassificationOf(err); got != ClassFolderNotFound {
		t.Fatalf("classification = %q, want FolderNotFound (err: %v)", got, err)
	}
	if selects, _, _, _ := conn.stats(); len(selects) != 1 {
		t.Errorf("selects = %v, want exactly one attempt for the inbox role", selects)
	}
}

func TestOpenSentStopsAtFirstSuccess(t *testing.T) {
	candidates := []string{"Sent", "Sent Items", "Sent Messages", "Sendte elementer", "INBOX.Sent"}
	conn := &fakeConn{selectCounts: map[string]uint32{"Sendte elementer": 12}}
	sess := connectedSession(t, conn)

	locator := NewLocator(nil)
	locator.sentCandidates = candidates

	folder, err := locator.Open(sess, model.RoleSent)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if folder.Name != "Sendte elementer" {
		t.Errorf("folder = %q, want the 4th candidate", folder.Name)
	}
	if folder.NumMessages != 12 {
		t.Errorf("message count = %d, want 12", folder.NumMessages)
	}
	selects, _, _, _ := conn.stats()
	if len(selects) != 4 {
		t.Errorf("selects = %v, want probing to stop after the 4th candidate", selects)
	}
}

func TestOpenSentReportsEveryCandidateTried(t *testing.T) {
	conn := &fakeConn{}
	sess := connectedSession(t, conn)

	_, err := NewLocator(nil).Open(sess, model.RoleSent)
	cerr, ok := AsError(err)
	if !ok || cerr.Classification != ClassFolderNotFound {
		t.Fatalf("err = %v, want FolderNotFound", err)
	}
	for _, name := range defaultSentCandidates {
		if !strings.Contains(cerr.Message, name) {
			t.Errorf("error message %q does not name candidate %q", cerr.Message, name)
		}
	}
}
