package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nlr-erp/opsmail/internal/model"
)

// testTimeouts returns generous budgets so only the phases a test
// deliberately starves ever expire.
func testTimeouts() model.TimeoutConfig {
	return model.TimeoutConfig{
		ConnectSec:      5,
		GreetingSec:     5,
		LivenessSec:     5,
		SearchSec:       5,
		FetchSec:        5,
		DeliverySec:     5,
		RetryBackoffSec: 0,
	}
}

func testProfile() *model.Profile {
	return &model.Profile{
		ID:          "p1",
		Name:        "test",
		FromAddress: "ops@example.com",
		IMAP: model.Endpoint{
			Host: "imap.example.com", Port: "993",
			Security: model.SecurityTLS, Username: "ops", Password: "secret",
		},
		SMTP: model.Endpoint{
			Host: "smtp.example.com", Port: "465",
			Security: model.SecurityTLS, Username: "ops", Password: "secret",
		},
		Active: true,
	}
}

// fakeProfiles is an in-memory ProfileProvider.
type fakeProfiles struct {
	mu    sync.Mutex
	p     *model.Profile
	err   error
	reads int
}

func (f *fakeProfiles) Active(context.Context) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.p, f.err
}

// fakeConn is a scriptable imapConn. Zero values behave like a healthy
// empty server; tests set fields to shape behavior and inspect the
// recorded calls afterwards.
type fakeConn struct {
	mu sync.Mutex

	greetingErr error
	loginErr    error

	// selectCounts maps folder names that open to their message count;
	// selecting any other folder fails.
	selectCounts map[string]uint32

	// searchSeq maps identifiers (bare, no angle brackets) to the
	// positional index they resolve to.
	searchSeq   map[string]uint32
	searchDelay time.Duration
	searchErr   error

	// messages maps positional indexes to fetchable messages.
	messages   map[uint32]*FetchedMessage
	fetchDelay time.Duration

	noopErr   error
	appendErr error

	selects   []string
	unselects int
	noops     int
	logouts   int
	closes    int
	appends   []string
}

func (c *fakeConn) WaitGreeting() error { return c.greetingErr }

func (c *fakeConn) Login(_, _ string) error { return c.loginErr }

func (c *fakeConn) Select(mailbox string) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selects = append(c.selects, mailbox)
	count, ok := c.selectCounts[mailbox]
	if !ok {
		return 0, fmt.Errorf("NO select %s failed", mailbox)
	}
	return count, nil
}

func (c *fakeConn) Unselect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unselects++
	return nil
}

func (c *fakeConn) SearchIdentifier(identifier string) (uint32, error) {
	if c.searchDelay > 0 {
		time.Sleep(c.searchDelay)
	}
	if c.searchErr != nil {
		return 0, c.searchErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchSeq[identifier], nil
}

func (c *fakeConn) FetchOne(seq uint32) (*FetchedMessage, error) {
	if c.fetchDelay > 0 {
		time.Sleep(c.fetchDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[seq], nil
}

func (c *fakeConn) FetchSummaries(from, to uint32) ([]model.MessageSummary, error) {
	var out []model.MessageSummary
	for seq := from; seq <= to; seq++ {
		out = append(out, model.MessageSummary{
			UID:        seq,
			Identifier: fmt.Sprintf("id-%d", seq),
			Subject:    fmt.Sprintf("message %d", seq),
		})
	}
	return out, nil
}

func (c *fakeConn) Append(mailbox string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appendErr != nil {
		return c.appendErr
	}
	c.appends = append(c.appends, mailbox)
	return nil
}

func (c *fakeConn) Noop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noops++
	return c.noopErr
}

func (c *fakeConn) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) setNoopErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noopErr = err
}

func (c *fakeConn) stats() (selects []string, unselects, logouts, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.selects...), c.unselects, c.logouts, c.closes
}

// fakeDialer builds fakeConns and counts dial attempts.
type fakeDialer struct {
	mu    sync.Mutex
	make  func() *fakeConn
	err   error
	delay time.Duration
	conns []*fakeConn
}

func (d *fakeDialer) dial(model.Endpoint, model.TimeoutConfig) (imapConn, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := d.make()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestFactory(d *fakeDialer) *Factory {
	return &Factory{Timeouts: testTimeouts(), Dial: d.dial}
}

// fakeRecorder captures persisted delivery records.
type fakeRecorder struct {
	mu   sync.Mutex
	recs []*model.DeliveryRecord
	err  error
}

func (r *fakeRecorder) SaveDeliveryRecord(_ context.Context, rec *model.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeRecorder) saved() []*model.DeliveryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.DeliveryRecord(nil), r.recs...)
}
