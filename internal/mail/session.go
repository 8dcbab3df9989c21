package mail

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/model"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateFolderSelected
	StateIdle
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateFolderSelected:
		return "folder_selected"
	case StateIdle:
		return "idle"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sentinel errors used between the session layer and its callers.
// They are translated into classified errors before leaving the
// package.
var (
	errDeadline = errors.New("operation deadline exceeded")
	errNoMatch  = errors.New("no matching message")
)

// race runs op in its own goroutine and waits at most d for it to
// finish, returning errDeadline on expiry. The abandoned goroutine
// unblocks when the session's connection is torn down, which every
// caller of race is responsible for on the timeout path.
func race(d time.Duration, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return errDeadline
	}
}

// FetchedMessage is one message pulled by positional index: its
// envelope summary plus the raw RFC 5322 source.
type FetchedMessage struct {
	Summary model.MessageSummary
	Raw     []byte
}

// imapConn is the protocol surface the core needs from an inbound
// connection. The production implementation wraps an imapclient
// client; tests substitute fakes. All methods block until the server
// responds; callers bound them with race.
type imapConn interface {
	// WaitGreeting blocks until the server greeting arrives.
	WaitGreeting() error

	// Login authenticates the connection.
	Login(username, password string) error

	// Select opens a folder and returns its message count.
	Select(mailbox string) (uint32, error)

	// Unselect closes the currently selected folder.
	Unselect() error

	// SearchIdentifier finds the positional index of the message whose
	// Message-ID header matches identifier. Zero means no match.
	SearchIdentifier(identifier string) (uint32, error)

	// FetchOne retrieves the full message at the given positional
	// index within the selected folder.
	FetchOne(seq uint32) (*FetchedMessage, error)

	// FetchSummaries retrieves envelope summaries for the inclusive
	// positional range [from, to].
	FetchSummaries(from, to uint32) ([]model.MessageSummary, error)

	// Append stores a raw message into the named folder.
	Append(mailbox string, raw []byte) error

	// Noop performs a harmless round-trip.
	Noop() error

	// Logout ends the protocol session gracefully.
	Logout() error

	// Close tears the transport down immediately.
	Close() error
}

// dialFunc establishes the transport to an endpoint and wraps it in an
// imapConn. It must respect the connect timeout; the greeting wait is
// the session's job.
type dialFunc func(ep model.Endpoint, timeouts model.TimeoutConfig) (imapConn, error)

// Factory builds unconnected sessions bound to a profile snapshot.
// Building is pure: no I/O happens until Connect.
type Factory struct {
	Timeouts model.TimeoutConfig
	Log      logrus.FieldLogger

	// Dial overrides the production dialer; nil means dialIMAP.
	Dial dialFunc
}

// New returns a disconnected session bound to the given endpoint
// snapshot.
func (f *Factory) New(ep model.Endpoint) *Session {
	dial := f.Dial
	if dial == nil {
		dial = dialIMAP
	}
	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		endpoint: ep,
		timeouts: f.Timeouts,
		dial:     dial,
		log:      log.WithField("imap_host", ep.Host),
	}
}

// Session is a finite-state connection to one inbound mail server,
// bound to the profile snapshot it was built from. A session is either
// the single long-lived shared instance owned by the Manager or a
// single-use instance owned by the operation that created it.
// Operations on a session are not meant to interleave (the service
// serializes them), but the connection slot itself is guarded so a
// concurrent Invalidate or Close can never panic an in-flight
// operation: it observes a classified error instead.
type Session struct {
	endpoint model.Endpoint
	timeouts model.TimeoutConfig
	dial     dialFunc
	log      logrus.FieldLogger

	mu     sync.Mutex
	state  State
	conn   imapConn
	folder string
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelectedFolder returns the name of the currently selected folder,
// empty when none is selected.
func (s *Session) SelectedFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folder
}

// connection snapshots the live connection, or reports that the
// session was torn down underneath the caller.
func (s *Session) connection() (imapConn, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, newError(ClassUnreachable, nil,
			"session to %s is no longer connected", s.endpoint.Addr())
	}
	return s.conn, nil
}

// Connect dials the endpoint, waits for the server greeting, and
// authenticates. The dial is bounded by the connect timeout and the
// greeting by its own shorter timeout. On any failure the half-built
// connection is closed and a classified error returned, leaving the
// session Disconnected so the next attempt starts clean.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateAuthenticated {
		return nil
	}
	s.state = StateConnecting

	conn, err := s.dial(s.endpoint, s.timeouts)
	if err != nil {
		s.state = StateDisconnected
		return classifyConnectError(s.endpoint, err)
	}

	if err := race(s.timeouts.Greeting(), conn.WaitGreeting); err != nil {
		_ = conn.Close()
		s.state = StateDisconnected
		if errors.Is(err, errDeadline) {
			return newError(ClassUnreachable, err,
				"server %s accepted the connection but sent no greeting", s.endpoint.Addr())
		}
		return newError(ClassProtocolError, err, "bad greeting from %s", s.endpoint.Addr())
	}

	if err := conn.Login(s.endpoint.Username, s.endpoint.Password); err != nil {
		_ = conn.Close()
		s.state = StateDisconnected
		return newError(ClassAuthenticationFailed, err,
			"authentication failed for %s on %s", s.endpoint.Username, s.endpoint.Addr())
	}

	s.conn = conn
	s.state = StateAuthenticated
	return nil
}

// Select opens the named folder and returns its message count,
// transitioning the session to FolderSelected.
func (s *Session) Select(name string) (uint32, error) {
	conn, cerr := s.connection()
	if cerr != nil {
		return 0, cerr
	}
	count, err := conn.Select(name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	// A concurrent teardown may have swapped the connection out; the
	// state transition only applies to the connection we selected on.
	if s.conn == conn {
		s.state = StateFolderSelected
		s.folder = name
	}
	s.mu.Unlock()
	return count, nil
}

// CloseFolder unselects the current folder and returns the session to
// Authenticated. The unselect is raced against timeout so teardown
// never hangs on a dead connection.
func (s *Session) CloseFolder(timeout time.Duration) error {
	conn, cerr := s.connection()
	if cerr != nil {
		return cerr
	}
	err := race(timeout, conn.Unselect)
	s.mu.Lock()
	if s.conn == conn {
		s.state = StateAuthenticated
		s.folder = ""
	}
	s.mu.Unlock()
	return err
}

// ResolveIdentifier resolves an opaque message identifier to its
// positional index in the selected folder, racing the search against
// timeout. It returns errNoMatch when the identifier resolves to
// nothing and errDeadline when the search outlives its budget.
func (s *Session) ResolveIdentifier(identifier string, timeout time.Duration) (uint32, error) {
	conn, cerr := s.connection()
	if cerr != nil {
		return 0, cerr
	}
	var seq uint32
	err := race(timeout, func() error {
		n, err := conn.SearchIdentifier(trimAngle(identifier))
		seq = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, errNoMatch
	}
	return seq, nil
}

// FetchBySeq retrieves the full message at the given positional index,
// racing the fetch against timeout. It returns errNoMatch when the
// index yields no message and errDeadline on expiry.
func (s *Session) FetchBySeq(seq uint32, timeout time.Duration) (*FetchedMessage, error) {
	conn, cerr := s.connection()
	if cerr != nil {
		return nil, cerr
	}
	var msg *FetchedMessage
	err := race(timeout, func() error {
		m, err := conn.FetchOne(seq)
		msg = m
		return err
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errNoMatch
	}
	return msg, nil
}

// FetchSummaries retrieves envelope summaries for the inclusive
// positional range [from, to], racing against timeout.
func (s *Session) FetchSummaries(from, to uint32, timeout time.Duration) ([]model.MessageSummary, error) {
	conn, cerr := s.connection()
	if cerr != nil {
		return nil, cerr
	}
	var out []model.MessageSummary
	err := race(timeout, func() error {
		ms, err := conn.FetchSummaries(from, to)
		out = ms
		return err
	})
	return out, err
}

// Append stores a raw message into the named folder, racing against
// timeout.
func (s *Session) Append(mailbox string, raw []byte, timeout time.Duration) error {
	conn, cerr := s.connection()
	if cerr != nil {
		return cerr
	}
	return race(timeout, func() error {
		return conn.Append(mailbox, raw)
	})
}

// Live reports whether the session can actually be reused: its state
// must be at least Authenticated and a NOOP round-trip must complete
// within timeout. The state value alone is not proof of liveness; idle
// servers drop sockets without telling us.
func (s *Session) Live(timeout time.Duration) bool {
	s.mu.Lock()
	conn := s.conn
	state := s.state
	s.mu.Unlock()
	if conn == nil || state < StateAuthenticated || state == StateIdle {
		return false
	}
	return race(timeout, conn.Noop) == nil
}

// Logout ends the session gracefully, falling back to a hard close.
// The session is Disconnected afterwards regardless of errors.
func (s *Session) Logout() error {
	conn := s.disconnect()
	if conn == nil {
		return nil
	}
	err := race(s.timeouts.Greeting(), conn.Logout)
	if err != nil {
		_ = conn.Close()
	}
	return err
}

// Close tears the transport down immediately without a protocol
// goodbye.
func (s *Session) Close() error {
	conn := s.disconnect()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// disconnect empties the connection slot and returns what was in it.
// In-flight operations holding the old connection finish against it
// and fail; new operations see the slot empty and fail cleanly.
func (s *Session) disconnect() imapConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	s.folder = ""
	s.state = StateDisconnected
	return conn
}

// classifyConnectError maps transport dial failures onto the public
// taxonomy. Raw transport errors never cross the package boundary.
func classifyConnectError(ep model.Endpoint, err error) *Error {
	if errors.Is(err, errDeadline) {
		return newError(ClassUnreachable, err, "timed out connecting to %s", ep.Addr())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ClassUnreachable, err, "timed out connecting to %s", ep.Addr())
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newError(ClassUnreachable, err, "cannot reach %s", ep.Addr())
	}
	return newError(ClassProtocolError, err, "connecting to %s", ep.Addr())
}

// trimAngle strips RFC 5322 angle brackets from a Message-ID so
// identifiers compare equal regardless of how the server reports them.
func trimAngle(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
