package mail

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nlr-erp/opsmail/internal/model"
)

// ProfileProvider supplies the active connection profile. It is
// consulted fresh on every operation because the active profile can
// change between calls; the core never caches profiles.
type ProfileProvider interface {
	// Active returns the active profile, or (nil, nil) when none is
	// configured.
	Active(ctx context.Context) (*model.Profile, error)
}

// Manager owns the single long-lived shared inbox session used for
// listing. It validates liveness before every reuse and reconnects
// transparently. The check-and-reconnect sequence is collapsed through
// a singleflight group so at most one reconnect is in flight at any
// instant and all concurrent callers observe the same resulting
// session.
type Manager struct {
	profiles ProfileProvider
	factory  *Factory
	timeouts model.TimeoutConfig
	log      logrus.FieldLogger

	group singleflight.Group

	mu     sync.Mutex
	shared *Session
}

// NewManager returns a Manager building sessions through factory.
func NewManager(profiles ProfileProvider, factory *Factory, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		profiles: profiles,
		factory:  factory,
		timeouts: factory.Timeouts,
		log:      log.WithField("component", "session-manager"),
	}
}

// EnsureReady returns the shared session, connected and verified
// usable. Safe for concurrent use; concurrent callers share one
// underlying check-and-reconnect.
func (m *Manager) EnsureReady(ctx context.Context) (*Session, error) {
	v, err, _ := m.group.Do("shared", func() (any, error) {
		return m.ensureReady(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) ensureReady(ctx context.Context) (*Session, error) {
	profile, err := m.profiles.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading active profile: %w", err)
	}
	if profile == nil {
		return nil, newError(ClassNoActiveProfile, nil, "no active mail profile is configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Reuse only after a liveness probe. The state enum alone is not
	// trustworthy: idle servers drop sockets without notice.
	if m.shared != nil && m.shared.Live(m.timeouts.Liveness()) {
		return m.shared, nil
	}

	if m.shared != nil {
		m.log.Warn("shared session is stale, discarding")
		_ = m.shared.Logout()
		m.shared = nil
	}

	sess := m.factory.New(profile.IMAP)
	if err := sess.Connect(); err != nil {
		// Connect already discarded the half-built connection; the
		// next caller starts from a clean slate.
		return nil, err
	}

	m.log.WithField("host", profile.IMAP.Host).Info("shared session connected")
	m.shared = sess
	return sess, nil
}

// Invalidate drops the shared session so the next EnsureReady builds a
// fresh one. Called after a listing operation hits a transport error.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shared == nil {
		return
	}
	_ = m.shared.Close()
	m.shared = nil
}

// Close releases the shared session on shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shared == nil {
		return nil
	}
	err := m.shared.Logout()
	m.shared = nil
	return err
}
