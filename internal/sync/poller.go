// Package sync keeps the inbox view fresh. The poller periodically
// lists the inbox through the shared session (which also keeps that
// session warm) and records a notification for every message it has
// not seen before.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/mail"
	"github.com/nlr-erp/opsmail/internal/model"
	"github.com/nlr-erp/opsmail/internal/store"
)

// PollState represents the current state of the poll loop.
type PollState int

const (
	PollIdle PollState = iota
	PollRunning
	PollError
)

// Status holds the poller's last observed state.
type Status struct {
	State     PollState
	LastPoll  time.Time
	LastError error
}

// pollTimeout bounds one full poll cycle.
const pollTimeout = 30 * time.Second

// pollPageSize is how many of the newest messages each cycle inspects.
const pollPageSize = 50

// MessageLister is the slice of the mail service the poller needs.
type MessageLister interface {
	ListMessages(ctx context.Context, limit, offset int) (*mail.MessageList, error)
}

// Poller drives the periodic inbox refresh.
type Poller struct {
	svc      MessageLister
	store    store.Store
	interval time.Duration
	log      logrus.FieldLogger

	mu      gosync.Mutex
	status  Status
	seen    map[string]bool
	primed  bool
	running bool

	triggerCh chan struct{}
	stopCh    chan struct{}
}

// New creates a Poller refreshing through svc every interval.
func New(svc MessageLister, s store.Store, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		svc:       svc,
		store:     s,
		interval:  interval,
		log:       log.WithField("component", "poller"),
		seen:      make(map[string]bool),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the poll loop. Calling Start twice is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the poll loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate poll without waiting for the ticker.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A refresh is already queued; skip to avoid blocking.
	}
}

// GetStatus returns the poller's last observed state.
func (p *Poller) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Do an initial poll immediately.
	p.poll()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll()
		case <-p.triggerCh:
			p.poll()
		}
	}
}

// poll performs one refresh cycle: list the newest page of the inbox
// and record a notification for each previously unseen message.
func (p *Poller) poll() {
	p.setStatus(PollRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	page, err := p.svc.ListMessages(ctx, pollPageSize, 0)
	if err != nil {
		p.setStatus(PollError, err)
		p.log.WithError(err).Warn("inbox poll failed")
		return
	}

	p.mu.Lock()
	primed := p.primed
	var fresh []model.MessageSummary
	for _, sum := range page.Items {
		if sum.Identifier == "" || p.seen[sum.Identifier] {
			continue
		}
		p.seen[sum.Identifier] = true
		fresh = append(fresh, sum)
	}
	p.primed = true
	p.mu.Unlock()

	// The first cycle only primes the seen set; everything in the
	// mailbox at startup is old news.
	if primed {
		for _, sum := range fresh {
			n := model.Notification{
				MessageIdentifier: sum.Identifier,
				Message:           fmt.Sprintf("New message from %s: %s", sum.From, sum.Subject),
			}
			if err := p.store.CreateNotification(ctx, n); err != nil {
				p.log.WithError(err).Warn("recording new-message notification")
			}
		}
		if len(fresh) > 0 {
			p.log.WithField("count", len(fresh)).Info("new messages")
		}
	}

	p.setStatus(PollIdle, nil)
}

func (p *Poller) setStatus(state PollState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
	p.status.LastError = err
	if state != PollRunning {
		p.status.LastPoll = time.Now()
	}
}
