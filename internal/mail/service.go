package mail

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/model"
)

// defaultPageSize caps inbox listing when the caller does not say.
const defaultPageSize = 50

// MessageList is one page of inbox listing, newest first.
type MessageList struct {
	// Items holds the page of summaries, newest first.
	Items []model.MessageSummary `json:"items"`

	// Total is the message count in the folder at listing time.
	Total int `json:"total"`

	// HasMore reports whether older messages exist beyond this page.
	HasMore bool `json:"has_more"`
}

// Service is the connectivity core's surface for its callers: inbox
// listing over the shared session, isolated single-message reads,
// dispatched outbound delivery, and a connectivity probe.
type Service struct {
	manager    *Manager
	gateway    *Gateway
	dispatcher *Dispatcher
	locator    *Locator
	timeouts   model.TimeoutConfig
	log        logrus.FieldLogger

	// listMu serializes listing operations on the shared session; the
	// folder selection and the window fetch must not interleave with
	// another listing's.
	listMu sync.Mutex
}

// NewService wires the core components together.
func NewService(manager *Manager, gateway *Gateway, dispatcher *Dispatcher, locator *Locator, timeouts model.TimeoutConfig, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		manager:    manager,
		gateway:    gateway,
		dispatcher: dispatcher,
		locator:    locator,
		timeouts:   timeouts,
		log:        log.WithField("component", "mail-service"),
	}
}

// ListMessages returns a page of inbox summaries, newest first, using
// the shared session. An empty mailbox yields an empty page and no
// error. On a transport failure the shared session is invalidated so
// the next call starts clean.
func (s *Service) ListMessages(ctx context.Context, limit, offset int) (*MessageList, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	sess, err := s.manager.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	s.listMu.Lock()
	defer s.listMu.Unlock()

	folder, err := s.locator.Open(sess, model.RoleInbox)
	if err != nil {
		s.manager.Invalidate()
		return nil, err
	}

	total := int(folder.NumMessages)
	if total == 0 || offset >= total {
		return &MessageList{Total: total}, nil
	}

	// Positional indexes count upward from the oldest message; the
	// newest page is the top of the range.
	to := uint32(total - offset)
	from := uint32(1)
	if total-offset-limit > 0 {
		from = uint32(total - offset - limit + 1)
	}

	summaries, err := sess.FetchSummaries(from, to, s.timeouts.Fetch())
	if err != nil {
		s.manager.Invalidate()
		return nil, newError(ClassProtocolError, err, "listing %s", folder.Name)
	}

	// Servers return the range oldest-first; callers want newest-first.
	for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
		summaries[i], summaries[j] = summaries[j], summaries[i]
	}

	return &MessageList{
		Items:   summaries,
		Total:   total,
		HasMore: offset+limit < total,
	}, nil
}

// GetMessage reads one message through an isolated single-use session.
func (s *Service) GetMessage(ctx context.Context, identifier string, role model.FolderRole) (*model.RawMessage, error) {
	return s.gateway.FetchMessage(ctx, identifier, role)
}

// SendMessage validates and delivers an outbound message through the
// dispatcher.
func (s *Service) SendMessage(ctx context.Context, msg model.OutboundMessage) (*model.DeliveryRecord, error) {
	if len(msg.To) == 0 {
		return nil, newError(ClassProtocolError, nil, "message has no recipients")
	}
	if msg.TextBody == "" && msg.HTMLBody == "" {
		return nil, newError(ClassProtocolError, nil,
			"message needs a plain-text or rich body")
	}
	return s.dispatcher.Deliver(ctx, msg)
}

// TestConnectivity drives the shared session to readiness without
// performing any folder operations.
func (s *Service) TestConnectivity(ctx context.Context) error {
	_, err := s.manager.EnsureReady(ctx)
	return err
}
