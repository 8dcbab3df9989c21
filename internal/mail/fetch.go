package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/model"
)

// Gateway reads single messages. Every call runs on its own isolated
// single-use session, never the shared one, so a failure here can
// never poison state another operation depends on. The gateway does
// not retry; the one-session-per-call isolation makes retrying safe
// for the caller instead.
type Gateway struct {
	profiles ProfileProvider
	factory  *Factory
	locator  *Locator
	timeouts model.TimeoutConfig
	log      logrus.FieldLogger
}

// NewGateway returns a Gateway building isolated sessions via factory.
func NewGateway(profiles ProfileProvider, factory *Factory, locator *Locator, log logrus.FieldLogger) *Gateway {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gateway{
		profiles: profiles,
		factory:  factory,
		locator:  locator,
		timeouts: factory.Timeouts,
		log:      log.WithField("component", "fetch-gateway"),
	}
}

// FetchMessage resolves the opaque identifier to a positional index in
// the role's folder and returns the raw message content. Each protocol
// step is independently time-bounded and independently classified. The
// session is torn down on every exit path.
func (g *Gateway) FetchMessage(ctx context.Context, identifier string, role model.FolderRole) (*model.RawMessage, error) {
	profile, err := g.profiles.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading active profile: %w", err)
	}
	if profile == nil {
		return nil, newError(ClassNoActiveProfile, nil, "no active mail profile is configured")
	}

	sess := g.factory.New(profile.IMAP)
	if err := sess.Connect(); err != nil {
		return nil, err
	}
	defer g.teardown(sess)

	folder, err := g.locator.Open(sess, role)
	if err != nil {
		return nil, err
	}
	if folder.NumMessages == 0 {
		return nil, newError(ClassMailboxEmpty, nil, "folder %s is empty", folder.Name)
	}

	seq, err := sess.ResolveIdentifier(identifier, g.timeouts.Search())
	switch {
	case errors.Is(err, errNoMatch):
		return nil, newError(ClassMessageNotFound, nil,
			"no message with identifier %s in %s", identifier, folder.Name)
	case errors.Is(err, errDeadline):
		return nil, newError(ClassSearchTimeout, err,
			"searching %s for %s exceeded %s", folder.Name, identifier, g.timeouts.Search())
	case err != nil:
		return nil, newError(ClassProtocolError, err, "searching %s", folder.Name)
	}

	fetched, err := sess.FetchBySeq(seq, g.timeouts.Fetch())
	switch {
	case errors.Is(err, errNoMatch):
		return nil, newError(ClassMessageNotFound, nil,
			"message %s vanished from %s before it could be fetched", identifier, folder.Name)
	case errors.Is(err, errDeadline):
		return nil, newError(ClassFetchTimeout, err,
			"fetching message %d from %s exceeded %s", seq, folder.Name, g.timeouts.Fetch())
	case err != nil:
		return nil, newError(ClassProtocolError, err, "fetching message %d from %s", seq, folder.Name)
	}

	// The positional index can shift between resolution and fetch if
	// the folder contents change underneath us. Wrong content is worse
	// than no content.
	if trimAngle(fetched.Summary.Identifier) != trimAngle(identifier) {
		return nil, newError(ClassMessageNotFound, nil,
			"message at index %d no longer matches identifier %s", seq, identifier)
	}

	raw := &model.RawMessage{
		Identifier: trimAngle(identifier),
		Folder:     folder.Name,
		Summary:    fetched.Summary,
		Raw:        fetched.Raw,
	}
	if len(fetched.Raw) > 0 {
		raw.TextBody, raw.HTMLBody, raw.Attachments = parseMIMEBody(fetched.Raw)
	}
	return raw, nil
}

// teardown is the guaranteed cleanup phase: close the folder if one
// was selected, log out if authenticated, hard-close the transport.
// Errors here are logged and never override the primary result.
func (g *Gateway) teardown(sess *Session) {
	if sess.State() >= StateFolderSelected {
		if err := sess.CloseFolder(g.timeouts.Greeting()); err != nil {
			g.log.WithError(err).Warn("closing folder during teardown")
		}
	}
	if sess.State() >= StateAuthenticated {
		if err := sess.Logout(); err != nil {
			g.log.WithError(err).Warn("logging out during teardown")
		}
	}
	_ = sess.Close()
}
