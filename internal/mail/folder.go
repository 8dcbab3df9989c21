package mail

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nlr-erp/opsmail/internal/model"
)

// inboxFolder is the one physical name the inbox role maps to. It is
// mandated by the protocol, so there is nothing to probe.
const inboxFolder = "INBOX"

// defaultSentCandidates are the known physical names for the sent
// folder, tried in order. Providers disagree on this name.
var defaultSentCandidates = []string{
	"Sent",
	"Sent Items",
	"Sent Messages",
	"[Gmail]/Sent Mail",
	"INBOX.Sent",
}

// Folder is an opened folder handle: the physical name that succeeded
// plus the mailbox summary cached at open time.
type Folder struct {
	Name        string
	NumMessages uint32
}

// Locator resolves logical folder roles to physical folder names by
// probing candidates against a live session.
type Locator struct {
	log            logrus.FieldLogger
	sentCandidates []string
}

// NewLocator returns a Locator with the default candidate lists.
func NewLocator(log logrus.FieldLogger) *Locator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Locator{
		log:            log.WithField("component", "folder-locator"),
		sentCandidates: defaultSentCandidates,
	}
}

// Open selects the physical folder for role on sess and returns its
// handle. The inbox role fails immediately if INBOX cannot be opened;
// the sent role probes each candidate in order and stops at the first
// success.
func (l *Locator) Open(sess *Session, role model.FolderRole) (*Folder, error) {
	switch role {
	case model.RoleInbox:
		count, err := sess.Select(inboxFolder)
		if err != nil {
			// A torn-down session reports itself with its own
			// classification; only genuine select refusals become
			// FolderNotFound.
			if cerr, ok := AsError(err); ok {
				return nil, cerr
			}
			return nil, newError(ClassFolderNotFound, err, "cannot open %s", inboxFolder)
		}
		return &Folder{Name: inboxFolder, NumMessages: count}, nil

	case model.RoleSent:
		tried := make([]string, 0, len(l.sentCandidates))
		for _, name := range l.sentCandidates {
			count, err := sess.Select(name)
			if err == nil {
				return &Folder{Name: name, NumMessages: count}, nil
			}
			if cerr, ok := AsError(err); ok {
				return nil, cerr
			}
			tried = append(tried, name)
			l.log.WithError(err).WithField("folder", name).Debug("sent candidate did not open")
		}
		return nil, newError(ClassFolderNotFound, nil,
			"no sent folder could be opened; tried %s", strings.Join(tried, ", "))

	default:
		return nil, newError(ClassFolderNotFound, nil, "unknown folder role %q", role)
	}
}
