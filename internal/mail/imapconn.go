package mail

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nlr-erp/opsmail/internal/model"
)

// clientConn adapts an imapclient.Client to the imapConn interface.
type clientConn struct {
	c *imapclient.Client

	// greeted is set when the dial path already consumed the server
	// greeting (the STARTTLS helper does).
	greeted bool
}

// dialIMAP is the production dialer. Implicit TLS connections are
// dialed manually so the connect timeout applies to the TCP+TLS
// handshake only, leaving the greeting wait to the session. The
// STARTTLS helper performs dial, greeting, and upgrade as one step, so
// that path is bounded by the combined connect+greeting budget.
func dialIMAP(ep model.Endpoint, t model.TimeoutConfig) (imapConn, error) {
	opts := &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: ep.Host},
	}

	if ep.Security == model.SecurityStartTLS {
		var c *imapclient.Client
		err := race(t.Connect()+t.Greeting(), func() error {
			var err error
			c, err = imapclient.DialStartTLS(ep.Addr(), opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &clientConn{c: c, greeted: true}, nil
	}

	dialer := &net.Dialer{Timeout: t.Connect()}
	conn, err := tls.DialWithDialer(dialer, "tcp", ep.Addr(), opts.TLSConfig)
	if err != nil {
		return nil, err
	}
	return &clientConn{c: imapclient.New(conn, opts)}, nil
}

func (cc *clientConn) WaitGreeting() error {
	if cc.greeted {
		return nil
	}
	return cc.c.WaitGreeting()
}

func (cc *clientConn) Login(username, password string) error {
	return cc.c.Login(username, password).Wait()
}

func (cc *clientConn) Select(mailbox string) (uint32, error) {
	data, err := cc.c.Select(mailbox, nil).Wait()
	if err != nil {
		return 0, err
	}
	return data.NumMessages, nil
}

func (cc *clientConn) Unselect() error {
	return cc.c.Unselect().Wait()
}

func (cc *clientConn) SearchIdentifier(identifier string) (uint32, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: identifier},
		},
	}
	data, err := cc.c.Search(criteria, nil).Wait()
	if err != nil {
		return 0, err
	}
	seqs := data.AllSeqNums()
	if len(seqs) == 0 {
		return 0, nil
	}
	// Duplicate Message-IDs are rare but possible; take the newest.
	return seqs[len(seqs)-1], nil
}

func (cc *clientConn) FetchOne(seq uint32) (*FetchedMessage, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := cc.c.Fetch(imap.SeqSetNum(seq), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fetchCmd.Close()
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	fetched := &FetchedMessage{
		Summary: summaryFromBuffer(buf),
		Raw:     buf.FindBodySection(bodySection),
	}

	if err := fetchCmd.Close(); err != nil {
		return fetched, fmt.Errorf("closing fetch: %w", err)
	}
	return fetched, nil
}

func (cc *clientConn) FetchSummaries(from, to uint32) ([]model.MessageSummary, error) {
	var seqSet imap.SeqSet
	seqSet.AddRange(from, to)

	fetchCmd := cc.c.Fetch(seqSet, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	})
	defer fetchCmd.Close()

	var out []model.MessageSummary
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, summaryFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("fetching summaries: %w", err)
	}
	return out, nil
}

func (cc *clientConn) Append(mailbox string, raw []byte) error {
	appendCmd := cc.c.Append(mailbox, int64(len(raw)), nil)
	if _, err := appendCmd.Write(raw); err != nil {
		return fmt.Errorf("writing append literal: %w", err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing append literal: %w", err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", mailbox, err)
	}
	return nil
}

func (cc *clientConn) Noop() error {
	return cc.c.Noop().Wait()
}

func (cc *clientConn) Logout() error {
	return cc.c.Logout().Wait()
}

func (cc *clientConn) Close() error {
	return cc.c.Close()
}

// summaryFromBuffer extracts a MessageSummary from a fetch buffer.
func summaryFromBuffer(buf *imapclient.FetchMessageBuffer) model.MessageSummary {
	sum := model.MessageSummary{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		sum.Identifier = trimAngle(buf.Envelope.MessageID)
		sum.Subject = buf.Envelope.Subject
		sum.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				sum.From = from.Name
			} else {
				sum.From = from.Addr()
			}
		}

		for _, to := range buf.Envelope.To {
			sum.To = append(sum.To, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		switch flag {
		case imap.FlagSeen:
			sum.Seen = true
		case imap.FlagFlagged:
			sum.Flagged = true
		case imap.FlagAnswered:
			sum.Answered = true
		}
	}

	return sum
}
