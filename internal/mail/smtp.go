package mail

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nlr-erp/opsmail/internal/model"
)

// transmitter is one single-use outbound connection. Transmit may be
// in flight on one goroutine while Close is called from another; Close
// tears the transport down and unblocks the transmission.
type transmitter interface {
	Transmit(from string, to []string, raw []byte) error
	Close() error
}

// smtpDialFunc opens the outbound connection for one transmission.
// Failed connections are never repaired or reused.
type smtpDialFunc func(ep model.Endpoint) (transmitter, error)

// dialSMTP is the production dialer, implicit TLS or STARTTLS per the
// endpoint's security mode.
func dialSMTP(ep model.Endpoint) (transmitter, error) {
	tlsConfig := &tls.Config{ServerName: ep.Host}

	var c *smtp.Client
	var err error
	if ep.Security == model.SecurityTLS {
		c, err = smtp.DialTLS(ep.Addr(), tlsConfig)
	} else {
		c, err = smtp.DialStartTLS(ep.Addr(), tlsConfig)
	}
	if err != nil {
		return nil, err
	}
	return &smtpTransmitter{c: c, ep: ep}, nil
}

type smtpTransmitter struct {
	c  *smtp.Client
	ep model.Endpoint
}

// Transmit authenticates, sends the message, and says goodbye. The
// connection is dead afterwards either way.
func (t *smtpTransmitter) Transmit(from string, to []string, raw []byte) error {
	auth := sasl.NewPlainClient("", t.ep.Username, t.ep.Password)
	if err := t.c.Auth(auth); err != nil {
		return err
	}
	if err := t.c.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return err
	}
	return t.c.Quit()
}

func (t *smtpTransmitter) Close() error {
	return t.c.Close()
}

// classifyDeliveryError maps an outbound failure onto the public
// taxonomy and decides retryability: connection, timeout, and
// socket-class errors are worth a fresh attempt; authentication and
// permanent protocol rejections are not.
func classifyDeliveryError(ep model.Endpoint, err error) *Error {
	if errors.Is(err, errDeadline) {
		return newError(ClassDeliveryTimeout, err,
			"delivery through %s exceeded its deadline", ep.Addr())
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch {
		case smtpErr.Code == 530 || smtpErr.Code == 534 || smtpErr.Code == 535:
			return newError(ClassDeliveryAuthFailed, err,
				"outbound authentication failed for %s on %s", ep.Username, ep.Addr())
		case smtpErr.Code >= 500:
			return newError(ClassProtocolError, err,
				"server %s rejected the message permanently", ep.Addr())
		default:
			// 4xx: the server asked us to come back later.
			return &Error{
				Classification: ClassProtocolError,
				Message:        "server " + ep.Addr() + " rejected the message temporarily",
				Retryable:      true,
				Err:            err,
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ClassDeliveryTimeout, err, "timed out talking to %s", ep.Addr())
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newError(ClassUnreachable, err, "cannot reach %s", ep.Addr())
	}

	return newError(ClassProtocolError, err, "delivering through %s", ep.Addr())
}
