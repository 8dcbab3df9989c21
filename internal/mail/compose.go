package mail

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nlr-erp/opsmail/internal/model"
)

// composeMessage renders an outbound message as RFC 5322 source. When
// both a plain-text and an HTML body are present they are emitted as a
// multipart/alternative pair, plain text first.
func composeMessage(from string, msg model.OutboundMessage) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", addressList(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", addressList(msg.Cc))
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	if msg.TextBody != "" && msg.HTMLBody != "" {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("creating alternative part: %w", err)
		}
		if err := writeInlinePart(iw, "text/plain", msg.TextBody); err != nil {
			return nil, err
		}
		if err := writeInlinePart(iw, "text/html", msg.HTMLBody); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("closing alternative part: %w", err)
		}
	} else {
		contentType, body := "text/plain", msg.TextBody
		if msg.HTMLBody != "" {
			contentType, body = "text/html", msg.HTMLBody
		}
		var ph mail.InlineHeader
		ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
		w, err := mw.CreateSingleInline(ph)
		if err != nil {
			return nil, fmt.Errorf("creating body part: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("writing body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing body part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing %s part: %w", contentType, err)
	}
	return nil
}

func addressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		out[i] = &mail.Address{Address: a}
	}
	return out
}
