package mail

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/nlr-erp/opsmail/internal/model"
)

// parseMIMEBody parses a raw RFC 5322 message and extracts the
// text/plain body, text/html body, and attachment metadata.
func parseMIMEBody(raw []byte) (textBody string, htmlBody string, attachments []model.Attachment) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			// Read to get the size without keeping the content.
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, model.Attachment{
				Filename: filename,
				Size:     int64(len(body)),
				MIMEType: contentType,
			})
		}
	}

	return textBody, htmlBody, attachments
}
