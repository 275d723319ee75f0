// Package mailer delivers transactional mail, either directly over SMTP or
// through a queue drained by a worker process.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/authgate/apiserver/internal/logging"
	"github.com/google/uuid"
)

// ErrNotSent is wrapped by every delivery failure.
var ErrNotSent = errors.New("email could not be sent")

// Message is one outbound email. HTML is optional.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer delivers messages. Failures wrap ErrNotSent.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

func (m Message) validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", m.To, err)
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return errors.New("header values must not contain line breaks")
	}
	return nil
}

// compose renders msg as an RFC 5322 message. HTML bodies are sent as
// multipart/alternative next to the plain text.
func compose(from string, msg Message, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@authgate>")
	header("MIME-Version", "1.0")

	if msg.HTML == "" {
		header("Content-Type", `text/plain; charset="utf-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(msg.Text)
		buf.WriteString("\r\n")
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
	buf.WriteString("\r\n")

	for _, part := range []struct{ ctype, body string }{
		{`text/plain; charset="utf-8"`, msg.Text},
		{`text/html; charset="utf-8"`, msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LogMailer writes messages to the log instead of sending them. Used in
// development when no SMTP host is configured.
type LogMailer struct {
	logger logging.Logger
}

// NewLogMailer returns a LogMailer writing to logger.
func NewLogMailer(logger logging.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	m.logger.Info(ctx, "mail not sent, no smtp host configured", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}
