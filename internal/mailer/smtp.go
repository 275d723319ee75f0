package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/authgate/apiserver/config"
)

const (
	implicitTLSPort = 465
	defaultTimeout  = 15 * time.Second
)

// SMTPMailer sends mail through one SMTP relay. Port 465 uses implicit TLS;
// other ports upgrade with STARTTLS when the server offers it.
type SMTPMailer struct {
	host     string
	port     int
	user     string
	password string
	from     string
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTPMailer returns a mailer for the configured relay.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	from := cfg.From
	if from != "" {
		from = (&mail.Address{Name: "AuthGate", Address: from}).String()
	}
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
		from:     from,
		timeout:  defaultTimeout,
		now:      time.Now,
	}
}

// Send delivers msg in one SMTP session.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	body, err := compose(m.from, msg, m.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if m.port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
				return err
			}
		}
	}
	if m.user != "" {
		if err := c.Auth(smtp.PlainAuth("", m.user, m.password, m.host)); err != nil {
			return err
		}
	}

	envelopeFrom := m.user
	if addr, err := mail.ParseAddress(m.from); err == nil {
		envelopeFrom = addr.Address
	}
	if err := c.Mail(envelopeFrom); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	dialer := &net.Dialer{}
	if m.port == implicitTLSPort {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.host}}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}
