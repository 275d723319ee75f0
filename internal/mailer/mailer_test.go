package mailer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingMailer) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte, map[string]string) (string, error) {
	return "", errors.New("broker unreachable")
}

// fakeSMTP accepts one session and records the DATA payload.
func fakeSMTP(t *testing.T) (port int, data <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 localhost")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, err := io.ReadAll(tp.DotReader())
				if err != nil {
					return
				}
				out <- string(body)
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, out
}

func TestCompose_PlainText(t *testing.T) {
	t.Parallel()

	raw, err := compose("AuthGate <no-reply@x.com>", Message{To: "a@x.com", Subject: "Password Reset Request", Text: "hello"}, time.Now())
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "To: a@x.com\r\n")
	assert.Contains(t, s, "Subject: Password Reset Request\r\n")
	assert.Contains(t, s, `Content-Type: text/plain; charset="utf-8"`)
	assert.True(t, strings.HasSuffix(s, "\r\n\r\nhello\r\n"))
}

func TestCompose_Alternative(t *testing.T) {
	t.Parallel()

	raw, err := compose("no-reply@x.com", Message{To: "a@x.com", Subject: "s", Text: "plain", HTML: "<p>rich</p>"}, time.Now())
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, "plain")
	assert.Contains(t, s, "<p>rich</p>")
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Message{To: "a@x.com", Subject: "hi"}.validate())
	assert.Error(t, Message{To: "not an address", Subject: "hi"}.validate())
	assert.Error(t, Message{To: "a@x.com", Subject: "hi\r\nBcc: b@x.com"}.validate())
}

func TestSMTPMailer_Send(t *testing.T) {
	t.Parallel()

	port, data := fakeSMTP(t)
	m := NewSMTPMailer(config.SMTPConfig{Host: "127.0.0.1", Port: port, From: "no-reply@authgate.test"})

	err := m.Send(context.Background(), Message{To: "a@x.com", Subject: "Password Reset Request", Text: "reset link"})
	require.NoError(t, err)

	select {
	case body := <-data:
		assert.Contains(t, body, "To: a@x.com")
		assert.Contains(t, body, "reset link")
		assert.Contains(t, body, "no-reply@authgate.test")
	case <-time.After(5 * time.Second):
		t.Fatal("smtp server received no data")
	}
}

func TestSMTPMailer_Unreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := NewSMTPMailer(config.SMTPConfig{Host: "127.0.0.1", Port: port, From: "no-reply@authgate.test"})
	err = m.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, ErrNotSent)
}

func TestQueueMailer_PublishFailure(t *testing.T) {
	t.Parallel()

	q := NewQueueMailer(failingPublisher{}, "mail")
	err := q.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, ErrNotSent)
}

func TestQueueMailer_Worker(t *testing.T) {
	t.Parallel()

	broker := mq.New(mq.NewMemoryBackend(8))
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewQueueMailer(broker, "authgate.mail")
	require.NoError(t, q.Send(ctx, Message{To: "a@x.com", Subject: "Password Reset Request", Text: "link"}))

	// a malformed job is dropped without stopping the worker
	_, err := broker.Publish(ctx, "authgate.mail", []byte("{"), nil)
	require.NoError(t, err)
	require.NoError(t, q.Send(ctx, Message{To: "b@x.com", Subject: "second", Text: "link"}))

	sink := &recordingMailer{}
	w := NewWorker(broker, "authgate.mail", sink, logging.Discard())
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.Sent()) == 2 }, 5*time.Second, 10*time.Millisecond)
	sent := sink.Sent()
	assert.Equal(t, "a@x.com", sent[0].To)
	assert.Equal(t, "b@x.com", sent[1].To)
}

func TestLogMailer(t *testing.T) {
	t.Parallel()

	m := NewLogMailer(logging.Discard())
	assert.NoError(t, m.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "t"}))
	assert.ErrorIs(t, m.Send(context.Background(), Message{To: "bad", Subject: "s"}), ErrNotSent)
}
