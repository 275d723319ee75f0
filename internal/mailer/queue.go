package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mq"
)

// Publisher is the sending half of a message queue.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Subscriber is the receiving half of a message queue.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// QueueMailer hands messages to a broker. Send succeeds once the broker
// has accepted the message; delivery happens in Worker.
type QueueMailer struct {
	pub     Publisher
	channel string
}

// NewQueueMailer returns a Mailer that publishes messages to channel.
func NewQueueMailer(pub Publisher, channel string) *QueueMailer {
	return &QueueMailer{pub: pub, channel: channel}
}

// Send encodes msg as JSON and publishes it.
func (q *QueueMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	if _, err := q.pub.Publish(ctx, q.channel, data, map[string]string{"type": "mail"}); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrNotSent, err)
	}
	return nil
}

// Worker drains the mail queue into a Mailer.
type Worker struct {
	sub     Subscriber
	channel string
	mailer  Mailer
	logger  logging.Logger
}

// NewWorker returns a Worker delivering messages from channel through mailer.
func NewWorker(sub Subscriber, channel string, mailer Mailer, logger logging.Logger) *Worker {
	return &Worker{sub: sub, channel: channel, mailer: mailer, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "mail worker started", "queue", w.channel)
	return w.sub.Subscribe(ctx, w.channel, w.handle)
}

func (w *Worker) handle(ctx context.Context, m mq.Message) error {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		// Malformed payloads can never succeed; ack and drop.
		w.logger.Error(ctx, "dropping malformed mail job", "id", m.ID, "err", err)
		return nil
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		w.logger.Warn(ctx, "mail delivery failed", "id", m.ID, "to", msg.To, "redelivered", m.Redelivered, "err", err)
		return err
	}
	w.logger.Info(ctx, "mail delivered", "id", m.ID, "to", msg.To)
	return nil
}
