// Package mq carries background jobs, such as outgoing mail, over a
// broker chosen at startup.
package mq

import (
	"context"
	"fmt"

	"github.com/authgate/apiserver/config"
)

// Message is a broker-agnostic delivery.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	Redelivered bool
}

// Handler processes a message. Returning an error nacks it.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend with a stable API.
type MQ struct {
	backend Backend
}

// New wraps backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Open connects to the broker named by cfg.Mailer.Driver.
func Open(ctx context.Context, cfg config.Config) (*MQ, error) {
	switch cfg.Mailer.Driver {
	case config.MailerRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return New(client), nil
	case config.MailerPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		return New(client), nil
	default:
		return nil, fmt.Errorf("mailer driver %q has no queue", cfg.Mailer.Driver)
	}
}

// Publish forwards to the backend.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe blocks, feeding messages from channel to handler until ctx ends.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

// Close closes the backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
