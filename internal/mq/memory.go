package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by a MemoryBackend after Close.
var ErrClosed = errors.New("mq: backend closed")

// MemoryBackend delivers messages within one process. A nacked message is
// requeued once and dropped if it fails again.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]chan Message
	size   int
	done   chan struct{}
	once   sync.Once
}

// NewMemoryBackend returns a backend whose queues buffer up to size messages.
func NewMemoryBackend(size int) *MemoryBackend {
	if size <= 0 {
		size = 64
	}
	return &MemoryBackend{
		queues: make(map[string]chan Message),
		size:   size,
		done:   make(chan struct{}),
	}
}

func (b *MemoryBackend) queue(name string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = make(chan Message, b.size)
		b.queues[name] = q
	}
	return q
}

// Publish queues data on channel without waiting for a subscriber.
func (b *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}

	select {
	case <-b.done:
		return "", ErrClosed
	default:
	}

	msg := Message{ID: uuid.NewString(), Data: data, Attributes: attrs}
	select {
	case <-b.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	case b.queue(channel) <- msg:
		return msg.ID, nil
	}
}

// Subscribe hands messages from channel to handler until ctx ends or the
// backend closes.
func (b *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}

	q := b.queue(channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		case msg := <-q:
			if err := handler(ctx, msg); err != nil && !msg.Redelivered {
				msg.Redelivered = true
				select {
				case q <- msg:
				default:
				}
			}
		}
	}
}

// Close stops all subscribers. It is safe to call more than once.
func (b *MemoryBackend) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}
