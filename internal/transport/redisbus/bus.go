// Package redisbus implements domain.MessagingBus over Redis Pub/Sub: a
// low-latency, best-effort, at-most-once channel used only for delivering
// command responses to whichever caller is currently listening for a given
// correlation ID. Unlike the command/update topics, nothing here is
// durable — a response published while no one is subscribed is simply lost,
// which is the documented behavior callers must tolerate (they fall back to
// a timeout).
package redisbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arqsystems/refdata-platform/internal/domain"
)

// Bus implements domain.MessagingBus.
type Bus struct {
	rdb *redis.Client
}

// New constructs a Bus around an already-configured *redis.Client. Accepting
// the client rather than an address lets tests substitute a miniredis-backed
// client without changing this package.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish sends payload to subject without blocking for any subscriber.
func (b *Bus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := b.rdb.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: publish to %q: %w", subject, err)
	}
	return nil
}

// Subscribe delivers messages on every channel matching subject to handler
// until the returned Subscription is closed. subject is a Redis glob pattern
// (PSUBSCRIBE), so it may contain the wildcards *, ? and [...]. handler runs
// on an internal goroutine; it must not block indefinitely.
func (b *Bus) Subscribe(ctx context.Context, subject string, handler func(payload []byte)) (domain.Subscription, error) {
	pubsub := b.rdb.PSubscribe(ctx, subject)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redisbus: subscribe to %q: %w", subject, err)
	}

	sub := &subscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.loop(handler)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *subscription) loop(handler func(payload []byte)) {
	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handler([]byte(msg.Payload))
		case <-s.done:
			return
		}
	}
}

// Unsubscribe stops delivery and releases the underlying Pub/Sub connection.
func (s *subscription) Unsubscribe() error {
	close(s.done)
	return s.pubsub.Close()
}
