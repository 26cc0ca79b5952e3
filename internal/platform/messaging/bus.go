package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"votingdapp/contexts/onchain-voting/voting-program/ports"
)

var ErrBusClosed = errors.New("event bus is closed")

const subscriptionBuffer = 128

type subscription struct {
	group  string
	events chan ports.EventEnvelope
	done   chan struct{}
}

// Bus is the in-process event bus the outbox relay publishes program events
// to. Each subscription owns a buffered channel drained by one goroutine, so
// a consumer sees a topic's events in publish order. Publish waits for room
// in every live subscription and fails with the context error instead of
// dropping an event.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription
	published     map[string]int
	closed        bool
	brokers       []string
	logger        *slog.Logger
}

// NewBus records broker addresses for the process log; delivery stays in
// process.
func NewBus(brokers []string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscriptions: make(map[string][]*subscription),
		published:     make(map[string]int),
		brokers:       append([]string(nil), brokers...),
		logger:        logger,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	if err := event.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	subs := append([]*subscription(nil), b.subscriptions[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.events <- event:
		case <-sub.done:
		case <-ctx.Done():
			b.logger.Warn("subscriber backlog full, publish abandoned",
				"event", "bus_publish_blocked",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"consumer_group", sub.group,
				"event_id", event.EventID,
				"error", ctx.Err().Error(),
			)
			return ctx.Err()
		}
	}

	b.mu.Lock()
	b.published[topic]++
	b.mu.Unlock()

	b.logger.Info("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"partition_key", event.PartitionKey,
	)
	return nil
}

// Subscribe delivers every later event on topic to handler until ctx ends.
func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	sub := &subscription{
		group:  consumerGroup,
		events: make(chan ports.EventEnvelope, subscriptionBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer b.unsubscribe(topic, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-sub.events:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

func (b *Bus) Brokers() []string {
	return append([]string(nil), b.brokers...)
}

// PublishedCount reports how many events were handed to every subscriber of
// topic.
func (b *Bus) PublishedCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published[topic]
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Bus) unsubscribe(topic string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscriptions[topic]
	filtered := make([]*subscription, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscriptions[topic] = filtered
}
