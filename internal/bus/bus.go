// Package bus is the callback bus: an ordered, synchronous multicast of
// conversation events to subscribers, plus a bridge for subscribers that
// must not run on the emitting goroutine.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/nexus/pkg/events"
)

// Subscriber receives events emitted on the bus. Emit must not block
// indefinitely: the step engine calls Publish synchronously on the same
// goroutine that appended the events, and a slow subscriber delays the
// next step.
type Subscriber interface {
	Emit(ctx context.Context, ev events.Event)
}

// SubscriberFunc adapts a plain function to a Subscriber.
type SubscriberFunc func(ctx context.Context, ev events.Event)

func (f SubscriberFunc) Emit(ctx context.Context, ev events.Event) { f(ctx, ev) }

// Bus multicasts events to subscribers in registration order, on the
// calling goroutine. A panic in one subscriber is recovered and logged;
// it never aborts delivery to the remaining subscribers, and never
// propagates into the step engine.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *slog.Logger
}

// New returns an empty Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers s to receive every event published after this
// call. Subscribers are invoked in the order they were registered.
func (b *Bus) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Unsubscribe removes s, comparing by identity. Used by transient
// subscribers (e.g. one per WS observer connection) to stop receiving
// events once the connection they forward to is gone. A no-op if s was
// never subscribed.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == s {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber in registration order,
// synchronously. Callers publishing a batch of newly appended events
// must call Publish once per event, in log order, so every subscriber
// observes the same log-append order.
func (b *Bus) Publish(ctx context.Context, ev events.Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		b.safeEmit(ctx, s, ev)
	}
}

// PublishAll delivers evs in order, each to every subscriber, via Publish.
func (b *Bus) PublishAll(ctx context.Context, evs []events.Event) {
	for _, ev := range evs {
		b.Publish(ctx, ev)
	}
}

func (b *Bus) safeEmit(ctx context.Context, s Subscriber, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: subscriber panicked", "panic", r, "event_kind", ev.Kind, "event_id", ev.ID)
		}
	}()
	s.Emit(ctx, ev)
}
