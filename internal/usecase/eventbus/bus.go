// Package eventbus is the in-process event bus, plus a ConversationObserver
// that publishes conversation snapshots onto it.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"docchat/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns a FIFO mailbox drained by at most one goroutine, so a
// subscriber sees events in publish order.
type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu       sync.Mutex
	mailbox  []delivery
	draining bool
}

// Bus is an in-process, goroutine-safe event bus. Handlers run off the
// publisher's goroutine; each subscriber receives events one at a time in
// the order they were published.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish queues event for every matching typed subscriber and every
// all-event subscriber. It never blocks on a handler.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.enqueue(sub, delivery{ctx: ctx, event: event})
	}
}

func (b *Bus) enqueue(sub *subscription, d delivery) {
	sub.mu.Lock()
	sub.mailbox = append(sub.mailbox, d)
	if sub.draining {
		sub.mu.Unlock()
		return
	}
	sub.draining = true
	b.wg.Add(1)
	sub.mu.Unlock()

	go b.drain(sub)
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		if len(sub.mailbox) == 0 {
			sub.draining = false
			sub.mu.Unlock()
			return
		}
		d := sub.mailbox[0]
		sub.mailbox[0] = delivery{}
		sub.mailbox = sub.mailbox[1:]
		sub.mu.Unlock()

		b.invoke(sub, d)
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"subscription", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = without(b.typed[eventType], sub.id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := &subscription{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = without(b.allSubs, sub.id)
	}
}

func without(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			out := make([]*subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes and waits until every queued event has been
// handled. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
