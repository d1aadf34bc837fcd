// Package bus provides the async event bus between the platform gateway and
// the agent's handlers, and between the agent and its notification channels.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes a single inbound event.
type Handler func(ctx context.Context, ev *Event)

// EventBus decouples the platform gateway from the agent core.
// Every inbound event runs on its own goroutine; handlers coordinate only
// through the state they share explicitly.
type EventBus struct {
	inbound  chan *Event
	outbound chan *Notification
	handlers map[Kind][]Handler
	subs     map[string][]func(*Notification)
	inflight sync.WaitGroup
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		inbound:  make(chan *Event, 100),
		outbound: make(chan *Notification, 100),
		handlers: make(map[Kind][]Handler),
		subs:     make(map[string][]func(*Notification)),
	}
}

// PublishInbound queues an event from the gateway for dispatch.
func (b *EventBus) PublishInbound(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.inbound <- ev
}

// Handle registers a handler for events of the given kind.
func (b *EventBus) Handle(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[kind] = append(b.handlers[kind], h)
}

// DispatchInbound runs the inbound dispatcher until ctx is cancelled, then
// waits for in-flight handlers to return.
// This should be run as a goroutine.
func (b *EventBus) DispatchInbound(ctx context.Context) error {
	defer b.inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.inbound:
			b.mu.RLock()
			handlers := b.handlers[ev.Kind]
			b.mu.RUnlock()
			if len(handlers) == 0 {
				continue
			}

			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				for _, h := range handlers {
					runHandler(ctx, h, ev)
				}
			}()
		}
	}
}

func runHandler(ctx context.Context, h Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"kind", ev.Kind, "event", ev.ID, "guild", ev.GuildID,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	h(ctx, ev)
}

// PublishOutbound queues a notification for delivery to every subscribed
// channel. It never blocks: when the queue is full or ctx is done the
// notification is dropped and false is returned, so a stalled delivery
// channel cannot hold up the handler that emitted it.
func (b *EventBus) PublishOutbound(ctx context.Context, n *Notification) bool {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if ctx.Err() != nil {
		slog.Warn("Notification dropped, context done", "kind", n.Kind, "guild", n.GuildID, "error", ctx.Err())
		return false
	}
	select {
	case b.outbound <- n:
		return true
	default:
		slog.Warn("Outbound queue full, dropping notification",
			"kind", n.Kind, "guild", n.GuildID, "queued", len(b.outbound))
		return false
	}
}

// Subscribe registers a named delivery callback for outbound notifications.
func (b *EventBus) Subscribe(channel string, callback func(*Notification)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound notification dispatcher.
// This should be run as a goroutine.
func (b *EventBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-b.outbound:
			b.mu.RLock()
			var callbacks []func(*Notification)
			for _, cbs := range b.subs {
				callbacks = append(callbacks, cbs...)
			}
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(n)
			}
		}
	}
}

// InboundSize returns the number of pending inbound events.
func (b *EventBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound notifications.
func (b *EventBus) OutboundSize() int {
	return len(b.outbound)
}
