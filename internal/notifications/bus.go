// Package notifications fans out per-identity push events and keeps the
// transient notification stacks shown by the chat views.
package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"

	"ecochat/internal/observability"
	"ecochat/models"
)

// Handler receives one decoded per-identity event.
type Handler func(models.UserEvent)

type registration struct {
	id   uint64
	kind string
	fn   Handler
}

// Bus routes per-identity events to handlers registered by event type.
// Handlers run on the dispatching goroutine in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers []registration
	next     uint64
	lastRead *models.UserEvent
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// On registers fn for events of the given kind and returns a function that removes it.
func (b *Bus) On(kind string, fn Handler) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.handlers = append(b.handlers, registration{id: id, kind: kind, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, r := range b.handlers {
				if r.id == id {
					b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// OnAny registers fn for each of kinds.
func (b *Bus) OnAny(kinds []string, fn Handler) func() {
	offs := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		offs = append(offs, b.On(kind, fn))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Dispatch decodes a frame body from the per-identity topic and publishes it.
func (b *Bus) Dispatch(body []byte) {
	var ev models.UserEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		observability.GlobalLogger.Warn("dropping undecodable user event",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(body)),
		)
		return
	}
	b.Publish(ev)
}

// Publish routes ev to every handler registered for its kind.
func (b *Bus) Publish(ev models.UserEvent) {
	kind := ev.Kind()
	observability.PushEvents.WithLabelValues(kind).Inc()

	b.mu.Lock()
	if kind == models.EventMessageRead {
		stored := ev
		b.lastRead = &stored
	}
	var targets []Handler
	for _, r := range b.handlers {
		if r.kind == kind {
			targets = append(targets, r.fn)
		}
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		observability.GlobalLogger.Debug("no handler for user event", slog.String("type", kind))
		return
	}
	for _, fn := range targets {
		b.invoke(kind, fn, ev)
	}
}

func (b *Bus) invoke(kind string, fn Handler, ev models.UserEvent) {
	defer func() {
		if r := recover(); r != nil {
			observability.HandlerPanics.WithLabelValues("bus").Inc()
			observability.GlobalLogger.ErrorContext(context.Background(), "panic in user event handler",
				slog.String("type", kind),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(ev)
}

// LastRead returns the most recent MESSAGE_READ event, if any arrived.
func (b *Bus) LastRead() (models.UserEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastRead == nil {
		return models.UserEvent{}, false
	}
	return *b.lastRead, true
}
