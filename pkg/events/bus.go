// Package events provides the change-notification bus. The catalog store
// publishes record-change events here after commits; subscribers such as the
// response-cache invalidator register interest per record kind. The pipeline
// driver suppresses delivery for the duration of a bulk ingest.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Action describes what happened to a record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// KindAny subscribes a handler to events of every record kind.
const KindAny = "*"

// Event is a record-change notification.
type Event struct {
	Kind   string
	ID     uint
	Action Action
}

// Handler receives an event. Delivery is synchronous relative to the
// committing transaction; a handler error is logged and never rolls the
// commit back.
type Handler func(Event) error

// Bus dispatches record-change events to subscribers. Delivery is
// at-least-once and in commit order. While suppressed, Publish drops
// events silently.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]Handler
	suppressed atomic.Bool
	logger     *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for a record kind. Use KindAny to receive
// events for all kinds.
func (b *Bus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], h)
}

// Publish delivers an event to all matching subscribers. Handler errors are
// logged and do not stop delivery to the remaining subscribers.
func (b *Bus) Publish(e Event) {
	if b == nil || b.suppressed.Load() {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind])+len(b.subs[KindAny]))
	handlers = append(handlers, b.subs[e.Kind]...)
	handlers = append(handlers, b.subs[KindAny]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(e); err != nil {
			b.logger.Error("event subscriber failed",
				"kind", e.Kind,
				"id", e.ID,
				"action", e.Action,
				"error", err)
		}
	}
}

// Suppress disables delivery. Events published while suppressed are dropped.
func (b *Bus) Suppress() {
	if b == nil {
		return
	}
	b.suppressed.Store(true)
}

// Resume re-enables delivery.
func (b *Bus) Resume() {
	if b == nil {
		return
	}
	b.suppressed.Store(false)
}

// Suppressed reports whether delivery is currently disabled.
func (b *Bus) Suppressed() bool {
	return b != nil && b.suppressed.Load()
}
