// Package events provides the in-process event router.
//
// State transitions in the pool, token, and scheduler services publish events
// through a Bus; observers (metrics, compliance sinks, the realtime hub)
// subscribe by event type or to everything. Delivery is best-effort broadcast:
// a failing subscriber never rolls back the state change that produced the
// event and never prevents delivery to the remaining subscribers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total events published by type.",
	}, []string{"type"})

	deliveryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Subsystem: "events",
		Name:      "delivery_errors_total",
		Help:      "Total subscriber delivery failures by event type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(publishedTotal, deliveryErrors)
}

// Type discriminates events on the wire and in subscriptions.
type Type string

// Event is implemented by every domain event. Concrete payload structs live
// in the package that owns the state transition.
type Event interface {
	EventType() Type
	OccurredAt() time.Time
}

// Handler consumes one event. Returning an error marks the delivery failed
// for this subscriber only.
type Handler func(ctx context.Context, e Event) error

// Bus fans events out to subscribers in-process.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]Handler
	all    []Handler
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Type][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	b.subs[t] = append(b.subs[t], h)
	b.mu.Unlock()
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
}

// Publish delivers e to every subscriber registered for its type, then to
// every all-events subscriber, exactly once per subscriber per call.
// Delivery order between subscribers is unspecified. Errors and panics are
// isolated per subscriber; Publish itself never fails.
func (b *Bus) Publish(ctx context.Context, e Event) {
	t := e.EventType()
	publishedTotal.WithLabelValues(string(t)).Inc()

	b.mu.RLock()
	typed := make([]Handler, len(b.subs[t]))
	copy(typed, b.subs[t])
	all := make([]Handler, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()

	for _, h := range typed {
		b.deliver(ctx, h, e)
	}
	for _, h := range all {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			deliveryErrors.WithLabelValues(string(e.EventType())).Inc()
			b.logger.Error("panic in event subscriber",
				"event", e.EventType(), "panic", fmt.Sprint(r))
		}
	}()

	if err := h(ctx, e); err != nil {
		deliveryErrors.WithLabelValues(string(e.EventType())).Inc()
		b.logger.Warn("event delivery failed",
			"event", e.EventType(), "error", err)
	}
}
