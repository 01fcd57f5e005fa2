// Package invoker provides the default track.EventHandlerInvoker: a
// router that dispatches a TrackedEvent to every Handler registered for
// its event type.
package invoker

import (
	"context"
	"fmt"

	"github.com/tracklane/processor/track"
)

// TypedEvent is implemented by TrackedEvent values that carry enough
// information for this package to route them — the adapters in
// track/adapters/* satisfy it without importing this package.
type TypedEvent interface {
	EventType() string
	Payload() []byte
}

// Handler processes events of the types it declares.
type Handler interface {
	// HandledEventTypes lists the event type names this handler wants to see.
	HandledEventTypes() []string

	// Handle processes event. segment is passed through for handlers
	// that maintain per-segment state.
	Handle(ctx context.Context, event track.TrackedEvent, segment track.Segment) error
}

// Resettable is implemented by handlers that need to clear projected
// state before a replay begins.
type Resettable interface {
	Reset(ctx context.Context) error
}

// Invoker is the default track.EventHandlerInvoker, routing by event
// type to one or more registered Handlers.
type Invoker struct {
	handlers map[string][]Handler
}

// New builds an Invoker from a set of Handlers, indexed by their declared event types.
func New(handlers ...Handler) *Invoker {
	inv := &Invoker{handlers: make(map[string][]Handler)}
	for _, h := range handlers {
		for _, eventType := range h.HandledEventTypes() {
			inv.handlers[eventType] = append(inv.handlers[eventType], h)
		}
	}
	return inv
}

// CanHandle implements track.EventHandlerInvoker.
func (inv *Invoker) CanHandle(_ context.Context, event track.TrackedEvent, _ track.Segment) (bool, error) {
	typed, ok := event.(TypedEvent)
	if !ok {
		return false, nil
	}
	return len(inv.handlers[typed.EventType()]) > 0, nil
}

// Handle implements track.EventHandlerInvoker, invoking every handler
// registered for event's type. The first handler error aborts the batch.
func (inv *Invoker) Handle(ctx context.Context, event track.TrackedEvent, segment track.Segment) error {
	typed, ok := event.(TypedEvent)
	if !ok {
		return nil
	}
	for _, h := range inv.handlers[typed.EventType()] {
		if err := h.Handle(ctx, event, segment); err != nil {
			return fmt.Errorf("invoker: handler failed for event type %q: %w", typed.EventType(), err)
		}
	}
	return nil
}

// SupportsReset implements track.EventHandlerInvoker: true if any
// registered handler implements Resettable.
func (inv *Invoker) SupportsReset() bool {
	for _, hs := range inv.handlers {
		for _, h := range hs {
			if _, ok := h.(Resettable); ok {
				return true
			}
		}
	}
	return false
}

// PerformReset implements track.EventHandlerInvoker, calling Reset on
// every handler that implements Resettable. A handler registered under
// multiple event types is reset only once.
func (inv *Invoker) PerformReset(ctx context.Context) error {
	seen := make(map[Handler]bool)
	for _, hs := range inv.handlers {
		for _, h := range hs {
			if seen[h] {
				continue
			}
			seen[h] = true
			if r, ok := h.(Resettable); ok {
				if err := r.Reset(ctx); err != nil {
					return fmt.Errorf("invoker: reset failed: %w", err)
				}
			}
		}
	}
	return nil
}
