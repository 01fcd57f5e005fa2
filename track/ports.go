package track

import (
	"context"
	"errors"
	"time"
)

// TrackedEvent is a single event as delivered by a MessageStream: an
// opaque payload plus the metadata the core needs to route and persist
// it — the aggregate identifier for segment matching, and the tracking
// token marking its position.
//
// WithToken returns a copy of this event carrying a different token; it
// exists so ReplayingStream can rewrite tokens without needing to know
// anything about the concrete event type.
type TrackedEvent interface {
	AggregateIdentifier() string
	Token() TrackingToken
	WithToken(token TrackingToken) TrackedEvent
}

// MessageStream is an open cursor over an event stream, positioned at
// or after the token OpenStream was called with.
type MessageStream interface {
	// Peek returns the next event without consuming it, if one is
	// already available. It never blocks.
	Peek() (event TrackedEvent, ok bool)

	// HasNextAvailable reports, without blocking, whether an event is
	// immediately available.
	HasNextAvailable() bool

	// HasNextAvailableWithin reports whether an event becomes available
	// within timeout, blocking at most that long.
	HasNextAvailableWithin(ctx context.Context, timeout time.Duration) bool

	// NextAvailable blocks until an event is available or ctx is done,
	// then consumes and returns it.
	NextAvailable(ctx context.Context) (TrackedEvent, error)

	// Close releases any resources held by the stream.
	Close() error
}

// ErrStreamClosed is returned by NextAvailable when ctx was canceled
// while waiting for the next event.
var ErrStreamClosed = errors.New("track: stream closed while waiting for next event")

// MessageSource opens a MessageStream positioned at token. A nil token
// means "from the beginning of the stream."
type MessageSource interface {
	OpenStream(ctx context.Context, token TrackingToken) (MessageStream, error)
}

// TransactionManager brackets action/supplier in whatever transactional
// envelope the caller's infrastructure provides. It is the seam that
// lets token persistence, handler side effects, and claim
// extension/release commit or roll back together.
type TransactionManager interface {
	// ExecuteInTransaction runs action inside a transaction, committing
	// on a nil return and rolling back otherwise.
	ExecuteInTransaction(ctx context.Context, action func(ctx context.Context) error) error

	// FetchInTransaction runs supplier inside a transaction and returns
	// its result, committing on a nil error.
	FetchInTransaction(ctx context.Context, supplier func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// EventHandlerInvoker dispatches events to the registered domain
// handlers for a given segment and supports the reset protocol.
type EventHandlerInvoker interface {
	// CanHandle reports whether any registered handler wants to see this event.
	CanHandle(ctx context.Context, event TrackedEvent, segment Segment) (bool, error)

	// Handle dispatches the event to every handler that can handle it.
	Handle(ctx context.Context, event TrackedEvent, segment Segment) error

	// SupportsReset reports whether PerformReset is meaningful for this invoker.
	SupportsReset() bool

	// PerformReset runs before tokens are rewritten to replay tokens,
	// giving handlers a chance to clear projected state.
	PerformReset(ctx context.Context) error
}

// ErrorHandler decides, for a handler error, whether the batch should
// roll back and be retried (return the error unchanged or wrapped) or
// be swallowed so the batch proceeds (return nil).
type ErrorHandler interface {
	HandleError(ctx context.Context, err error, event TrackedEvent, segment Segment) error
}

// MessageMonitor observes processing outcomes without influencing them.
type MessageMonitor interface {
	OnEventIgnored(ctx context.Context, event TrackedEvent, segment Segment)
	OnMessageHandled(ctx context.Context, event TrackedEvent, segment Segment, err error)
}

// PropagatingErrorHandler is the default ErrorHandler: every handler
// error rolls back the batch and the worker retries with backoff.
type PropagatingErrorHandler struct{}

// HandleError implements ErrorHandler by always propagating err unchanged.
func (PropagatingErrorHandler) HandleError(_ context.Context, err error, _ TrackedEvent, _ Segment) error {
	return err
}

// NoOpMessageMonitor discards every observation.
type NoOpMessageMonitor struct{}

// OnEventIgnored implements MessageMonitor.
func (NoOpMessageMonitor) OnEventIgnored(context.Context, TrackedEvent, Segment) {}

// OnMessageHandled implements MessageMonitor.
func (NoOpMessageMonitor) OnMessageHandled(context.Context, TrackedEvent, Segment, error) {}
