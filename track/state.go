package track

import "sync/atomic"

// TrackingState is the lifecycle of a tracking event processor. Only
// StateStarted permits processing.
type TrackingState int32

const (
	// StateNotStarted is the initial state before Start is ever called.
	StateNotStarted TrackingState = iota
	// StateStarted permits the Launcher and workers to process events.
	StateStarted
	// StatePaused means processing was paused deliberately; resumable via Start.
	StatePaused
	// StatePausedError means processing stopped because a worker hit an uncaught error.
	StatePausedError
	// StateShutDown is terminal for this lifecycle: no further Start calls resume it.
	StateShutDown
)

// String renders the state for logging.
func (s TrackingState) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateStarted:
		return "STARTED"
	case StatePaused:
		return "PAUSED"
	case StatePausedError:
		return "PAUSED_ERROR"
	case StateShutDown:
		return "SHUT_DOWN"
	default:
		return "UNKNOWN"
	}
}

// StateHolder is an atomically-swapped TrackingState, read at every loop
// head and every sleep slice by the Launcher and SegmentWorkers, and
// written from Start/ShutDown/error paths.
type StateHolder struct {
	value atomic.Int32
}

// NewStateHolder creates a holder initialized to StateNotStarted.
func NewStateHolder() *StateHolder {
	return &StateHolder{}
}

// Get returns the current state.
func (h *StateHolder) Get() TrackingState {
	return TrackingState(h.value.Load())
}

// Set unconditionally sets the state.
func (h *StateHolder) Set(s TrackingState) {
	h.value.Store(int32(s))
}

// CompareAndSwap atomically sets the state to next if it is currently
// current, reporting whether the swap happened.
func (h *StateHolder) CompareAndSwap(current, next TrackingState) bool {
	return h.value.CompareAndSwap(int32(current), int32(next))
}

// IsRunning reports whether the state permits processing.
func (h *StateHolder) IsRunning() bool {
	return h.Get() == StateStarted
}

// IsError reports whether the processor is paused due to an uncaught error.
func (h *StateHolder) IsError() bool {
	return h.Get() == StatePausedError
}

// IsShutDown reports whether shutdown is terminal for this lifecycle.
func (h *StateHolder) IsShutDown() bool {
	return h.Get() == StateShutDown
}
