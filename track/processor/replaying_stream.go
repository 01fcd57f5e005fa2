package processor

import (
	"context"
	"sync"
	"time"

	"github.com/tracklane/processor/track"
)

// ReplayingStream decorates a MessageStream to rewrite the tracking
// token carried by each delivered event, marking events as replay
// events until the live position catches up with the point the replay
// began from. Peek, HasNextAvailable, and Close pass through unchanged
// — only NextAvailable rewrites.
type ReplayingStream struct {
	inner track.MessageStream

	mu              sync.Mutex
	lastReplayToken *track.ReplayToken
}

// NewReplayingStream wraps inner, starting from storedToken — the
// ReplayToken read back from the token store for this segment.
func NewReplayingStream(inner track.MessageStream, storedToken *track.ReplayToken) *ReplayingStream {
	return &ReplayingStream{inner: inner, lastReplayToken: storedToken}
}

// Peek implements track.MessageStream.
func (r *ReplayingStream) Peek() (track.TrackedEvent, bool) {
	return r.inner.Peek()
}

// HasNextAvailable implements track.MessageStream.
func (r *ReplayingStream) HasNextAvailable() bool {
	return r.inner.HasNextAvailable()
}

// HasNextAvailableWithin implements track.MessageStream.
func (r *ReplayingStream) HasNextAvailableWithin(ctx context.Context, timeout time.Duration) bool {
	return r.inner.HasNextAvailableWithin(ctx, timeout)
}

// Close implements track.MessageStream.
func (r *ReplayingStream) Close() error {
	return r.inner.Close()
}

// NextAvailable implements track.MessageStream, rewriting the returned
// event's token per spec §4.5.
func (r *ReplayingStream) NextAvailable(ctx context.Context) (track.TrackedEvent, error) {
	event, err := r.inner.NextAvailable(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastReplayToken == nil {
		return event, nil
	}

	newToken := r.lastReplayToken.AdvancedTo(event.Token())
	if replay, ok := track.UnwrapReplayToken(newToken); ok {
		r.lastReplayToken = replay
	} else {
		r.lastReplayToken = nil
	}
	return event.WithToken(newToken), nil
}
