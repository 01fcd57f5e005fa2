package processor

import (
	"context"
	"errors"
	"time"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/store"
)

// segmentWorker runs the per-segment processing loop: it owns exactly
// one segment's claim for as long as it runs, opening streams, driving
// batchAssembler, and handling the failure table in spec §4.6.
type segmentWorker struct {
	cfg              *Config
	segment          track.Segment
	state            *track.StateHolder
	active           *track.ActiveSegments
	releaseRequested *track.ActiveSegments
}

func newSegmentWorker(cfg *Config, segment track.Segment, state *track.StateHolder, active, releaseRequested *track.ActiveSegments) *segmentWorker {
	return &segmentWorker{
		cfg:              cfg,
		segment:          segment,
		state:            state,
		active:           active,
		releaseRequested: releaseRequested,
	}
}

// run is the processingLoop of spec §4.3. It always removes the segment
// from active and releases its claim on the way out, and promotes the
// processor to StatePausedError if anything escapes uncaught.
func (w *segmentWorker) run(ctx context.Context) {
	defer w.finally(ctx)
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error(ctx, "segment worker panicked", "segment", w.segment.ID, "panic", r)
			w.state.Set(track.StatePausedError)
		}
	}()

	errorWaitTime := time.Second
	var stream track.MessageStream
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
	}()

	for w.state.IsRunning() && ctx.Err() == nil {
		if w.releaseRequested.Contains(w.segment.ID) {
			w.releaseRequested.Remove(w.segment.ID)
			w.cfg.Logger.Info(ctx, "segment released on request", "segment", w.segment.ID)
			return
		}

		if stream == nil {
			s, err := w.openStream(ctx)
			if err != nil {
				if errors.Is(err, store.ErrUnableToClaim) {
					w.cfg.Logger.Info(ctx, "unable to claim segment, backing off", "segment", w.segment.ID)
					errorWaitTime = 5 * time.Second
					if !w.waitFor(ctx, errorWaitTime) {
						return
					}
					continue
				}
				w.cfg.Logger.Error(ctx, "failed to open stream for segment", "segment", w.segment.ID, "error", err)
				if !w.waitFor(ctx, errorWaitTime) {
					return
				}
				errorWaitTime = nextBackoff(errorWaitTime)
				continue
			}
			stream = s
		}

		assembler := newBatchAssembler(w.cfg, w.segment)
		err := assembler.processBatch(ctx, stream)
		if err == nil {
			errorWaitTime = time.Second
			continue
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		if errors.Is(err, store.ErrUnableToClaim) {
			w.cfg.Logger.Info(ctx, "lost claim mid-batch, backing off", "segment", w.segment.ID)
			errorWaitTime = 5 * time.Second
			if !w.waitFor(ctx, errorWaitTime) {
				return
			}
			continue // keep stream: it may still be valid once the claim is regained.
		}

		w.cfg.Logger.Error(ctx, "segment worker batch error, releasing claim", "segment", w.segment.ID, "error", err)
		w.releaseClaim(ctx)
		_ = stream.Close()
		stream = nil
		if !w.waitFor(ctx, errorWaitTime) {
			return
		}
		errorWaitTime = nextBackoff(errorWaitTime)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > 60*time.Second {
		return 60 * time.Second
	}
	return next
}

// openStream fetches (and thereby claims) this segment's current token,
// then opens a stream from it. A ReplayToken is unwrapped: the
// underlying stream is opened from its current position (nil the first
// time, meaning "from the beginning") and wrapped in a ReplayingStream
// so persisted tokens keep carrying the replay marker until the window
// closes — see DESIGN.md for why this reads the ReplayToken's current
// field rather than its inner field, resolving an ambiguity in the
// processing-loop description against the worked reset example.
func (w *segmentWorker) openStream(ctx context.Context) (track.MessageStream, error) {
	result, err := w.cfg.TransactionManager.FetchInTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return w.cfg.TokenStore.FetchToken(ctx, w.cfg.Name, w.segment.ID, w.cfg.Owner)
	})
	if err != nil {
		return nil, err
	}

	token, _ := result.(track.TrackingToken)

	if replay, ok := track.UnwrapReplayToken(token); ok {
		inner, err := w.cfg.MessageSource.OpenStream(ctx, replay.CurrentToken())
		if err != nil {
			return nil, err
		}
		return NewReplayingStream(inner, replay), nil
	}

	return w.cfg.MessageSource.OpenStream(ctx, token)
}

func (w *segmentWorker) releaseClaim(ctx context.Context) {
	err := w.cfg.TransactionManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		return w.cfg.TokenStore.ReleaseClaim(ctx, w.cfg.Name, w.segment.ID, w.cfg.Owner)
	})
	if err != nil {
		// Swallowed deliberately: the next fetchToken naturally reclaims
		// once this owner's lease expires. See DESIGN.md Open Questions.
		w.cfg.Logger.Error(ctx, "failed to release claim", "segment", w.segment.ID, "error", err)
	}
}

func (w *segmentWorker) finally(ctx context.Context) {
	w.releaseClaim(ctx)
	w.active.Remove(w.segment.ID)
}

// waitFor sleeps for d, returning false if ctx was canceled or the
// processor stopped running during the wait so the caller can exit
// immediately instead of looping once more.
func (w *segmentWorker) waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return w.state.IsRunning()
	}
}
