package processor

import (
	"context"
	"errors"
	"time"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/store"
)

// launcher discovers segments and hands each unclaimed one to a worker,
// per spec §4.2. It runs on its own goroutine for the lifetime of a
// Start/ShutDown cycle, claiming as many segments as MaxThreadCount
// allows and otherwise polling.
type launcher struct {
	cfg              *Config
	state            *track.StateHolder
	active           *track.ActiveSegments
	releaseRequested *track.ActiveSegments
	pool             *WorkerPool
}

func newLauncher(cfg *Config, state *track.StateHolder, active, releaseRequested *track.ActiveSegments, pool *WorkerPool) *launcher {
	return &launcher{cfg: cfg, state: state, active: active, releaseRequested: releaseRequested, pool: pool}
}

// run is the launcher's main loop. It returns when ctx is done, when
// the processor stops running, or after it has run a worker inline.
func (l *launcher) run(ctx context.Context) {
	for l.state.IsRunning() && ctx.Err() == nil {
		claimedAny, immediateRetry, ranInline, err := l.tryClaimAvailableSegments(ctx)
		if err != nil {
			if errors.Is(err, store.ErrTokenStoreUnavailable) {
				// Non-transient infrastructure failure: retrying the walk
				// won't help, so the processor moves to StatePausedError
				// and the Launcher exits rather than spinning on it.
				l.cfg.Logger.Error(ctx, "launcher stopping: token store unavailable", "error", err)
				l.state.Set(track.StatePausedError)
				return
			}
			l.cfg.Logger.Error(ctx, "launcher failed to discover segments", "error", err)
		}

		if ranInline {
			// The launcher's own goroutine just ran a worker to completion
			// inline. That worker only returns once its segment is no
			// longer this launcher's to run — released on request, or the
			// processor is stopping — so the launcher thread ends
			// here rather than looping back and reclaiming the very
			// segment it just gave up.
			return
		}

		if claimedAny || immediateRetry {
			continue // immediate retry: there may be more unclaimed segments, or contention just cleared.
		}

		if !l.sleepInSlices(ctx, 5*time.Second) {
			return
		}
	}
}

// tryClaimAvailableSegments walks the known segment set once, claiming
// and dispatching every segment not already active in this process,
// stopping once MaxThreadCount workers are live. It reports whether it
// claimed at least one segment and whether it hit contention on
// ErrUnableToClaim — both cases skip the idle sleep and retry
// immediately, per spec §4.2 step 6 and the §4.6 failure table (only
// the worker backs off on contention, not the Launcher) — and whether
// the inline-worker trick ran a worker to completion on the launcher's
// own goroutine, in which case the caller must exit rather than loop
// back.
func (l *launcher) tryClaimAvailableSegments(ctx context.Context) (claimedAny bool, immediateRetry bool, ranInline bool, err error) {
	ids, err := l.cfg.TokenStore.FetchSegments(ctx, l.cfg.Name)
	if err != nil {
		return false, false, false, err
	}

	if len(ids) == 0 {
		if l.cfg.InitialSegmentsCount <= 0 {
			return false, false, false, nil
		}
		err := l.cfg.TransactionManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
			return l.cfg.TokenStore.InitializeTokenSegments(ctx, l.cfg.Name, l.cfg.InitialSegmentsCount, nil)
		})
		if err != nil {
			return false, false, false, err
		}
		ids, err = l.cfg.TokenStore.FetchSegments(ctx, l.cfg.Name)
		if err != nil {
			return false, false, false, err
		}
	}

	segments := track.ComputeSegments(ids)

	var inlineSegment *track.Segment

	for i := range segments {
		if l.active.Len() >= l.cfg.MaxThreadCount {
			break
		}
		segment := segments[i]
		if l.active.Contains(segment.ID) {
			continue
		}
		if !l.active.Add(segment.ID) {
			continue
		}

		if err := l.claim(ctx, segment); err != nil {
			l.active.Remove(segment.ID)
			if errors.Is(err, store.ErrUnableToClaim) {
				immediateRetry = true
				continue
			}
			if errors.Is(err, store.ErrTokenStoreUnavailable) {
				return claimedAny, immediateRetry, false, err
			}
			l.cfg.Logger.Error(ctx, "failed to claim segment", "segment", segment.ID, "error", err)
			continue
		}

		claimedAny = true
		worker := newSegmentWorker(l.cfg, segment, l.state, l.active, l.releaseRequested)

		// Spawn a dedicated goroutine while the pool has spare capacity;
		// otherwise run this segment inline on the launcher's own
		// goroutine (the launcher itself already counts toward
		// pool.Live() as one of the MaxThreadCount slots, matching
		// Axon's activeThreads() < maxThreadCount check). Only when no
		// spare capacity remains does the launcher give up its own
		// thread to become this segment's worker.
		if l.pool.Live() < l.cfg.MaxThreadCount {
			l.pool.Go(func() { worker.run(ctx) })
			continue
		}
		inlineSegment = &segment
		break
	}

	if inlineSegment != nil {
		worker := newSegmentWorker(l.cfg, *inlineSegment, l.state, l.active, l.releaseRequested)
		l.pool.RunInline(func() { worker.run(ctx) })
		return claimedAny, immediateRetry, true, nil
	}

	return claimedAny, immediateRetry, false, nil
}

// claim attempts to acquire this segment's token store claim for
// cfg.Owner. It doesn't need the fetched token — the launcher only
// needs to know a claim was acquired before handing the segment to a
// worker, which will fetch its own token when it opens a stream.
func (l *launcher) claim(ctx context.Context, segment track.Segment) error {
	_, err := l.cfg.TransactionManager.FetchInTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return l.cfg.TokenStore.FetchToken(ctx, l.cfg.Name, segment.ID, l.cfg.Owner)
	})
	return err
}

// sleepInSlices sleeps for d in 100ms increments, returning early (with
// a false result) if ctx is done or the processor stops running, so the
// launcher notices shutdown within one slice instead of the full idle interval.
func (l *launcher) sleepInSlices(ctx context.Context, d time.Duration) bool {
	const slice = 100 * time.Millisecond
	elapsed := time.Duration(0)
	for elapsed < d {
		if !l.state.IsRunning() || ctx.Err() != nil {
			return false
		}
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		elapsed += slice
	}
	return l.state.IsRunning() && ctx.Err() == nil
}
