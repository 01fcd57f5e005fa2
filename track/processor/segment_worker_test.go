package processor

import (
	"context"
	"testing"
	"time"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/adapters/memory"
)

func TestSegmentWorker_ReleaseRequestStopsPromptly(t *testing.T) {
	cfg, _, tokenStore := newLiveConfig("worker-release")
	cfg.Invoker = &countingInvoker{}
	_ = tokenStore.InitializeTokenSegments(context.Background(), cfg.Name, 1, nil)

	state := track.NewStateHolder()
	state.Set(track.StateStarted)
	active := track.NewActiveSegments()
	active.Add(0)
	released := track.NewActiveSegments()
	released.Add(0)

	worker := newSegmentWorker(&cfg, track.RootSegment, state, active, released)

	done := make(chan struct{})
	go func() {
		worker.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected worker to exit promptly on a pending release request")
	}

	if active.Contains(0) {
		t.Error("expected the worker to remove itself from active on exit")
	}
}

func TestSegmentWorker_ProcessesEventsThenStopsOnShutdown(t *testing.T) {
	cfg, log, tokenStore := newLiveConfig("worker-process")
	inv := &countingInvoker{}
	cfg.Invoker = inv
	_ = tokenStore.InitializeTokenSegments(context.Background(), cfg.Name, 1, nil)

	log.Append(memory.StoredEvent{AggregateID: "a1", EventType: "Created"})
	log.Append(memory.StoredEvent{AggregateID: "a2", EventType: "Created"})

	state := track.NewStateHolder()
	state.Set(track.StateStarted)
	active := track.NewActiveSegments()
	active.Add(0)
	released := track.NewActiveSegments()

	worker := newSegmentWorker(&cfg, track.RootSegment, state, active, released)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for inv.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if inv.count() != 2 {
		t.Fatalf("expected 2 events processed, got %d", inv.count())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected worker to exit after context cancellation")
	}
}
