package processor

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWorkerPool_GoTracksLiveCount(t *testing.T) {
	pool := NewWorkerPool("test")
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	pool.Go(func() {
		defer wg.Done()
		<-release
	})

	deadline := time.Now().Add(time.Second)
	for pool.Live() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pool.Live() != 1 {
		t.Fatalf("expected 1 live worker, got %d", pool.Live())
	}

	close(release)
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if pool.Live() != 0 {
		t.Errorf("expected 0 live workers after completion, got %d", pool.Live())
	}
}

func TestWorkerPool_RunInlineBlocksCaller(t *testing.T) {
	pool := NewWorkerPool("test")
	ran := false
	pool.RunInline(func() { ran = true })
	if !ran {
		t.Error("expected RunInline to run fn synchronously")
	}
	if pool.Live() != 0 {
		t.Errorf("expected live count back to 0 after RunInline returns, got %d", pool.Live())
	}
}

func TestWorkerPool_AwaitRespectsContextDeadline(t *testing.T) {
	pool := NewWorkerPool("test")
	block := make(chan struct{})
	defer close(block)
	pool.Go(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Await(ctx); err == nil {
		t.Error("expected Await to time out while a worker is still live")
	}
}
