package memory

import (
	"context"
	"testing"
	"time"

	"github.com/tracklane/processor/track"
)

func TestMessageSource_OpenStreamFromNil(t *testing.T) {
	log := NewEventLog()
	log.Append(StoredEvent{AggregateID: "a1", EventType: "Created"})
	log.Append(StoredEvent{AggregateID: "a1", EventType: "Updated"})

	src := NewMessageSource(log, DefaultMessageSourceConfig())
	stream, err := src.OpenStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := stream.NextAvailable(ctx)
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if first.AggregateIdentifier() != "a1" {
		t.Errorf("expected aggregate a1, got %s", first.AggregateIdentifier())
	}
	if first.Token() != track.GlobalSequenceToken(1) {
		t.Errorf("expected token 1, got %v", first.Token())
	}
}

func TestMessageSource_OpenStreamFromToken(t *testing.T) {
	log := NewEventLog()
	log.Append(StoredEvent{AggregateID: "a1", EventType: "Created"})
	log.Append(StoredEvent{AggregateID: "a2", EventType: "Created"})

	src := NewMessageSource(log, DefaultMessageSourceConfig())
	stream, err := src.OpenStream(context.Background(), track.GlobalSequenceToken(1))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	if !stream.HasNextAvailable() {
		t.Fatal("expected an event available past position 1")
	}
	event, ok := stream.Peek()
	if !ok {
		t.Fatal("expected Peek to succeed")
	}
	if event.AggregateIdentifier() != "a2" {
		t.Errorf("expected a2, got %s", event.AggregateIdentifier())
	}
}

func TestMessageSource_HasNextAvailableWithinTimesOut(t *testing.T) {
	log := NewEventLog()
	src := NewMessageSource(log, MessageSourceConfig{FetchSize: 16, PollInterval: 5 * time.Millisecond})
	stream, _ := src.OpenStream(context.Background(), nil)
	defer stream.Close()

	if stream.HasNextAvailableWithin(context.Background(), 30*time.Millisecond) {
		t.Error("expected timeout on an empty log")
	}
}

func TestMessageSource_NextAvailableBlocksUntilAppend(t *testing.T) {
	log := NewEventLog()
	src := NewMessageSource(log, MessageSourceConfig{FetchSize: 16, PollInterval: 5 * time.Millisecond})
	stream, _ := src.OpenStream(context.Background(), nil)
	defer stream.Close()

	result := make(chan track.TrackedEvent, 1)
	errCh := make(chan error, 1)
	go func() {
		event, err := stream.NextAvailable(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- event
	}()

	time.Sleep(15 * time.Millisecond)
	log.Append(StoredEvent{AggregateID: "a1", EventType: "Created"})

	select {
	case event := <-result:
		if event.AggregateIdentifier() != "a1" {
			t.Errorf("expected a1, got %s", event.AggregateIdentifier())
		}
	case err := <-errCh:
		t.Fatalf("NextAvailable: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NextAvailable")
	}
}
