package processor

import (
	"context"
	"testing"
	"time"

	"github.com/tracklane/processor/track"
)

func TestReplayingStream_RewritesTokenUntilWindowCloses(t *testing.T) {
	inner := &fixedTokenStream{
		events: []track.TrackedEvent{
			fakeEventAt("a1", track.GlobalSequenceToken(1)),
			fakeEventAt("a2", track.GlobalSequenceToken(2)),
			fakeEventAt("a3", track.GlobalSequenceToken(3)),
		},
	}
	// A reset that happened once 3 events had already been processed:
	// the replay window is open until the live position reaches 3 again.
	storedReplay := track.NewReplayToken(track.GlobalSequenceToken(3))

	stream := NewReplayingStream(inner, storedReplay)

	first, err := stream.NextAvailable(context.Background())
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	replay, ok := track.UnwrapReplayToken(first.Token())
	if !ok {
		t.Fatal("expected first event to still carry a replay token")
	}
	if replay.CurrentToken() != track.GlobalSequenceToken(1) {
		t.Errorf("expected current 1, got %v", replay.CurrentToken())
	}

	second, err := stream.NextAvailable(context.Background())
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if _, ok := track.UnwrapReplayToken(second.Token()); !ok {
		t.Fatal("expected second event to still be within the replay window")
	}

	third, err := stream.NextAvailable(context.Background())
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if _, ok := track.UnwrapReplayToken(third.Token()); ok {
		t.Error("expected the replay window to have closed once current reached inner (3)")
	}
	if third.Token() != track.GlobalSequenceToken(3) {
		t.Errorf("expected plain token 3 once the window closes, got %v", third.Token())
	}
}

func TestReplayingStream_NilStoredTokenPassesThrough(t *testing.T) {
	inner := &fixedTokenStream{events: []track.TrackedEvent{fakeEventAt("a1", track.GlobalSequenceToken(1))}}
	stream := NewReplayingStream(inner, nil)

	event, err := stream.NextAvailable(context.Background())
	if err != nil {
		t.Fatalf("NextAvailable: %v", err)
	}
	if event.Token() != track.GlobalSequenceToken(1) {
		t.Errorf("expected token passed through unchanged, got %v", event.Token())
	}
}

func TestReplayingStream_DelegatesPassthroughMethods(t *testing.T) {
	inner := &fixedTokenStream{events: []track.TrackedEvent{fakeEventAt("a1", track.GlobalSequenceToken(1))}}
	stream := NewReplayingStream(inner, nil)

	if !stream.HasNextAvailable() {
		t.Error("expected HasNextAvailable to delegate to inner")
	}
	if !stream.HasNextAvailableWithin(context.Background(), time.Millisecond) {
		t.Error("expected HasNextAvailableWithin to delegate to inner")
	}
	if _, ok := stream.Peek(); !ok {
		t.Error("expected Peek to delegate to inner")
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
