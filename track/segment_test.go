package track

import "testing"

func TestSegment_RootMatchesEverything(t *testing.T) {
	for _, id := range []string{"a", "b", "some-long-aggregate-id"} {
		if !RootSegment.Matches(id) {
			t.Errorf("expected root segment to match %q", id)
		}
	}
}

func TestSegment_SplitPartitionsExhaustivelyAndDisjointly(t *testing.T) {
	first, second := RootSegment.Split()
	ids := []string{"a", "b", "c", "user-1", "user-2", "order-99", "x", "y", "z"}

	for _, id := range ids {
		matchesFirst := first.Matches(id)
		matchesSecond := second.Matches(id)
		if matchesFirst == matchesSecond {
			t.Errorf("id %q matched first=%v second=%v, expected exactly one", id, matchesFirst, matchesSecond)
		}
		if !RootSegment.Matches(id) {
			t.Errorf("id %q should still match root", id)
		}
	}
}

func TestSegment_SplitTwiceKeepsChildrenDisjoint(t *testing.T) {
	first, second := RootSegment.Split()
	a, b := first.Split()
	c, d := second.Split()

	segments := []Segment{a, b, c, d}
	ids := []string{"p", "q", "r", "s", "t", "u", "v", "w"}

	for _, id := range ids {
		matches := 0
		for _, seg := range segments {
			if seg.Matches(id) {
				matches++
			}
		}
		if matches != 1 {
			t.Errorf("id %q matched %d of 4 leaf segments, expected exactly 1", id, matches)
		}
	}
}

func TestComputeSegments_InfersMaskFromCount(t *testing.T) {
	segments := ComputeSegments([]int{0, 1})
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	for _, seg := range segments {
		if seg.Mask != 1 {
			t.Errorf("expected mask 1 for 2 segments, got %d", seg.Mask)
		}
	}
}

func TestComputeSegments_Empty(t *testing.T) {
	if segments := ComputeSegments(nil); segments != nil {
		t.Errorf("expected nil for no ids, got %v", segments)
	}
}
