package track

import "hash/fnv"

// Segment identifies a partition of the aggregate-identifier space by a
// pair (id, mask). An event belongs to a segment when
// hash(aggregateIdentifier) & mask == id. The root segment (0, 0)
// matches every event.
//
// The hash uses FNV-1a, the same algorithm the rest of this codebase's
// lineage uses for deterministic aggregate-id partitioning.
type Segment struct {
	ID   int
	Mask int
}

// RootSegment is the (0, 0) segment matching every event; it's the
// starting point before any split has happened.
var RootSegment = Segment{ID: 0, Mask: 0}

// Matches reports whether the given aggregate identifier belongs to this segment.
func (s Segment) Matches(aggregateIdentifier string) bool {
	return hashAggregateID(aggregateIdentifier)&s.Mask == s.ID
}

func hashAggregateID(aggregateIdentifier string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateIdentifier))
	return int(h.Sum32())
}

// Split divides this segment into two children by widening the mask by
// one bit. The first child keeps this segment's id under the new mask;
// the second child claims the newly freed high bit. Splitting segment
// (s, m) yields (s, (m<<1)|1) and (s|(m+1), (m<<1)|1).
func (s Segment) Split() (Segment, Segment) {
	newMask := (s.Mask << 1) | 1
	first := Segment{ID: s.ID, Mask: newMask}
	second := Segment{ID: s.ID | (s.Mask + 1), Mask: newMask}
	return first, second
}

// ComputeSegments reconstructs the full segment set from a slice of
// segment ids fetched from the token store. It infers each segment's
// mask as the smallest (2^n - 1) mask that is at least as large as the
// greatest id present, which matches how ids are always produced by
// repeated Split calls starting from the root segment.
func ComputeSegments(ids []int) []Segment {
	if len(ids) == 0 {
		return nil
	}

	mask := 0
	for mask+1 < len(ids) {
		mask = (mask << 1) | 1
	}

	segments := make([]Segment, 0, len(ids))
	for _, id := range ids {
		segments = append(segments, Segment{ID: id, Mask: mask})
	}
	return segments
}
