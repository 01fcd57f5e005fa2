package track

// TrackingToken is an opaque, totally-ordered position in an event
// stream. Tokens are compared by equality only; the stream source
// decides how a token advances. Serialization is the token store's
// concern, not this package's.
type TrackingToken interface {
	// Equals reports whether this token marks the same position as other.
	// A nil other, or an other of an incompatible concrete type, is never equal.
	Equals(other TrackingToken) bool
}

// OrderedToken is implemented by concrete token types whose positions
// can be compared, not just tested for equality. ReplayToken needs this
// to decide when a live position has reached or passed the point a
// replay began from; tokens that don't implement it can still be used
// everywhere else, but a replay window over them only closes on exact
// equality (see ReplayToken.AdvancedTo).
type OrderedToken interface {
	TrackingToken

	// CompareTo returns a negative number if this token precedes other,
	// zero if they mark the same position, and a positive number if this
	// token comes after other. other must be of a compatible concrete
	// type; behavior is undefined otherwise.
	CompareTo(other TrackingToken) int
}

// GlobalSequenceToken is a TrackingToken backed by a monotonically
// increasing sequence number, the natural token for any MessageSource
// whose events are ordered by a single auto-incrementing column (the
// global_position column the SQL adapters read from).
type GlobalSequenceToken int64

// Equals implements TrackingToken.
func (t GlobalSequenceToken) Equals(other TrackingToken) bool {
	o, ok := other.(GlobalSequenceToken)
	return ok && t == o
}

// CompareTo implements OrderedToken.
func (t GlobalSequenceToken) CompareTo(other TrackingToken) int {
	o, ok := other.(GlobalSequenceToken)
	if !ok {
		return 0
	}
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	default:
		return 0
	}
}
