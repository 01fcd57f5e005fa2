package track

// ReplayToken is a TrackingToken variant marking "events before me are
// replays." It wraps innerToken, the position from which the replay
// began, and currentToken, the live position advancing through the
// replay window. Once currentToken reaches or passes innerToken the
// window is closed and subsequent events carry plain tokens again.
//
// ReplayToken is a decorator in the data model only. Rewriting the
// tokens flowing through a stream is ReplayingStream's job; this type
// just carries the marker and knows how to unwrap itself.
type ReplayToken struct {
	inner   TrackingToken
	current TrackingToken
}

// NewReplayToken wraps original as the inner token — the position the
// processor had reached before the reset — with a nil current token, so
// that opening a stream from it starts back at the beginning of the
// underlying stream (a nil TrackingToken means "from the start" per
// MessageSource). The window closes once events delivered from the
// start catch back up to original.
func NewReplayToken(original TrackingToken) *ReplayToken {
	return &ReplayToken{inner: original, current: nil}
}

// RestoreReplayToken reconstructs a ReplayToken from its raw inner and
// current fields, exactly as read back from a token store. Unlike
// NewReplayToken it does not reset current to nil — it's for adapters
// deserializing a token that was already advancing through its replay
// window when it was persisted.
func RestoreReplayToken(inner, current TrackingToken) *ReplayToken {
	return &ReplayToken{inner: inner, current: current}
}

// InnerToken returns the position the replay began from.
func (r *ReplayToken) InnerToken() TrackingToken {
	return r.inner
}

// CurrentToken returns the live position currently advancing through the replay window.
func (r *ReplayToken) CurrentToken() TrackingToken {
	return r.current
}

// Equals implements TrackingToken. Two replay tokens are equal only if
// both their inner and current positions match; a ReplayToken is never
// equal to a plain token even if the underlying positions coincide,
// since the replay marker itself is part of what's being compared.
func (r *ReplayToken) Equals(other TrackingToken) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	o, ok := other.(*ReplayToken)
	if !ok {
		return false
	}
	return tokensEqual(r.inner, o.inner) && tokensEqual(r.current, o.current)
}

// AdvancedTo advances the replay window to newPosition. If newPosition
// has reached or passed the inner token, the window closes and the
// plain newPosition is returned (no more replay marker). Otherwise a
// new ReplayToken carrying the same inner token and the advanced
// current position is returned.
//
// When inner does not implement OrderedToken, "reached or passed" falls
// back to exact equality: the window closes only when newPosition
// equals inner precisely.
func (r *ReplayToken) AdvancedTo(newPosition TrackingToken) TrackingToken {
	if r == nil {
		return newPosition
	}
	if replayWindowClosed(r.inner, newPosition) {
		return newPosition
	}
	return &ReplayToken{inner: r.inner, current: newPosition}
}

// IsReplay reports whether this token still marks an open replay window.
func (r *ReplayToken) IsReplay() bool {
	return r != nil
}

func replayWindowClosed(inner, current TrackingToken) bool {
	if inner == nil {
		// A nil inner token is the start of the stream: every position has passed it.
		return true
	}
	if ordered, ok := inner.(OrderedToken); ok {
		return ordered.CompareTo(current) <= 0
	}
	return tokensEqual(inner, current)
}

func tokensEqual(a, b TrackingToken) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
}

// UnwrapReplayToken returns token as a *ReplayToken and reports whether
// token was in fact a ReplayToken. For any other TrackingToken it
// returns nil and false.
func UnwrapReplayToken(token TrackingToken) (replay *ReplayToken, ok bool) {
	r, ok := token.(*ReplayToken)
	return r, ok
}
