package track

import "testing"

func TestNewReplayToken_StartsCurrentNil(t *testing.T) {
	rt := NewReplayToken(GlobalSequenceToken(10))
	if rt.InnerToken() != GlobalSequenceToken(10) {
		t.Errorf("expected inner token 10, got %v", rt.InnerToken())
	}
	if rt.CurrentToken() != nil {
		t.Errorf("expected current token nil on a fresh replay, got %v", rt.CurrentToken())
	}
	if !rt.IsReplay() {
		t.Error("expected IsReplay true")
	}
}

func TestRestoreReplayToken_PreservesCurrent(t *testing.T) {
	rt := RestoreReplayToken(GlobalSequenceToken(10), GlobalSequenceToken(4))
	if rt.InnerToken() != GlobalSequenceToken(10) {
		t.Errorf("expected inner token 10, got %v", rt.InnerToken())
	}
	if rt.CurrentToken() != GlobalSequenceToken(4) {
		t.Errorf("expected current token 4, got %v", rt.CurrentToken())
	}
}

func TestReplayToken_AdvancedToClosesWindowOnReachingInner(t *testing.T) {
	rt := NewReplayToken(GlobalSequenceToken(10))

	advanced := rt.AdvancedTo(GlobalSequenceToken(5))
	inner, ok := UnwrapReplayToken(advanced)
	if !ok {
		t.Fatal("expected window still open at position 5")
	}
	if inner.CurrentToken() != GlobalSequenceToken(5) {
		t.Errorf("expected current 5, got %v", inner.CurrentToken())
	}

	closed := inner.AdvancedTo(GlobalSequenceToken(10))
	if _, ok := UnwrapReplayToken(closed); ok {
		t.Error("expected window closed once current reaches inner")
	}
	if closed != GlobalSequenceToken(10) {
		t.Errorf("expected plain token 10 after window closes, got %v", closed)
	}
}

func TestReplayToken_AdvancedToClosesWindowOnPassingInner(t *testing.T) {
	rt := NewReplayToken(GlobalSequenceToken(10))
	closed := rt.AdvancedTo(GlobalSequenceToken(11))
	if _, ok := UnwrapReplayToken(closed); ok {
		t.Error("expected window closed once current passes inner")
	}
}

func TestReplayToken_Equals(t *testing.T) {
	a := RestoreReplayToken(GlobalSequenceToken(1), GlobalSequenceToken(0))
	b := RestoreReplayToken(GlobalSequenceToken(1), GlobalSequenceToken(0))
	c := RestoreReplayToken(GlobalSequenceToken(2), GlobalSequenceToken(0))

	if !a.Equals(b) {
		t.Error("expected equal replay tokens with matching inner/current")
	}
	if a.Equals(c) {
		t.Error("expected unequal replay tokens with different inner")
	}
	if a.Equals(GlobalSequenceToken(1)) {
		t.Error("expected a replay token never equal to a plain token")
	}
}

func TestUnwrapReplayToken_PassesThroughPlainTokens(t *testing.T) {
	_, ok := UnwrapReplayToken(GlobalSequenceToken(1))
	if ok {
		t.Error("expected ok=false for a non-replay token")
	}
}
