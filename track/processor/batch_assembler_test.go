package processor

import (
	"context"
	"testing"
	"time"

	"github.com/tracklane/processor/track"
	"github.com/tracklane/processor/track/adapters/memory"
)

type recordingInvoker struct {
	handled []string
}

func (r *recordingInvoker) CanHandle(_ context.Context, _ track.TrackedEvent, _ track.Segment) (bool, error) {
	return true, nil
}

func (r *recordingInvoker) Handle(_ context.Context, event track.TrackedEvent, _ track.Segment) error {
	r.handled = append(r.handled, event.AggregateIdentifier())
	return nil
}

func (r *recordingInvoker) SupportsReset() bool             { return false }
func (r *recordingInvoker) PerformReset(_ context.Context) error { return nil }

func newTestConfig(t *testing.T, log *memory.EventLog, tokenStore *memory.TokenStore, invoker track.EventHandlerInvoker, batchSize int) *Config {
	t.Helper()
	cfg := DefaultConfig("test-processor")
	cfg.BatchSize = batchSize
	cfg.MessageSource = memory.NewMessageSource(log, memory.DefaultMessageSourceConfig())
	cfg.TokenStore = tokenStore
	cfg.TransactionManager = memory.NewTransactionManager()
	cfg.Invoker = invoker
	cfg.Owner = "test-owner"
	return &cfg
}

func TestBatchAssembler_ProcessBatchDispatchesMatchingEvents(t *testing.T) {
	log := memory.NewEventLog()
	log.Append(memory.StoredEvent{AggregateID: "a1", EventType: "Created"})
	log.Append(memory.StoredEvent{AggregateID: "a2", EventType: "Created"})

	tokenStore := memory.NewTokenStore(memory.DefaultTokenStoreConfig())
	inv := &recordingInvoker{}
	cfg := newTestConfig(t, log, tokenStore, inv, 10)
	_ = tokenStore.InitializeTokenSegments(context.Background(), cfg.Name, 1, nil)
	_, _ = tokenStore.FetchToken(context.Background(), cfg.Name, 0, cfg.Owner)

	stream, err := cfg.MessageSource.OpenStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	assembler := newBatchAssembler(cfg, track.RootSegment)
	if err := assembler.processBatch(context.Background(), stream); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	if len(inv.handled) != 2 {
		t.Fatalf("expected both events handled, got %v", inv.handled)
	}

	stored, err := tokenStore.FetchToken(context.Background(), cfg.Name, 0, cfg.Owner)
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if stored != track.GlobalSequenceToken(2) {
		t.Errorf("expected stored token 2, got %v", stored)
	}
}

func TestBatchAssembler_IgnoredEventsStillAdvanceToken(t *testing.T) {
	log := memory.NewEventLog()
	log.Append(memory.StoredEvent{AggregateID: "outside-segment", EventType: "Created"})

	tokenStore := memory.NewTokenStore(memory.DefaultTokenStoreConfig())
	inv := &recordingInvoker{}
	cfg := newTestConfig(t, log, tokenStore, inv, 10)
	_ = tokenStore.InitializeTokenSegments(context.Background(), cfg.Name, 1, nil)

	// A non-root segment that never matches "outside-segment": force by
	// using a leaf segment split off root and picking whichever leaf
	// the id doesn't hash into.
	first, second := track.RootSegment.Split()
	segment := first
	if segment.Matches("outside-segment") {
		segment = second
	}

	stream, err := cfg.MessageSource.OpenStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	assembler := newBatchAssembler(cfg, segment)
	if err := assembler.processBatch(context.Background(), stream); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	if len(inv.handled) != 0 {
		t.Errorf("expected no events handled by the non-matching segment, got %v", inv.handled)
	}
}

func TestBatchAssembler_IdlePollExtendsClaim(t *testing.T) {
	log := memory.NewEventLog()
	tokenStore := memory.NewTokenStore(memory.DefaultTokenStoreConfig())
	inv := &recordingInvoker{}
	cfg := newTestConfig(t, log, tokenStore, inv, 10)
	cfg.MessageSource = memory.NewMessageSource(log, memory.MessageSourceConfig{FetchSize: 16, PollInterval: 5 * time.Millisecond})
	_ = tokenStore.InitializeTokenSegments(context.Background(), cfg.Name, 1, nil)
	_, _ = tokenStore.FetchToken(context.Background(), cfg.Name, 0, cfg.Owner)

	stream, err := cfg.MessageSource.OpenStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	assembler := newBatchAssembler(cfg, track.RootSegment)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := assembler.processBatch(ctx, stream); err != nil {
		t.Fatalf("processBatch on an idle stream: %v", err)
	}
}

func TestBatchAssembler_UpcastGroupCoalesces(t *testing.T) {
	// Two events sharing the same token are the on-the-wire shape of an
	// upcast group: they must land in the same committed batch.
	log := memory.NewEventLog()
	tokenStore := memory.NewTokenStore(memory.DefaultTokenStoreConfig())
	inv := &recordingInvoker{}
	cfg := newTestConfig(t, log, tokenStore, inv, 1)
	_ = tokenStore.InitializeTokenSegments(context.Background(), cfg.Name, 1, nil)
	_, _ = tokenStore.FetchToken(context.Background(), cfg.Name, 0, cfg.Owner)

	fakeStream := &fixedTokenStream{
		events: []track.TrackedEvent{
			fakeEventAt("a1", track.GlobalSequenceToken(5)),
			fakeEventAt("a2", track.GlobalSequenceToken(5)),
			fakeEventAt("a3", track.GlobalSequenceToken(6)),
		},
	}

	assembler := newBatchAssembler(cfg, track.RootSegment)
	if err := assembler.processBatch(context.Background(), fakeStream); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	if len(inv.handled) != 2 {
		t.Fatalf("expected the two events sharing token 5 coalesced into one batch, got %v", inv.handled)
	}

	stored, err := tokenStore.FetchToken(context.Background(), cfg.Name, 0, cfg.Owner)
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if stored != track.GlobalSequenceToken(5) {
		t.Errorf("expected stored token 5 after coalescing, got %v", stored)
	}
}

func fakeEventAt(aggregateID string, token track.TrackingToken) track.TrackedEvent {
	return fixedEvent{aggregateID: aggregateID, token: token}
}

type fixedEvent struct {
	aggregateID string
	token       track.TrackingToken
}

func (e fixedEvent) AggregateIdentifier() string { return e.aggregateID }
func (e fixedEvent) Token() track.TrackingToken  { return e.token }
func (e fixedEvent) WithToken(token track.TrackingToken) track.TrackedEvent {
	e.token = token
	return e
}

// fixedTokenStream is a minimal in-test MessageStream over a fixed
// slice, used where the upcast-coalescing behavior needs precise
// control over which events share a token.
type fixedTokenStream struct {
	events []track.TrackedEvent
	pos    int
}

func (s *fixedTokenStream) Peek() (track.TrackedEvent, bool) {
	if s.pos >= len(s.events) {
		return nil, false
	}
	return s.events[s.pos], true
}

func (s *fixedTokenStream) HasNextAvailable() bool {
	return s.pos < len(s.events)
}

func (s *fixedTokenStream) HasNextAvailableWithin(_ context.Context, _ time.Duration) bool {
	return s.HasNextAvailable()
}

func (s *fixedTokenStream) NextAvailable(_ context.Context) (track.TrackedEvent, error) {
	if s.pos >= len(s.events) {
		return nil, track.ErrStreamClosed
	}
	e := s.events[s.pos]
	s.pos++
	return e, nil
}

func (s *fixedTokenStream) Close() error { return nil }
