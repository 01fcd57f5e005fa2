package processor

import (
	"context"
	"time"

	"github.com/tracklane/processor/track"
)

// batchAssembler pulls a bounded batch from an open stream, applying
// segment filtering and upcast-group coalescing, and commits it as a
// single unit of work together with the advanced token.
type batchAssembler struct {
	cfg     *Config
	segment track.Segment
}

func newBatchAssembler(cfg *Config, segment track.Segment) *batchAssembler {
	return &batchAssembler{cfg: cfg, segment: segment}
}

// processBatch implements spec §4.4. It returns nil on a clean batch (or
// idle poll), or the error that should drive SegmentWorker's retry/backoff logic.
func (b *batchAssembler) processBatch(ctx context.Context, stream track.MessageStream) error {
	if !stream.HasNextAvailableWithin(ctx, time.Second) {
		return b.cfg.TransactionManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
			return b.cfg.TokenStore.ExtendClaim(ctx, b.cfg.Name, b.segment.ID, b.cfg.Owner)
		})
	}

	batch := make([]track.TrackedEvent, 0, b.cfg.BatchSize)
	var lastToken track.TrackingToken
	ceiling := b.cfg.BatchSize * 10
	inspected := 0

	for len(batch) < b.cfg.BatchSize && inspected < ceiling {
		if inspected > 0 && !stream.HasNextAvailable() {
			break
		}
		event, err := stream.NextAvailable(ctx)
		if err != nil {
			return err
		}
		inspected++
		lastToken = event.Token()

		if b.segment.Matches(event.AggregateIdentifier()) {
			batch = append(batch, event)
		} else {
			b.cfg.Monitor.OnEventIgnored(ctx, event, b.segment)
		}
	}

	if len(batch) == 0 {
		// Invariant 3: every inspected event, matched or not, advances the token.
		if lastToken == nil {
			return nil
		}
		return b.cfg.TransactionManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
			return b.cfg.TokenStore.StoreToken(ctx, lastToken, b.cfg.Name, b.segment.ID, b.cfg.Owner)
		})
	}

	batch, lastToken = b.coalesceUpcastGroup(ctx, stream, batch, lastToken)

	return b.cfg.TransactionManager.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		return b.commitBatch(ctx, batch, lastToken)
	})
}

// coalesceUpcastGroup keeps consuming events that share lastToken with
// the batch's tail — such events arose from one source event expanding
// into several logical ones during upcasting and must commit together,
// even though this may push the batch past BatchSize.
func (b *batchAssembler) coalesceUpcastGroup(
	ctx context.Context,
	stream track.MessageStream,
	batch []track.TrackedEvent,
	lastToken track.TrackingToken,
) ([]track.TrackedEvent, track.TrackingToken) {
	for {
		peeked, ok := stream.Peek()
		if !ok || lastToken == nil || !peeked.Token().Equals(lastToken) {
			return batch, lastToken
		}
		event, err := stream.NextAvailable(ctx)
		if err != nil {
			return batch, lastToken
		}
		lastToken = event.Token()
		if b.segment.Matches(event.AggregateIdentifier()) {
			batch = append(batch, event)
		} else {
			b.cfg.Monitor.OnEventIgnored(ctx, event, b.segment)
		}
	}
}

// commitBatch invokes handlers for every event in batch and stores
// lastToken, all inside the unit of work action already opened by the
// caller. The claim is extended on the first message and the token
// stored once on the last, which also covers the single-event case
// (extend-then-store on the same message) called out in spec §9.
func (b *batchAssembler) commitBatch(ctx context.Context, batch []track.TrackedEvent, lastToken track.TrackingToken) error {
	for i, event := range batch {
		if i == 0 {
			if err := b.cfg.TokenStore.ExtendClaim(ctx, b.cfg.Name, b.segment.ID, b.cfg.Owner); err != nil {
				return err
			}
		}

		canHandle, err := b.cfg.Invoker.CanHandle(ctx, event, b.segment)
		if err != nil {
			return err
		}
		if !canHandle {
			continue
		}

		if err := b.cfg.Invoker.Handle(ctx, event, b.segment); err != nil {
			if handled := b.cfg.ErrorHandler.HandleError(ctx, err, event, b.segment); handled != nil {
				b.cfg.Monitor.OnMessageHandled(ctx, event, b.segment, handled)
				if b.cfg.RollbackConfiguration(handled) {
					return handled
				}
				continue
			}
		}
		b.cfg.Monitor.OnMessageHandled(ctx, event, b.segment, nil)
	}

	return b.cfg.TokenStore.StoreToken(ctx, lastToken, b.cfg.Name, b.segment.ID, b.cfg.Owner)
}
