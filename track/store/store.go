// Package store defines the TokenStore contract the tracking event
// processor uses for distributed mutual exclusion and durable progress
// tracking. Concrete backends live in track/adapters/*.
package store

import (
	"context"
	"errors"

	"github.com/tracklane/processor/track"
)

var (
	// ErrUnableToClaim indicates another owner already holds the claim
	// on this (processorName, segmentId) pair. This is contention, not
	// failure: the Launcher retries immediately and the worker backs off.
	ErrUnableToClaim = errors.New("track/store: unable to claim segment, already claimed by another owner")

	// ErrNoSuchSegment indicates the segment id has no row in the store,
	// typically because it was never initialized.
	ErrNoSuchSegment = errors.New("track/store: no such segment")

	// ErrTokenStoreUnavailable is a non-transient infrastructure error.
	// Callers should treat it as unrecoverable for the current attempt:
	// the processor moves to StatePausedError rather than retrying.
	ErrTokenStoreUnavailable = errors.New("track/store: token store unavailable")
)

// TokenStore is the distributed coordination point for a tracking event
// processor. All operations are expected to be called from within a
// transaction managed by a track.TransactionManager; the store itself
// only needs to guarantee that claim acquisition is atomic with respect
// to concurrent callers sharing the same backing storage.
type TokenStore interface {
	// FetchSegments returns the segment ids currently known for name, in
	// no particular order. An empty, non-nil slice means the processor
	// has never been initialized against this store.
	FetchSegments(ctx context.Context, name string) ([]int, error)

	// InitializeTokenSegments creates count segment rows (0..count-1) for
	// name, each holding an unclaimed token equal to initialToken. It
	// fails if any segment already exists for name.
	InitializeTokenSegments(ctx context.Context, name string, count int, initialToken track.TrackingToken) error

	// FetchToken atomically claims (processorName, segmentId) for owner
	// and returns its current token. Returns ErrUnableToClaim if another
	// live owner holds the claim, ErrNoSuchSegment if the segment is
	// unknown.
	FetchToken(ctx context.Context, name string, segmentID int, owner string) (track.TrackingToken, error)

	// StoreToken persists token as the new position for (name, segmentId)
	// and refreshes owner's lease. The caller must currently hold the claim.
	StoreToken(ctx context.Context, token track.TrackingToken, name string, segmentID int, owner string) error

	// ExtendClaim refreshes owner's lease on (name, segmentId) without
	// changing the stored token. Returns ErrUnableToClaim if owner no
	// longer holds the claim.
	ExtendClaim(ctx context.Context, name string, segmentID int, owner string) error

	// ReleaseClaim clears owner's claim on (name, segmentId) if owner
	// currently holds it. Releasing a claim you don't hold is not an error.
	ReleaseClaim(ctx context.Context, name string, segmentID int, owner string) error

	// DeserializeToken decodes a stored token's bytes back into a
	// track.TrackingToken. Adapters use it to round-trip ReplayToken
	// wrappers as well as plain tokens.
	DeserializeToken(data []byte) (track.TrackingToken, error)

	// SerializeToken encodes a track.TrackingToken (plain or ReplayToken) for storage.
	SerializeToken(token track.TrackingToken) ([]byte, error)
}
