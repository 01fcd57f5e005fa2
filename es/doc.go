// Package es provides the minimal event storage model the tracking event
// processor's adapters build on: an immutable Event/PersistedEvent shape
// and the DBTX abstraction that keeps adapter code transaction-agnostic.
//
// This package intentionally does not own checkpointing, optimistic
// concurrency, or claim semantics — those belong to track and
// track/store. The adapters in track/adapters/* combine an es-shaped
// events table with a claims table to implement track.MessageSource and
// track/store.TokenStore respectively.
package es
