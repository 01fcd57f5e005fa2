// Package pkg provides package-level metadata for the tracklane
// processor library.
//
// The tracking event processor itself lives in the track package and
// its subpackages:
//
//	track            - core types and port interfaces (Segment, TrackingToken, ...)
//	track/store      - TokenStore contract for distributed segment claims
//	track/processor  - the Processor engine (Launcher, SegmentWorker, WorkerPool)
//	track/invoker    - the default EventHandlerInvoker
//	track/adapters/* - PostgreSQL, MySQL, SQLite, and in-memory backends
//	track/migrations - schema generation for the events and claims tables
//
// Quick start:
//
//  1. Generate the schema:
//     go run github.com/tracklane/processor/cmd/tokenstore-migrate-gen -output migrations
//
//  2. Wire up a processor:
//     cfg := processor.DefaultConfig("orders-projection")
//     cfg.TokenStore = postgres.NewTokenStore(db, postgres.DefaultTokenStoreConfig())
//     cfg.MessageSource = postgres.NewMessageSource(db, postgres.DefaultMessageSourceConfig())
//     cfg.TransactionManager = postgres.NewTransactionManager(db)
//     cfg.Invoker = invoker.New(myHandler)
//     p, err := processor.New(cfg)
//     err = p.Start(ctx)
//
// The tests under track/processor wire complete processors against the
// in-memory adapters in track/adapters/memory.
package pkg

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
