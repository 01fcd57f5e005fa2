// Package sqlite provides a SQLite backend for the tracking event
// processor. It deliberately does not import a SQLite driver — callers
// register their own (mattn/go-sqlite3, modernc.org/sqlite, ...) and
// pass in an already-opened *sql.DB, the same choice
// track/adapters/postgres's teacher package made for its own SQLite adapter.
//
// Claim atomicity relies on SQLite's single-writer transaction
// semantics rather than row-level locking: as long as callers claim
// through this package's TransactionManager, concurrent claims
// serialize naturally.
package sqlite
