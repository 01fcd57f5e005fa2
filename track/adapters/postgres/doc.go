// Package postgres provides a PostgreSQL backend for the tracking
// event processor: a track.MessageSource over an append-only events
// table, a track/store.TokenStore over a claims table, and the
// track.TransactionManager that brackets both in database/sql
// transactions.
package postgres
