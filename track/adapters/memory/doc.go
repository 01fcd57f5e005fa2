// Package memory provides an in-process MessageSource, TokenStore, and
// TransactionManager backed by plain Go slices and maps, guarded by a
// mutex. It exists for tests and examples: nothing here survives
// process restart, and the "transaction manager" only serializes
// access, it does not provide rollback.
package memory
