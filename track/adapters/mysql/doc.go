// Package mysql provides a MySQL/MariaDB backend for the tracking
// event processor, mirroring track/adapters/postgres but using
// SELECT ... FOR UPDATE row locking for claims instead of RETURNING,
// which MySQL's UPDATE statement doesn't support.
package mysql
