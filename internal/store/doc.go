// Package store provides SQLite-backed durable storage for gooi.
//
// Two tables:
//   - idempotency_records: the replay store (one row per scope key)
//   - envelopes: an append-only log of result envelopes, read by trace
//
// # Write-once scopes
//
// A record is written with INSERT ... ON CONFLICT DO UPDATE ... WHERE the
// existing row has expired at the new record's creation time. A live row
// makes the statement affect zero rows, which Save reports as
// idempotency.ErrScopeTaken. The first writer for a scope always wins.
//
// # Deterministic reads
//
// Envelope queries order by seq ASC. Envelopes are stored as canonical JSON
// and re-parsed with exact numbers.
//
// # Database configuration
//
// Set through the go-sqlite3 DSN on every connection:
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
