// Package storage persists alarm registrations so they survive a restart,
// plus an append-only audit trail of alarm operations.
//
// Drivers:
//   - "file": JSON snapshot + JSON-lines journal, compacted periodically
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "bolt": bbolt key/value file
package storage
