// Package store provides SQLite-backed storage for deployment records and the
// run journal.
//
// # Tables
//
//   - deployments: the current record per (network, contract)
//   - deployment_log: every distinct record ever saved, keyed by content hash
//   - runs, steps: one row per provisioning run and per step outcome
//
// Writes are idempotent: re-saving an identical deployment record or
// re-beginning a run with the same id is a no-op. Ordering uses logical seq
// counters, never timestamps, so query results are deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Record hashes and stored JSON use internal/record canonical encoding.
package store
