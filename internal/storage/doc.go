// Package storage implements the per-symbol embedded storage engine.
//
// Each symbol gets its own SQLite database file (WAL mode) for
// isolation and concurrency: lock contention is confined to one symbol
// and readers can run alongside the single writer. Schema changes are
// version-gated migrations recorded in _schema_version. Every insert
// prunes rows older than the retention window from all tables of the
// shard within the same transaction; pruning is write-triggered, never
// timer-driven, so a shard that stops receiving writes keeps its stale
// rows.
package storage
