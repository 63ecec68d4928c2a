// Package store is the dynamic-attribute match store: one handle per
// database, owning its connection, the schema catalog of attribute fields,
// the filtered match queries and the optional attribute history.
//
// The core table matches holds one row per match. Every other table with a
// match_id column and a column named like itself is a normal field; every
// such view is a meta field. Fields are added and removed while the handle
// is open.
//
// # Ordering
//
// Every query over matches ends in ORDER BY ... match_id ASC, so a page is
// the same on every run regardless of the engine's scan order.
//
// # Bulk operations
//
// AddField backfills every match in one transaction that holds the core
// table lock. Rows that fail are counted and skipped; the rest commit.
// The context passed to a bulk operation is only checked before the
// transaction starts.
//
// # Concurrency
//
// A handle is used by one caller at a time. Its only lock protects the
// handle's own open state and catalog snapshot; schema changes are not
// serialized against concurrent readers. Event handlers run synchronously
// inside operations and must not call back into the same handle.
//
// # Database Configuration (sqlite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one pooled connection, so temporary tables stay visible
package store
