// Package store provides the SQLite-backed property graph that actiongraph
// mutates through Actions.
//
// The graph is stored as:
//   - nodes / node_labels: entities with a permanent id, labels and a canonical
//     JSON property object
//   - rels: typed, directed relationships with their own property object
//   - touched: touched-links from an Action node to every entity it modified,
//     each carrying the change-detail map
//   - meta: small key/value settings such as the change-capture state
//
// # Write-set recording
//
// Every mutation goes through a *Tx, which applies the change to SQLite and
// records it in the transaction's WriteSet (created/deleted nodes and
// relationships, net label changes, first-old/last-new property values and
// in-place relationship property edits). The change-capture recorder reads the
// WriteSet just before commit; this replaces a database-native trigger.
//
// Touched-links and meta rows are bookkeeping: they are written directly and
// never appear in a WriteSet.
//
// # Database Configuration
//
//   - WAL mode: readers see a snapshot while a writer is active
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one open connection: SQLite allows one writer; the store serializes
//     transactions instead of surfacing SQLITE_BUSY
//
// All queries order by insertion order (rowid) with id as tiebreaker.
package store
