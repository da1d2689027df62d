// Package store provides SQLite-backed durable storage for docsync
// databases: documents, their revision trees, the change log, replication
// checkpoints, and secondary indexes.
//
// # Tables
//
//   - revisions: every revision node, keyed by (doc_id, rev_id)
//   - documents: the current winner per document, rewritten on each write
//   - changes: append-only change log, one entry per applied mutation
//   - checkpoints: replication cursors per peer and direction
//   - index_defs / index_entries: secondary indexes over live winners
//
// # Critical Patterns
//
// Linearizable writes:
//   - Create, Update, Delete, and Merge hold the store mutex and run in one
//     transaction that inserts the revision, appends the change entry,
//     rewrites the winner, and refreshes index entries
//
// Deterministic results:
//   - Document listings use ORDER BY id COLLATE BINARY ASC
//   - Change feeds use ORDER BY seq ASC
//
// Content-addressed revisions:
//   - Revision ids come from model.RevisionID, so replaying the same
//     revision is a no-op
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
