// Package model provides the canonical document types for docsync.
//
// This package contains value, document, and revision types plus the
// error taxonomy. All other internal packages import model; model imports
// nothing internal.
//
// Key design constraints:
//   - Document bodies are Objects of sealed Value types
//   - Revision ids are content-addressed (see RevisionID) so independent
//     peers compute identical ids for identical edits
//   - All JSON tags use snake_case
//   - Ordering uses change log sequence numbers, never wall-clock time
package model
