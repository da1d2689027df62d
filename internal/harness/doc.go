// Package harness runs replication scenarios described in YAML against
// real datastores and records what every step did.
//
// A scenario declares a set of sites. Each site owns its own data
// directory and datastore registry; a site with a remote replicates every
// one of its databases with the same-named database on the remote site,
// in process. Steps run in order and each one appends a TraceEvent.
//
// # Scenario Format
//
//	name: offline_edit
//	description: "Edits made offline reach the server on the next push"
//	sites:
//	  - name: server
//	    databases: [notes]
//	  - name: phone
//	    remote: server
//	    databases: [notes]
//	steps:
//	  - op: create
//	    site: phone
//	    db: notes
//	    id: n1
//	    body: { title: "draft" }
//	    as: first
//	  - op: update
//	    site: phone
//	    db: notes
//	    id: n1
//	    rev: $first
//	    body: { title: "final" }
//	  - op: push
//	    site: phone
//	    db: notes
//	    expect: { documents: 2 }
//	assertions:
//	  - type: document
//	    site: server
//	    db: notes
//	    id: n1
//	    body: { title: "final" }
//
// Step site defaults to the first declared site. A rev of the form
// "$name" refers to the revision captured by an earlier step's "as".
//
// # Operations
//
// Document operations: create, retrieve, find_or_create, update, delete,
// find, index, compact. Replication: push, pull, sync. Key-value:
// set_item, get_item, remove_item, keys, clear.
//
// # Assertion Types
//
//   - document: the winner's body contains the given fields
//   - missing: the document is absent or deleted
//   - conflicts: the document has exactly count conflicting leaves
//   - converged: every listed site has the same winner and conflict set
//   - keys: the key-value keys of a database, in order
//
// Revision ids are content hashes and never appear in traces. Events
// record the revision generation instead, which keeps golden traces
// stable.
package harness
