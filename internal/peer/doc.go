// Package peer implements the remote side of replication.
//
// Three pieces share one wire model:
//   - Local serves a *store.Store in-process and tracks sessions
//   - Server exposes Locals over HTTP, one per database name
//   - HTTPClient talks to a Server and satisfies replication.Peer
//
// # Protocol
//
// All paths are relative to a database URL <server>/<db>:
//
//	POST /{db}/_session   {"peer_id": "..."}         → {"session": "..."}
//	GET  /{db}/_changes?since=N&limit=M              → {"results": [...], "last_seq": N}
//	POST /{db}/_revs      {"revisions": [...]}       → {"acks": [...]}
//
// _changes and _revs require the X-Docsync-Session header returned by
// _session. Errors are JSON bodies {"error": {"code", "message"}} where
// code is a model.Kind.
package peer
