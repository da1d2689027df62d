// Package query provides the filter and projection model for document
// queries.
//
// A filter is parsed from a JSON-like selector:
//
//	{"name": "a"}                        equality
//	{"name": {"$eq": "a"}}               explicit equality
//	{"email": {"$exists": true}}         existence
//	{"$and": [{"a": 1}, {"b": 2}]}       explicit conjunction
//
// All clauses are ANDed. Field paths are dot separated ("address.city").
// The metadata fields "_id" and "_rev" address the document id and the
// winning revision id.
//
// SEALED INTERFACES:
//
// Predicate is sealed using the marker method pattern so backends
// (querysql, and the in-memory matcher here) can switch exhaustively.
package query
