package query

import (
	"github.com/roach88/docsync/internal/model"
)

// Metadata field names.
const (
	FieldID  = "_id"
	FieldRev = "_rev"
)

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: field = literal value
//   - Exists: field present (or absent)
//   - And: all predicates must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Equals matches documents whose field equals a literal value.
// Equality compares canonical JSON forms, so Int(2) equals Float(2) and
// objects compare independent of key order.
type Equals struct {
	Field string
	Value model.Value
}

func (Equals) predicateNode() {}

// Exists matches documents that have (Present=true) or lack
// (Present=false) the field.
type Exists struct {
	Field   string
	Present bool
}

func (Exists) predicateNode() {}

// And represents a conjunction of predicates.
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// AllDocs is the degenerate filter used to enumerate every document id.
func AllDocs() Predicate {
	return And{Predicates: []Predicate{Exists{Field: FieldID, Present: true}}}
}

// Clauses flattens nested conjunctions into a list of leaf predicates.
func Clauses(p Predicate) []Predicate {
	switch pred := p.(type) {
	case nil:
		return nil
	case And:
		var out []Predicate
		for _, inner := range pred.Predicates {
			out = append(out, Clauses(inner)...)
		}
		return out
	case *And:
		return Clauses(*pred)
	case *Equals:
		return []Predicate{*pred}
	case *Exists:
		return []Predicate{*pred}
	default:
		return []Predicate{p}
	}
}

// Fields returns the field paths a predicate references, in clause order.
func Fields(p Predicate) []string {
	var out []string
	for _, c := range Clauses(p) {
		switch pred := c.(type) {
		case Equals:
			out = append(out, pred.Field)
		case Exists:
			out = append(out, pred.Field)
		}
	}
	return out
}
