package query

import (
	"github.com/roach88/docsync/internal/model"
)

// Lookup resolves a field path against a document, honouring the _id and
// _rev metadata fields.
func Lookup(doc model.Document, field string) (model.Value, bool) {
	switch field {
	case FieldID:
		return model.String(doc.ID), true
	case FieldRev:
		return model.String(doc.Rev), doc.Rev != ""
	}
	return doc.Body.Get(field)
}

// Match evaluates a predicate against a document in memory.
func Match(p Predicate, doc model.Document) bool {
	for _, c := range Clauses(p) {
		switch pred := c.(type) {
		case Equals:
			v, ok := Lookup(doc, pred.Field)
			if !ok || !equalValues(v, pred.Value) {
				return false
			}
		case Exists:
			_, ok := Lookup(doc, pred.Field)
			if ok != pred.Present {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalValues(a, b model.Value) bool {
	ca, err := model.CanonicalString(a)
	if err != nil {
		return false
	}
	cb, err := model.CanonicalString(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// Project returns a copy of doc whose body holds only the requested fields.
// Metadata fields in the list are ignored because id and rev are always
// returned. An empty field list returns the full document.
func Project(doc model.Document, fields []string) model.Document {
	if len(fields) == 0 {
		return doc
	}
	out := model.Document{ID: doc.ID, Rev: doc.Rev, Deleted: doc.Deleted, Body: model.Object{}}
	for _, f := range fields {
		if f == FieldID || f == FieldRev {
			continue
		}
		if v, ok := doc.Body.Get(f); ok {
			out.Body.Set(f, v)
		}
	}
	return out
}
