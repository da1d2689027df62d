package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/docsync/internal/model"
)

func testDoc() model.Document {
	return model.Document{
		ID:  "x",
		Rev: "1-abc",
		Body: model.Object{
			"name":    model.String("a"),
			"count":   model.Int(2),
			"address": model.Object{"city": model.String("Oslo"), "zip": model.String("0150")},
		},
	}
}

func TestMatch(t *testing.T) {
	doc := testDoc()

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"empty and", And{}, true},
		{"id exists", AllDocs(), true},
		{"id equals", Equals{Field: "_id", Value: model.String("x")}, true},
		{"rev equals", Equals{Field: "_rev", Value: model.String("1-abc")}, true},
		{"body equals", Equals{Field: "name", Value: model.String("a")}, true},
		{"float equals int", Equals{Field: "count", Value: model.Float(2)}, true},
		{"nested equals", Equals{Field: "address.city", Value: model.String("Oslo")}, true},
		{"mismatch", Equals{Field: "name", Value: model.String("b")}, false},
		{"missing field", Equals{Field: "nope", Value: model.String("a")}, false},
		{"exists", Exists{Field: "address.zip", Present: true}, true},
		{"not exists", Exists{Field: "email", Present: false}, true},
		{"exists fails", Exists{Field: "email", Present: true}, false},
		{"and", And{Predicates: []Predicate{
			Equals{Field: "name", Value: model.String("a")},
			Exists{Field: "count", Present: true},
		}}, true},
		{"and short", And{Predicates: []Predicate{
			Equals{Field: "name", Value: model.String("a")},
			Exists{Field: "nope", Present: true},
		}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pred, doc))
		})
	}
}

func TestProject(t *testing.T) {
	doc := testDoc()

	full := Project(doc, nil)
	assert.Equal(t, doc, full)

	idOnly := Project(doc, []string{"_id"})
	assert.Equal(t, "x", idOnly.ID)
	assert.Equal(t, "1-abc", idOnly.Rev)
	assert.Empty(t, idOnly.Body)

	some := Project(doc, []string{"name", "address.city", "missing"})
	assert.Equal(t, model.Object{
		"name":    model.String("a"),
		"address": model.Object{"city": model.String("Oslo")},
	}, some.Body)
}
