// Package querysql compiles query predicates to parameterized SQLite SQL
// over the store's documents and index_entries tables.
//
// Every statement ends in ORDER BY d.id COLLATE BINARY ASC; SQLite only
// accepts the collation ahead of the direction. Values are always bound as
// parameters.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
)

// Column lists in scan order. The body column is last so metadata-only
// plans scan a prefix of the same row shape.
const (
	metadataColumns = "d.id, d.rev, d.deleted"
	bodyColumns     = metadataColumns + ", d.body"
)

// Plan is a compiled query.
type Plan struct {
	// SQL is the statement to execute.
	SQL string

	// Params are the positional parameters for SQL.
	Params []any

	// Residual lists clauses that could not be pushed into SQL because no
	// index covers their field. They must be evaluated in memory.
	Residual []query.Predicate

	// Body reports whether the statement selects d.body as a fourth column.
	Body bool
}

// Compiler compiles predicates against the current set of indexes.
type Compiler struct {
	// Indexed maps a field path to the id of an index covering it.
	Indexed map[string]string

	// IncludeDeleted keeps tombstoned documents in the result. Deleted
	// documents have no index entries, so only metadata clauses are pushed
	// down in this mode.
	IncludeDeleted bool

	// MetadataOnly drops d.body from the select list when every clause is
	// on _id or _rev, leaving nothing for the caller to re-check.
	MetadataOnly bool
}

// NewCompiler creates a compiler over the given field → index id map.
func NewCompiler(indexed map[string]string) *Compiler {
	if indexed == nil {
		indexed = map[string]string{}
	}
	return &Compiler{Indexed: indexed}
}

// Compile converts a predicate into a Plan.
func (c *Compiler) Compile(p query.Predicate) (Plan, error) {
	var where []string
	var params []any
	var residual []query.Predicate
	body := !c.MetadataOnly

	if !c.IncludeDeleted {
		where = append(where, "d.deleted = 0")
	}

	for _, clause := range query.Clauses(p) {
		sql, args, ok, err := c.compileClause(clause)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			residual = append(residual, clause)
			body = true
			continue
		}
		if !isMetadataClause(clause) {
			body = true
		}
		where = append(where, sql)
		params = append(params, args...)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if body {
		b.WriteString(bodyColumns)
	} else {
		b.WriteString(metadataColumns)
	}
	b.WriteString(" FROM documents d")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY d.id COLLATE BINARY ASC")

	return Plan{SQL: b.String(), Params: params, Residual: residual, Body: body}, nil
}

// compileClause compiles one leaf predicate. ok=false means the clause is
// not covered and belongs in the residual.
func (c *Compiler) compileClause(p query.Predicate) (string, []any, bool, error) {
	switch pred := p.(type) {
	case query.Equals:
		return c.compileEquals(pred)
	case query.Exists:
		return c.compileExists(pred)
	default:
		return "", nil, false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) compileEquals(eq query.Equals) (string, []any, bool, error) {
	switch eq.Field {
	case query.FieldID, query.FieldRev:
		s, ok := eq.Value.(model.String)
		if !ok {
			return "1 = 0", nil, true, nil
		}
		return metadataColumn(eq.Field) + " = ?", []any{string(s)}, true, nil
	}

	indexID, ok := c.indexFor(eq.Field)
	if !ok {
		return "", nil, false, nil
	}
	value, err := model.CanonicalString(eq.Value)
	if err != nil {
		return "", nil, false, model.Wrap(model.KindValidation, "compile filter", err)
	}
	sql := "EXISTS (SELECT 1 FROM index_entries e WHERE e.doc_id = d.id AND e.index_id = ? AND e.field_path = ? AND e.value = ?)"
	return sql, []any{indexID, eq.Field, value}, true, nil
}

func (c *Compiler) compileExists(ex query.Exists) (string, []any, bool, error) {
	switch ex.Field {
	case query.FieldID, query.FieldRev:
		if ex.Present {
			return "1 = 1", nil, true, nil
		}
		return "1 = 0", nil, true, nil
	}

	indexID, ok := c.indexFor(ex.Field)
	if !ok {
		return "", nil, false, nil
	}
	sql := "EXISTS (SELECT 1 FROM index_entries e WHERE e.doc_id = d.id AND e.index_id = ? AND e.field_path = ?)"
	if !ex.Present {
		sql = "NOT " + sql
	}
	return sql, []any{indexID, ex.Field}, true, nil
}

func (c *Compiler) indexFor(field string) (string, bool) {
	if c.IncludeDeleted {
		return "", false
	}
	id, ok := c.Indexed[field]
	return id, ok
}

// isMetadataClause reports whether a leaf clause tests only _id or _rev.
func isMetadataClause(p query.Predicate) bool {
	switch pred := p.(type) {
	case query.Equals:
		return pred.Field == query.FieldID || pred.Field == query.FieldRev
	case query.Exists:
		return pred.Field == query.FieldID || pred.Field == query.FieldRev
	}
	return false
}

func metadataColumn(field string) string {
	if field == query.FieldRev {
		return "d.rev"
	}
	return "d.id"
}
