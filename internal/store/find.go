package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
	"github.com/roach88/docsync/internal/querysql"
)

// FindOptions controls a Find call.
type FindOptions struct {
	// Fields projects each result to these body fields. id and rev are
	// always returned. Empty means the whole body.
	Fields []string

	// IncludeDeleted also returns documents whose winner is a tombstone.
	IncludeDeleted bool
}

// Find returns a cursor over documents matching filter, ordered by id.
//
// Clauses on indexed fields and _id are evaluated by SQLite; every clause is
// re-checked in memory, so filters on unindexed fields still work. Rows are
// streamed from a read transaction on the reader pool, so the cursor sees the
// snapshot taken when Find returns. A projection onto _id and _rev alone
// never reads bodies when SQLite evaluates the whole filter.
//
// The cursor releases its transaction once exhausted; callers that stop
// early must call Close.
func (s *Store) Find(ctx context.Context, filter query.Predicate, opts FindOptions) (*Cursor, error) {
	for _, f := range opts.Fields {
		if err := query.ValidateField(f); err != nil {
			return nil, err
		}
	}

	indexed, err := s.indexedFields(ctx)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "find", err)
	}
	compiler := querysql.NewCompiler(indexed)
	compiler.IncludeDeleted = opts.IncludeDeleted
	compiler.MetadataOnly = metadataOnly(opts.Fields)

	plan, err := compiler.Compile(filter)
	if err != nil {
		return nil, storageErr("find", err)
	}

	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "find", fmt.Errorf("begin read: %w", err))
	}
	rows, err := tx.QueryContext(ctx, plan.SQL, plan.Params...)
	if err != nil {
		tx.Rollback()
		return nil, model.Wrap(model.KindStorage, "find", fmt.Errorf("query documents: %w", err))
	}

	cur := &Cursor{filter: filter, fields: opts.Fields, tx: tx, rows: rows, body: plan.Body}

	// SQLite takes the read snapshot on the first step.
	if rows.Next() {
		cur.peeked = true
		return cur, nil
	}
	err = rows.Err()
	cur.Close()
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "find", fmt.Errorf("iterate documents: %w", err))
	}
	return cur, nil
}

// metadataOnly reports whether a projection keeps nothing but _id and _rev.
func metadataOnly(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if f != query.FieldID && f != query.FieldRev {
			return false
		}
	}
	return true
}

// Cursor is a finite, forward-only sequence of query results.
//
//	defer cur.Close()
//	for cur.Next() {
//	    doc := cur.Document()
//	}
//	if err := cur.Err(); err != nil { ... }
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	filter query.Predicate
	fields []string
	tx     *sql.Tx
	rows   *sql.Rows
	body   bool

	// peeked means rows holds a stepped row not yet returned.
	peeked bool
	closed bool

	cur model.Document
	err error
}

// Next advances to the next matching document.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	for c.advance() {
		doc, err := c.scan()
		if err != nil {
			c.fail(err)
			return false
		}
		if !query.Match(c.filter, doc) {
			continue
		}
		c.cur = query.Project(doc, c.fields)
		return true
	}
	return false
}

// advance steps to the next row, closing the cursor at the end.
func (c *Cursor) advance() bool {
	if c.peeked {
		c.peeked = false
		return true
	}
	if c.closed {
		return false
	}
	if c.rows.Next() {
		return true
	}
	if err := c.rows.Err(); err != nil {
		c.fail(fmt.Errorf("iterate documents: %w", err))
		return false
	}
	c.Close()
	return false
}

func (c *Cursor) scan() (model.Document, error) {
	var (
		doc     model.Document
		deleted int
		body    string
	)
	dest := []any{&doc.ID, &doc.Rev, &deleted}
	if c.body {
		dest = append(dest, &body)
	}
	if err := c.rows.Scan(dest...); err != nil {
		return model.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Deleted = deleted != 0
	doc.Body = model.Object{}
	if c.body {
		obj, err := unmarshalBody(body)
		if err != nil {
			return model.Document{}, err
		}
		doc.Body = obj
	}
	return doc, nil
}

func (c *Cursor) fail(err error) {
	c.err = model.Wrap(model.KindStorage, "find", err)
	c.Close()
}

// Close releases the cursor's read transaction. It is safe to call more
// than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.peeked = false
	err := c.rows.Close()
	c.tx.Rollback()
	return err
}

// Document returns the current document.
func (c *Cursor) Document() model.Document {
	return c.cur
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// All returns the remaining results as an iterator. A decode failure is
// yielded once as the final element. Breaking out of the loop leaves the
// cursor open.
func (c *Cursor) All() iter.Seq2[model.Document, error] {
	return func(yield func(model.Document, error) bool) {
		for c.Next() {
			if !yield(c.Document(), nil) {
				return
			}
		}
		if c.err != nil {
			yield(model.Document{}, c.err)
		}
	}
}

// Collect drains and closes the cursor.
// Returns an empty slice (not nil) when nothing matched.
func (c *Cursor) Collect() ([]model.Document, error) {
	defer c.Close()
	docs := []model.Document{}
	for c.Next() {
		docs = append(docs, c.Document())
	}
	if c.err != nil {
		return nil, c.err
	}
	return docs, nil
}
