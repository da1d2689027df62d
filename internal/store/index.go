package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
)

// CreateIndex creates a secondary index over fields and returns its id.
// The id is derived from the field list, so calling it twice with the same
// fields is a no-op.
func (s *Store) CreateIndex(ctx context.Context, fields []string) (string, error) {
	id, err := model.IndexID(fields)
	if err != nil {
		return "", model.Wrap(model.KindValidation, "create index", err)
	}
	if err := s.CreateNamedIndex(ctx, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// CreateNamedIndex creates a secondary index with a caller-chosen name and
// back-fills entries for every live document.
//
// Re-creating an index with the same name and fields is a no-op; the same
// name with different fields is a Conflict.
func (s *Store) CreateNamedIndex(ctx context.Context, name string, fields []string) error {
	if name == "" {
		return model.Errorf(model.KindValidation, "create index", "index name is required")
	}
	if len(fields) == 0 {
		return model.Errorf(model.KindValidation, "create index", "index %q has no fields", name)
	}
	for _, f := range fields {
		if err := query.ValidateField(f); err != nil {
			return err
		}
		if f == query.FieldID || f == query.FieldRev {
			return model.Errorf(model.KindValidation, "create index", "metadata field %q cannot be indexed", f)
		}
	}
	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return model.Wrap(model.KindValidation, "create index", err)
	}

	created := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT fields FROM index_defs WHERE id = ?`, name).Scan(&existing)
		switch {
		case err == nil:
			if existing != fieldsJSON {
				return model.Conflict("create index", name, "index exists with different fields")
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("query index: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_defs (id, fields) VALUES (?, ?)
		`, name, fieldsJSON); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		created = true
		return backfillIndex(ctx, tx, model.IndexDef{ID: name, Fields: fields})
	})
	if err != nil {
		return storageErr("create index", err)
	}

	if created {
		s.log.Debug("index created", zap.String("index", name), zap.Strings("fields", fields))
	}
	return nil
}

// Indexes lists index definitions ordered by id.
func (s *Store) Indexes(ctx context.Context) ([]model.IndexDef, error) {
	defs, err := loadIndexDefs(ctx, s.db)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "indexes", err)
	}
	if defs == nil {
		defs = []model.IndexDef{}
	}
	return defs, nil
}

// indexedFields maps each indexed field path to the first index (by id)
// that covers it.
func (s *Store) indexedFields(ctx context.Context) (map[string]string, error) {
	defs, err := loadIndexDefs(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, def := range defs {
		for _, f := range def.Fields {
			if _, ok := out[f]; !ok {
				out[f] = def.ID
			}
		}
	}
	return out, nil
}

func loadIndexDefs(ctx context.Context, q querier) ([]model.IndexDef, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, fields FROM index_defs ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	var defs []model.IndexDef
	for rows.Next() {
		var (
			def        model.IndexDef
			fieldsJSON string
		)
		if err := rows.Scan(&def.ID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		def.Fields, err = unmarshalFields(fieldsJSON)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return defs, nil
}

// backfillIndex writes entries of one new index for every live document.
func backfillIndex(ctx context.Context, tx *sql.Tx, def model.IndexDef) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, rev, body FROM documents WHERE deleted = 0 ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("query documents: %w", err)
	}

	// Drain before writing: the transaction owns a single connection.
	var docs []model.Document
	for rows.Next() {
		var (
			doc      model.Document
			bodyJSON string
		)
		if err := rows.Scan(&doc.ID, &doc.Rev, &bodyJSON); err != nil {
			rows.Close()
			return fmt.Errorf("scan document: %w", err)
		}
		if doc.Body, err = unmarshalBody(bodyJSON); err != nil {
			rows.Close()
			return err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate documents: %w", err)
	}
	rows.Close()

	for _, doc := range docs {
		if err := writeIndexEntries(ctx, tx, def, doc); err != nil {
			return err
		}
	}
	return nil
}

// reindexDocument replaces a document's index entries. Deleted documents
// have none.
func reindexDocument(ctx context.Context, tx *sql.Tx, defs []model.IndexDef, doc model.Document) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_entries WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear index entries: %w", err)
	}
	if doc.Deleted {
		return nil
	}
	for _, def := range defs {
		if err := writeIndexEntries(ctx, tx, def, doc); err != nil {
			return err
		}
	}
	return nil
}

func writeIndexEntries(ctx context.Context, tx *sql.Tx, def model.IndexDef, doc model.Document) error {
	for _, field := range def.Fields {
		v, ok := doc.Body.Get(field)
		if !ok {
			continue
		}
		value, err := model.CanonicalString(v)
		if err != nil {
			return fmt.Errorf("index %s field %s: %w", def.ID, field, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO index_entries (index_id, field_path, value, doc_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, def.ID, field, value, doc.ID); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}
	}
	return nil
}
