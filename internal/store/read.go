package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/revtree"
)

// Stats summarizes a store's contents.
type Stats struct {
	Documents    int64 `json:"documents"`
	Deleted      int64 `json:"deleted"`
	Revisions    int64 `json:"revisions"`
	Changes      int64 `json:"changes"`
	LastSequence int64 `json:"last_sequence"`
}

// Retrieve returns the current winning revision of a document.
// A document whose winner is a tombstone is NotFound.
func (s *Store) Retrieve(ctx context.Context, id string) (model.Document, error) {
	var (
		doc      model.Document
		bodyJSON string
		deleted  int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rev, body, deleted FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Rev, &bodyJSON, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, model.NotFound("retrieve", id)
	}
	if err != nil {
		return model.Document{}, model.Wrap(model.KindStorage, "retrieve", fmt.Errorf("query document: %w", err))
	}
	if deleted != 0 {
		return model.Document{}, model.NotFound("retrieve", id)
	}

	doc.Body, err = unmarshalBody(bodyJSON)
	if err != nil {
		return model.Document{}, model.Wrap(model.KindStorage, "retrieve", err)
	}
	return doc, nil
}

// RetrieveRevision returns any stored revision of a document, including
// tombstones and losing branches. A revision whose body was compacted away
// is NotFound.
func (s *Store) RetrieveRevision(ctx context.Context, id, rev string) (model.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, rev_id, parent_rev, generation, deleted, body
		FROM revisions
		WHERE doc_id = ? AND rev_id = ?
	`, id, rev)
	r, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Revision{}, &model.Error{Kind: model.KindNotFound, Op: "retrieve revision", ID: id, Msg: "revision " + rev + " not found"}
	}
	if err != nil {
		return model.Revision{}, model.Wrap(model.KindStorage, "retrieve revision", err)
	}
	if r.Body == nil {
		return model.Revision{}, &model.Error{Kind: model.KindNotFound, Op: "retrieve revision", ID: id, Msg: "revision " + rev + " was compacted"}
	}
	return r, nil
}

// History returns every revision node of a document ordered by generation,
// then revision id. Compacted revisions have a nil Body.
func (s *Store) History(ctx context.Context, id string) ([]model.Revision, error) {
	revs, err := loadRevisions(ctx, s.db, id)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "history", err)
	}
	if len(revs) == 0 {
		return nil, model.NotFound("history", id)
	}
	return revs, nil
}

// Conflicts returns the non-winning, non-deleted leaves of a document.
// Returns an empty slice (not nil) for a conflict-free document.
func (s *Store) Conflicts(ctx context.Context, id string) ([]model.Revision, error) {
	revs, err := loadRevisions(ctx, s.db, id)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "conflicts", err)
	}
	if len(revs) == 0 {
		return nil, model.NotFound("conflicts", id)
	}
	conflicts := revtree.Conflicts(revs)
	if conflicts == nil {
		conflicts = []model.Revision{}
	}
	return conflicts, nil
}

// ChangesSince returns change log entries with seq > since in ascending
// order. limit <= 0 means no limit.
//
// Returns empty slice (not nil) if there are no newer changes.
func (s *Store) ChangesSince(ctx context.Context, since int64, limit int) ([]model.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, doc_id, rev_id
		FROM changes
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, since, sqlLimit(limit))
	if err != nil {
		return nil, model.Wrap(model.KindStorage, "changes", fmt.Errorf("query changes: %w", err))
	}
	defer rows.Close()

	changes := []model.Change{}
	for rows.Next() {
		var c model.Change
		if err := rows.Scan(&c.Seq, &c.DocID, &c.RevID); err != nil {
			return nil, model.Wrap(model.KindStorage, "changes", fmt.Errorf("scan change: %w", err))
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Wrap(model.KindStorage, "changes", fmt.Errorf("iterate changes: %w", err))
	}
	return changes, nil
}

// ChangeRevisions returns up to limit change entries after since, joined
// with the revision each one references. This is the unit of transfer for
// replication.
//
// Entries whose revision was compacted or purged are skipped, but still
// count toward LastSeq so a feed never stalls on them.
func (s *Store) ChangeRevisions(ctx context.Context, since int64, limit int) (model.ChangeBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.seq, c.doc_id, c.rev_id, r.parent_rev, r.generation, r.deleted, r.body
		FROM changes c
		LEFT JOIN revisions r ON r.doc_id = c.doc_id AND r.rev_id = c.rev_id
		WHERE c.seq > ?
		ORDER BY c.seq ASC
		LIMIT ?
	`, since, sqlLimit(limit))
	if err != nil {
		return model.ChangeBatch{}, model.Wrap(model.KindStorage, "change revisions", fmt.Errorf("query changes: %w", err))
	}
	defer rows.Close()

	batch := model.ChangeBatch{Results: []model.SequencedRevision{}, LastSeq: since}
	for rows.Next() {
		var (
			sr         model.SequencedRevision
			parent     sql.NullString
			generation sql.NullInt64
			deleted    sql.NullInt64
			body       sql.NullString
		)
		if err := rows.Scan(&sr.Seq, &sr.Revision.DocID, &sr.Revision.RevID, &parent, &generation, &deleted, &body); err != nil {
			return model.ChangeBatch{}, model.Wrap(model.KindStorage, "change revisions", fmt.Errorf("scan change: %w", err))
		}
		batch.LastSeq = sr.Seq
		if !generation.Valid || !body.Valid {
			continue
		}

		sr.Revision.ParentRev = parent.String
		sr.Revision.Generation = generation.Int64
		sr.Revision.Deleted = deleted.Int64 != 0
		sr.Revision.Body, err = unmarshalBody(body.String)
		if err != nil {
			return model.ChangeBatch{}, model.Wrap(model.KindStorage, "change revisions", err)
		}
		batch.Results = append(batch.Results, sr)
	}
	if err := rows.Err(); err != nil {
		return model.ChangeBatch{}, model.Wrap(model.KindStorage, "change revisions", fmt.Errorf("iterate changes: %w", err))
	}
	return batch, nil
}

// LastSequence returns the highest change log sequence, or 0 when the log
// is empty.
func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&seq); err != nil {
		return 0, model.Wrap(model.KindStorage, "last sequence", fmt.Errorf("query changes: %w", err))
	}
	return seq, nil
}

// Stats counts documents, tombstones, revisions, and change entries.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents WHERE deleted = 0),
			(SELECT COUNT(*) FROM documents WHERE deleted = 1),
			(SELECT COUNT(*) FROM revisions),
			(SELECT COUNT(*) FROM changes),
			(SELECT COALESCE(MAX(seq), 0) FROM changes)
	`).Scan(&st.Documents, &st.Deleted, &st.Revisions, &st.Changes, &st.LastSequence)
	if err != nil {
		return Stats{}, model.Wrap(model.KindStorage, "stats", fmt.Errorf("query stats: %w", err))
	}
	return st, nil
}

// loadRevisions returns every revision node of a document.
// Ordered by generation, then rev id COLLATE BINARY, for deterministic output.
func loadRevisions(ctx context.Context, q querier, docID string) ([]model.Revision, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT doc_id, rev_id, parent_rev, generation, deleted, body
		FROM revisions
		WHERE doc_id = ?
		ORDER BY generation ASC, rev_id COLLATE BINARY ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var revs []model.Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revs = append(revs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return revs, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRevision scans one revisions row. sql.ErrNoRows is returned unwrapped
// so callers can test for it.
func scanRevision(row scanner) (model.Revision, error) {
	var (
		r       model.Revision
		deleted int
		body    sql.NullString
	)
	if err := row.Scan(&r.DocID, &r.RevID, &r.ParentRev, &r.Generation, &deleted, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Revision{}, err
		}
		return model.Revision{}, fmt.Errorf("scan revision: %w", err)
	}
	r.Deleted = deleted != 0

	var err error
	r.Body, err = unmarshalNullableBody(body)
	if err != nil {
		return model.Revision{}, err
	}
	return r, nil
}

// sqlLimit maps "no limit" to SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
