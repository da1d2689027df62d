package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/revtree"
)

// Create writes a new document and returns it with its first revision.
//
// An empty id is replaced by a generated one. A nil body is stored as {}.
// When id exists only as a deleted document the new revision extends the
// tombstone, so the document's history is preserved. A live document with
// the same id is a Conflict.
func (s *Store) Create(ctx context.Context, body model.Object, id string) (model.Document, error) {
	if id == "" {
		id = s.ids.NewID()
	}
	body = body.Clone()
	if body == nil {
		body = model.Object{}
	}
	if _, err := marshalBody(body); err != nil {
		return model.Document{}, &model.Error{Kind: model.KindValidation, Op: "create", ID: id, Err: err}
	}

	var doc model.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		revs, err := loadRevisions(ctx, tx, id)
		if err != nil {
			return err
		}

		var parent model.Revision
		if winner, ok := revtree.Winner(revs); ok {
			if !winner.Deleted {
				return model.Conflict("create", id, "document already exists")
			}
			parent = winner
		}

		rev, err := revtree.Next(id, parent, body, false)
		if err != nil {
			return model.Wrap(model.KindValidation, "create", err)
		}
		if _, err := s.insertAndRefresh(ctx, tx, rev); err != nil {
			return err
		}
		doc = rev.Document()
		return nil
	})
	if err != nil {
		return model.Document{}, storageErr("create", err)
	}

	s.log.Debug("document created", zap.String("id", doc.ID), zap.String("rev", doc.Rev))
	return doc, nil
}

// Update appends a revision to the document, replacing its body.
//
// rev must be the current winning revision; anything else is a Conflict and
// leaves the store untouched. A missing or deleted document is NotFound.
func (s *Store) Update(ctx context.Context, id, rev string, body model.Object) (model.Document, error) {
	body = body.Clone()
	if body == nil {
		body = model.Object{}
	}
	if _, err := marshalBody(body); err != nil {
		return model.Document{}, &model.Error{Kind: model.KindValidation, Op: "update", ID: id, Err: err}
	}

	doc, err := s.writeChild(ctx, "update", id, rev, body, false)
	if err != nil {
		return model.Document{}, err
	}
	s.log.Debug("document updated", zap.String("id", doc.ID), zap.String("rev", doc.Rev))
	return doc, nil
}

// Delete writes a tombstone child of the winning revision and returns the
// tombstone. The same optimistic concurrency rules as Update apply.
func (s *Store) Delete(ctx context.Context, id, rev string) (model.Document, error) {
	doc, err := s.writeChild(ctx, "delete", id, rev, model.Object{}, true)
	if err != nil {
		return model.Document{}, err
	}
	s.log.Debug("document deleted", zap.String("id", doc.ID), zap.String("rev", doc.Rev))
	return doc, nil
}

// writeChild appends a child of the winning revision after checking rev.
func (s *Store) writeChild(ctx context.Context, op, id, rev string, body model.Object, deleted bool) (model.Document, error) {
	if id == "" {
		return model.Document{}, model.Errorf(model.KindValidation, op, "document id is required")
	}

	var doc model.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		revs, err := loadRevisions(ctx, tx, id)
		if err != nil {
			return err
		}

		winner, ok := revtree.Winner(revs)
		if !ok || winner.Deleted {
			return model.NotFound(op, id)
		}
		if rev != winner.RevID {
			return model.Conflict(op, id, "revision mismatch")
		}

		child, err := revtree.Next(id, winner, body, deleted)
		if err != nil {
			return model.Wrap(model.KindValidation, op, err)
		}
		if _, err := s.insertAndRefresh(ctx, tx, child); err != nil {
			return err
		}
		doc = child.Document()
		return nil
	})
	if err != nil {
		return model.Document{}, storageErr(op, err)
	}
	return doc, nil
}

// Merge inserts a revision received from a replication peer.
//
// No concurrency check is made: the revision joins the tree as a new leaf
// (or extends one), and the winner is recomputed. Merging a revision that
// is already present changes nothing and appends no change entry.
// Conflict reports whether the document has more than one live leaf
// afterwards.
func (s *Store) Merge(ctx context.Context, rev model.Revision) (model.MergeResult, error) {
	rev.Body = rev.Body.Clone()
	if rev.Body == nil {
		rev.Body = model.Object{}
	}
	if err := revtree.Validate(rev); err != nil {
		return model.MergeResult{}, &model.Error{Kind: model.KindValidation, Op: "merge", ID: rev.DocID, Err: err}
	}

	var result model.MergeResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		revs, err := s.insertAndRefresh(ctx, tx, rev)
		if errors.Is(err, errRevisionExists) {
			revs, err = loadRevisions(ctx, tx, rev.DocID)
			if err != nil {
				return err
			}
			result.Conflict = revtree.LiveLeafCount(revs) > 1
			return nil
		}
		if err != nil {
			return err
		}
		result.Applied = true
		result.Conflict = revtree.LiveLeafCount(revs) > 1
		return nil
	})
	if err != nil {
		return model.MergeResult{}, storageErr("merge", err)
	}

	if result.Applied {
		s.log.Debug("revision merged",
			zap.String("id", rev.DocID),
			zap.String("rev", rev.RevID),
			zap.Bool("conflict", result.Conflict),
		)
	}
	return result, nil
}

// errRevisionExists signals that insertAndRefresh found the revision
// already stored.
var errRevisionExists = errors.New("revision already exists")

// insertAndRefresh inserts a revision, appends its change entry, and
// rewrites the document's winner and index entries. It returns the
// document's full revision set after the insert.
//
// Uses ON CONFLICT DO NOTHING so a duplicate revision is detected without
// failing the transaction.
func (s *Store) insertAndRefresh(ctx context.Context, tx *sql.Tx, rev model.Revision) ([]model.Revision, error) {
	bodyJSON, err := marshalBody(rev.Body)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO revisions (doc_id, rev_id, parent_rev, generation, deleted, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, rev_id) DO NOTHING
	`, rev.DocID, rev.RevID, rev.ParentRev, rev.Generation, boolToInt(rev.Deleted), bodyJSON)
	if err != nil {
		return nil, fmt.Errorf("write revision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("write revision: %w", err)
	}
	if n == 0 {
		return nil, errRevisionExists
	}

	seq, err := appendChange(ctx, tx, rev.DocID, rev.RevID)
	if err != nil {
		return nil, err
	}

	revs, err := loadRevisions(ctx, tx, rev.DocID)
	if err != nil {
		return nil, err
	}
	if err := refreshWinner(ctx, tx, revs, seq); err != nil {
		return nil, err
	}
	return revs, nil
}

// appendChange appends one change log entry and returns its sequence.
func appendChange(ctx context.Context, tx *sql.Tx, docID, revID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO changes (doc_id, rev_id) VALUES (?, ?)
	`, docID, revID)
	if err != nil {
		return 0, fmt.Errorf("write change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write change: %w", err)
	}
	return seq, nil
}

// refreshWinner rewrites the documents row and index entries from the
// document's revision set.
func refreshWinner(ctx context.Context, tx *sql.Tx, revs []model.Revision, seq int64) error {
	winner, ok := revtree.Winner(revs)
	if !ok {
		return nil
	}
	bodyJSON, err := marshalBody(winner.Body)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, rev, generation, deleted, body, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			generation = excluded.generation,
			deleted = excluded.deleted,
			body = excluded.body,
			seq = excluded.seq
	`, winner.DocID, winner.RevID, winner.Generation, boolToInt(winner.Deleted), bodyJSON, seq)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	defs, err := loadIndexDefs(ctx, tx)
	if err != nil {
		return err
	}
	return reindexDocument(ctx, tx, defs, winner.Document())
}

// storageErr passes structured errors through and classifies everything
// else as a storage failure.
func storageErr(op string, err error) error {
	var e *model.Error
	if errors.As(err, &e) {
		return err
	}
	return model.Wrap(model.KindStorage, op, err)
}
