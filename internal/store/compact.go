package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/revtree"
)

// CompactStats reports what a compaction removed.
type CompactStats struct {
	// BodiesDropped counts non-leaf revisions whose body was discarded.
	BodiesDropped int64 `json:"bodies_dropped"`

	// DocumentsPurged counts deleted documents removed entirely.
	DocumentsPurged int64 `json:"documents_purged"`
}

// Compact reclaims space.
//
// Bodies of non-leaf revisions are dropped; the tree structure is kept.
// Documents whose winner is a tombstone and which have no live leaf are
// removed with all their revisions. Change log entries are kept, and
// change feeds skip the entries whose revision is gone.
func (s *Store) Compact(ctx context.Context) (CompactStats, error) {
	var stats CompactStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := documentIDs(ctx, tx)
		if err != nil {
			return err
		}

		for _, id := range ids {
			revs, err := loadRevisions(ctx, tx, id)
			if err != nil {
				return err
			}
			winner, ok := revtree.Winner(revs)
			if !ok {
				continue
			}

			if winner.Deleted && revtree.LiveLeafCount(revs) == 0 {
				if err := purgeDocument(ctx, tx, id); err != nil {
					return err
				}
				stats.DocumentsPurged++
				continue
			}

			n, err := dropInteriorBodies(ctx, tx, id, revs)
			if err != nil {
				return err
			}
			stats.BodiesDropped += n
		}
		return nil
	})
	if err != nil {
		return CompactStats{}, storageErr("compact", err)
	}

	s.log.Info("compaction finished",
		zap.Int64("bodies_dropped", stats.BodiesDropped),
		zap.Int64("documents_purged", stats.DocumentsPurged),
	)
	return stats, nil
}

func documentIDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM documents ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return ids, nil
}

func purgeDocument(ctx context.Context, tx *sql.Tx, id string) error {
	for _, stmt := range []string{
		`DELETE FROM index_entries WHERE doc_id = ?`,
		`DELETE FROM revisions WHERE doc_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("purge document: %w", err)
		}
	}
	return nil
}

func dropInteriorBodies(ctx context.Context, tx *sql.Tx, id string, revs []model.Revision) (int64, error) {
	leaves := make(map[string]bool)
	for _, l := range revtree.Leaves(revs) {
		leaves[l.RevID] = true
	}

	var dropped int64
	for _, r := range revs {
		if leaves[r.RevID] || r.Body == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE revisions SET body = NULL WHERE doc_id = ? AND rev_id = ?
		`, id, r.RevID); err != nil {
			return 0, fmt.Errorf("drop revision body: %w", err)
		}
		dropped++
	}
	return dropped, nil
}
