package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/docsync/internal/model"
)

// Checkpoint returns the replication cursor for a peer and direction.
// A peer never replicated with has LastSequence 0.
func (s *Store) Checkpoint(ctx context.Context, peerID string, dir model.Direction) (model.Checkpoint, error) {
	cp := model.Checkpoint{PeerID: peerID, Direction: dir}
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM checkpoints WHERE peer_id = ? AND direction = ?
	`, peerID, string(dir)).Scan(&cp.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return model.Checkpoint{}, model.Wrap(model.KindStorage, "checkpoint", fmt.Errorf("query checkpoint: %w", err))
	}
	return cp, nil
}

// SaveCheckpoint persists a replication cursor. Checkpoints only move
// forward: saving a lower sequence than the stored one is a no-op.
func (s *Store) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.PeerID == "" {
		return model.Errorf(model.KindValidation, "save checkpoint", "peer id is required")
	}
	if cp.Direction != model.DirectionPush && cp.Direction != model.DirectionPull {
		return model.Errorf(model.KindValidation, "save checkpoint", "unknown direction %q", cp.Direction)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (peer_id, direction, last_sequence)
		VALUES (?, ?, ?)
		ON CONFLICT(peer_id, direction) DO UPDATE SET
			last_sequence = excluded.last_sequence
		WHERE excluded.last_sequence > checkpoints.last_sequence
	`, cp.PeerID, string(cp.Direction), cp.LastSequence)
	if err != nil {
		return model.Wrap(model.KindStorage, "save checkpoint", fmt.Errorf("write checkpoint: %w", err))
	}
	return nil
}
