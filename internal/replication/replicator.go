// Package replication moves revisions between a local store and a remote
// peer. Push sends local changes after the push checkpoint; pull merges
// remote changes after the pull checkpoint. Checkpoints only advance past
// entries the other side has durably accepted, so an interrupted leg
// resumes where it stopped.
package replication

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/docsync/internal/model"
)

// DefaultBatchSize is the number of change entries transferred per batch.
const DefaultBatchSize = 100

// Store is the local side of replication.
type Store interface {
	PeerID() string
	ChangeRevisions(ctx context.Context, since int64, limit int) (model.ChangeBatch, error)
	Merge(ctx context.Context, rev model.Revision) (model.MergeResult, error)
	Checkpoint(ctx context.Context, peerID string, dir model.Direction) (model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// Peer is the remote side of replication.
type Peer interface {
	// Negotiate opens a replication session for the given local peer id.
	Negotiate(ctx context.Context, peerID string) (session string, err error)

	// ChangesSince returns up to limit remote change entries after since.
	ChangesSince(ctx context.Context, session string, since int64, limit int) (model.ChangeBatch, error)

	// PutRevisions stores revisions on the peer, answering one Ack per
	// revision in order. Fewer acks than revisions means the rest failed.
	PutRevisions(ctx context.Context, session string, revs []model.Revision) ([]model.Ack, error)
}

// Observer is notified of every state transition.
type Observer func(dir model.Direction, from, to State)

// Stats summarizes one replication leg.
type Stats struct {
	Direction model.Direction `json:"direction"`

	// Documents counts revisions the receiving side newly applied.
	// Revisions it already had are acknowledged but not counted.
	Documents int `json:"documents"`

	// Batches counts change feed pages processed.
	Batches int `json:"batches"`

	// Conflicts counts pulled revisions that left their document with
	// more than one live leaf.
	Conflicts int `json:"conflicts,omitempty"`

	// LastSequence is the checkpoint when the leg ended.
	LastSequence int64 `json:"last_sequence"`
}

// String formats the stats the way replication results are reported.
func (s Stats) String() string {
	return fmt.Sprintf("Replicated %d documents in %d batches", s.Documents, s.Batches)
}

// SyncStats holds the result of both legs of a Sync.
type SyncStats struct {
	Push Stats `json:"push"`
	Pull Stats `json:"pull"`
}

func (s SyncStats) String() string {
	return fmt.Sprintf("push: %s\npull: %s", s.Push, s.Pull)
}

// Replicator runs push and pull legs between a local store and one peer.
//
// Thread-safety: safe for concurrent use. Concurrent calls for the same
// direction are serialized; push and pull run independently.
type Replicator struct {
	local     Store
	remote    Peer
	remoteID  string
	batchSize int
	log       *zap.Logger
	observer  Observer

	pushMu sync.Mutex
	pullMu sync.Mutex

	mu     sync.Mutex
	states map[model.Direction]State
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithBatchSize sets the number of change entries per batch.
// Non-positive values keep the default.
func WithBatchSize(n int) Option {
	return func(r *Replicator) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Replicator) { r.log = l }
}

// WithObserver registers a state transition callback. It is called
// synchronously from the replicating goroutine.
func WithObserver(o Observer) Option {
	return func(r *Replicator) { r.observer = o }
}

// New creates a Replicator. remoteID identifies the peer in checkpoints and
// must be stable across runs (typically the peer URL).
func New(local Store, remote Peer, remoteID string, opts ...Option) *Replicator {
	r := &Replicator{
		local:     local,
		remote:    remote,
		remoteID:  remoteID,
		batchSize: DefaultBatchSize,
		log:       zap.NewNop(),
		states: map[model.Direction]State{
			model.DirectionPush: StateIdle,
			model.DirectionPull: StateIdle,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state of a leg.
func (r *Replicator) State(dir model.Direction) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[dir]
}

// Push sends local changes after the push checkpoint to the peer.
//
// The checkpoint advances to the highest sequence of the acknowledged
// prefix of each batch. A rejected or missing ack halts the leg with a
// Transport error and the checkpoint never passes the failed entry.
func (r *Replicator) Push(ctx context.Context) (Stats, error) {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()

	const dir = model.DirectionPush
	stats := Stats{Direction: dir}

	r.transition(dir, StateNegotiating)
	session, err := r.remote.Negotiate(ctx, r.local.PeerID())
	if err != nil {
		return stats, r.fail(dir, transportErr("push", err))
	}

	cp, err := r.local.Checkpoint(ctx, r.remoteID, dir)
	if err != nil {
		return stats, r.fail(dir, err)
	}
	since := cp.LastSequence
	stats.LastSequence = since

	for {
		r.transition(dir, StateTransferring)
		batch, err := r.local.ChangeRevisions(ctx, since, r.batchSize)
		if err != nil {
			return stats, r.fail(dir, err)
		}
		if len(batch.Results) == 0 && batch.LastSeq <= since {
			break
		}

		advance := batch.LastSeq
		var rejected error
		if len(batch.Results) > 0 {
			revs := make([]model.Revision, len(batch.Results))
			for i, sr := range batch.Results {
				revs[i] = sr.Revision
			}
			acks, err := r.remote.PutRevisions(ctx, session, revs)
			if err != nil {
				return stats, r.fail(dir, transportErr("push", err))
			}

			var applied int
			applied, advance, rejected = ackedPrefix(since, batch, acks)
			stats.Documents += applied
		}

		r.transition(dir, StateCheckpointing)
		if advance > since {
			if err := r.local.SaveCheckpoint(ctx, model.Checkpoint{PeerID: r.remoteID, Direction: dir, LastSequence: advance}); err != nil {
				return stats, r.fail(dir, err)
			}
			since = advance
			stats.LastSequence = advance
		}
		stats.Batches++

		if rejected != nil {
			return stats, r.fail(dir, rejected)
		}
	}

	r.finish(dir, stats)
	return stats, nil
}

// Pull merges remote changes after the pull checkpoint into the local
// store. The checkpoint advances only past entries merged successfully.
func (r *Replicator) Pull(ctx context.Context) (Stats, error) {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()

	const dir = model.DirectionPull
	stats := Stats{Direction: dir}

	r.transition(dir, StateNegotiating)
	session, err := r.remote.Negotiate(ctx, r.local.PeerID())
	if err != nil {
		return stats, r.fail(dir, transportErr("pull", err))
	}

	cp, err := r.local.Checkpoint(ctx, r.remoteID, dir)
	if err != nil {
		return stats, r.fail(dir, err)
	}
	since := cp.LastSequence
	stats.LastSequence = since

	for {
		r.transition(dir, StateTransferring)
		batch, err := r.remote.ChangesSince(ctx, session, since, r.batchSize)
		if err != nil {
			return stats, r.fail(dir, transportErr("pull", err))
		}
		if len(batch.Results) == 0 && batch.LastSeq <= since {
			break
		}
		if batch.LastSeq <= since {
			return stats, r.fail(dir, model.Errorf(model.KindTransport, "pull",
				"peer change feed did not advance past sequence %d", since))
		}

		advance := batch.LastSeq
		var applyErr error
		for _, sr := range batch.Results {
			res, err := r.local.Merge(ctx, sr.Revision)
			if err != nil {
				advance = sr.Seq - 1
				applyErr = err
				break
			}
			if res.Applied {
				stats.Documents++
			}
			if res.Conflict {
				stats.Conflicts++
			}
		}

		r.transition(dir, StateCheckpointing)
		if advance > since {
			if err := r.local.SaveCheckpoint(ctx, model.Checkpoint{PeerID: r.remoteID, Direction: dir, LastSequence: advance}); err != nil {
				return stats, r.fail(dir, err)
			}
			since = advance
			stats.LastSequence = advance
		}
		stats.Batches++

		if applyErr != nil {
			return stats, r.fail(dir, applyErr)
		}
	}

	r.finish(dir, stats)
	return stats, nil
}

// Sync runs push and pull concurrently and fails if either fails. Both
// legs always run to completion, so the checkpoint progress of the
// succeeding leg is kept.
func (r *Replicator) Sync(ctx context.Context) (SyncStats, error) {
	var (
		g   errgroup.Group
		out SyncStats
	)
	g.Go(func() error {
		var err error
		out.Push, err = r.Push(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.Pull, err = r.Pull(ctx)
		return err
	})
	return out, g.Wait()
}

// ackedPrefix walks acks against the batch in order. It returns how many
// acknowledged revisions the peer newly applied, the sequence the
// checkpoint may advance to, and the error for the first rejected revision,
// if any.
func ackedPrefix(since int64, batch model.ChangeBatch, acks []model.Ack) (int, int64, error) {
	applied := 0
	for i, sr := range batch.Results {
		if i >= len(acks) {
			return applied, sr.Seq - 1, &model.Error{
				Kind: model.KindTransport,
				Op:   "push",
				ID:   sr.Revision.DocID,
				Msg:  fmt.Sprintf("peer did not acknowledge revision %s", sr.Revision.RevID),
			}
		}
		ack := acks[i]
		if !ack.OK || ack.RevID != sr.Revision.RevID {
			msg := fmt.Sprintf("peer rejected revision %s", sr.Revision.RevID)
			if ack.Error != "" {
				msg += ": " + ack.Error
			}
			return applied, sr.Seq - 1, &model.Error{Kind: model.KindTransport, Op: "push", ID: sr.Revision.DocID, Msg: msg}
		}
		if ack.Applied {
			applied++
		}
	}
	return applied, max(batch.LastSeq, since), nil
}

func (r *Replicator) transition(dir model.Direction, to State) {
	r.mu.Lock()
	from := r.states[dir]
	r.states[dir] = to
	r.mu.Unlock()

	r.log.Debug("replication state",
		zap.String("direction", string(dir)),
		zap.String("peer", r.remoteID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if r.observer != nil {
		r.observer(dir, from, to)
	}
}

// fail moves the leg through Failed back to Idle and returns err.
func (r *Replicator) fail(dir model.Direction, err error) error {
	r.transition(dir, StateFailed)
	r.log.Warn("replication failed",
		zap.String("direction", string(dir)),
		zap.String("peer", r.remoteID),
		zap.Error(err),
	)
	r.transition(dir, StateIdle)
	return err
}

func (r *Replicator) finish(dir model.Direction, stats Stats) {
	r.transition(dir, StateIdle)
	r.log.Info(stats.String(),
		zap.String("direction", string(dir)),
		zap.String("peer", r.remoteID),
		zap.Int64("last_sequence", stats.LastSequence),
	)
}

// transportErr classifies peer failures. Errors that already carry a kind
// keep it.
func transportErr(op string, err error) error {
	if model.KindOf(err) != "" {
		return err
	}
	return model.Wrap(model.KindTransport, op, err)
}
