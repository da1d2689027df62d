package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flakyPeer wraps a Peer and misbehaves on demand.
type flakyPeer struct {
	Peer

	mu sync.Mutex
	// ackLimit, when >= 0, caps the total number of revisions acknowledged.
	ackLimit int
	acked    int
	// failChangesAfter, when > 0, fails ChangesSince after that many calls.
	failChangesAfter int
	changesCalls     int
	negotiateErr     error
}

func newFlakyPeer(inner Peer) *flakyPeer {
	return &flakyPeer{Peer: inner, ackLimit: -1}
}

func (p *flakyPeer) Negotiate(ctx context.Context, peerID string) (string, error) {
	if p.negotiateErr != nil {
		return "", p.negotiateErr
	}
	return p.Peer.Negotiate(ctx, peerID)
}

func (p *flakyPeer) ChangesSince(ctx context.Context, session string, since int64, limit int) (model.ChangeBatch, error) {
	p.mu.Lock()
	p.changesCalls++
	fail := p.failChangesAfter > 0 && p.changesCalls > p.failChangesAfter
	p.mu.Unlock()
	if fail {
		return model.ChangeBatch{}, errors.New("connection reset")
	}
	return p.Peer.ChangesSince(ctx, session, since, limit)
}

func (p *flakyPeer) PutRevisions(ctx context.Context, session string, revs []model.Revision) ([]model.Ack, error) {
	p.mu.Lock()
	if p.ackLimit >= 0 {
		remaining := max(p.ackLimit-p.acked, 0)
		if remaining < len(revs) {
			revs = revs[:remaining]
		}
	}
	p.mu.Unlock()

	acks, err := p.Peer.PutRevisions(ctx, session, revs)
	p.mu.Lock()
	p.acked += len(acks)
	p.mu.Unlock()
	return acks, err
}

func checkpoint(t *testing.T, s *store.Store, peerID string, dir model.Direction) int64 {
	t.Helper()
	cp, err := s.Checkpoint(context.Background(), peerID, dir)
	require.NoError(t, err)
	return cp.LastSequence
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, local, "a", "b", "c")

	r := New(local, peer.NewLocal(remote, nil), "remote", WithBatchSize(2))
	stats, err := r.Push(ctx)
	require.NoError(t, err)

	assert.Equal(t, Stats{Direction: model.DirectionPush, Documents: 3, Batches: 2, LastSequence: 3}, stats)
	assert.Equal(t, "Replicated 3 documents in 2 batches", stats.String())
	assert.Equal(t, []string{"a", "b", "c"}, testutil.DocumentIDs(t, remote))
	assert.Equal(t, int64(3), checkpoint(t, local, "remote", model.DirectionPush))

	// Nothing new: no batches, checkpoint unchanged.
	again, err := r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Direction: model.DirectionPush, LastSequence: 3}, again)
}

func TestPush_CountsOnlyNewRevisions(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, local, "a", "b")

	_, err := New(remote, peer.NewLocal(local, nil), "local").Pull(ctx)
	require.NoError(t, err)
	testutil.Seed(t, local, "c")

	stats, err := New(local, peer.NewLocal(remote, nil), "remote").Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Direction: model.DirectionPush, Documents: 1, Batches: 1, LastSequence: 3}, stats)
	assert.Equal(t, int64(3), checkpoint(t, local, "remote", model.DirectionPush))
}

func TestPush_ResumesAfterPartialAck(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, local, "a", "b", "c", "d", "e")

	flaky := newFlakyPeer(peer.NewLocal(remote, nil))
	flaky.ackLimit = 2

	r := New(local, flaky, "remote", WithBatchSize(10))
	stats, err := r.Push(ctx)
	require.Error(t, err)
	assert.True(t, model.IsTransport(err))
	assert.Equal(t, 2, stats.Documents)

	// The checkpoint stops at the acknowledged prefix.
	assert.Equal(t, int64(2), checkpoint(t, local, "remote", model.DirectionPush))
	assert.Equal(t, StateIdle, r.State(model.DirectionPush))

	flaky.ackLimit = -1
	stats, err = r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, int64(5), checkpoint(t, local, "remote", model.DirectionPush))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, testutil.DocumentIDs(t, remote))
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, remote, "x", "y")

	r := New(local, peer.NewLocal(remote, nil), "remote")
	stats, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, int64(2), checkpoint(t, local, "remote", model.DirectionPull))

	doc, err := local.Retrieve(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, model.String("y"), doc.Body["id"])
}

func TestPull_TransportFailureKeepsProgress(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, remote, "a", "b", "c", "d")

	flaky := newFlakyPeer(peer.NewLocal(remote, nil))
	flaky.failChangesAfter = 1

	r := New(local, flaky, "remote", WithBatchSize(2))
	stats, err := r.Pull(ctx)
	require.Error(t, err)
	assert.True(t, model.IsTransport(err))
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, int64(2), checkpoint(t, local, "remote", model.DirectionPull))

	flaky.failChangesAfter = 0
	stats, err = r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, []string{"a", "b", "c", "d"}, testutil.DocumentIDs(t, local))
}

func TestSync_ConvergesWithConflicts(t *testing.T) {
	ctx := context.Background()
	a, b := testutil.OpenStore(t, "a"), testutil.OpenStore(t, "b")

	_, err := a.Create(ctx, model.Object{"v": model.String("from a")}, "shared")
	require.NoError(t, err)
	_, err = b.Create(ctx, model.Object{"v": model.String("from b")}, "shared")
	require.NoError(t, err)
	testutil.Seed(t, a, "only-a")
	testutil.Seed(t, b, "only-b")

	_, err = New(a, peer.NewLocal(b, nil), "b").Sync(ctx)
	require.NoError(t, err)

	for _, id := range []string{"shared", "only-a", "only-b"} {
		da, err := a.Retrieve(ctx, id)
		require.NoError(t, err, id)
		db, err := b.Retrieve(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, da, db, id)
	}

	ca, err := a.Conflicts(ctx, "shared")
	require.NoError(t, err)
	cb, err := b.Conflicts(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, ca, 1)
	assert.Equal(t, ca, cb)
}

func TestSync_OneLegFailureKeepsOtherLeg(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, local, "a")
	testutil.Seed(t, remote, "z")

	failing := failingChanges{Peer: peer.NewLocal(remote, nil)}
	stats, err := New(local, failing, "remote").Sync(ctx)
	require.Error(t, err)
	assert.True(t, model.IsTransport(err))
	assert.Equal(t, 1, stats.Push.Documents)
	assert.Equal(t, int64(1), checkpoint(t, local, "remote", model.DirectionPush))
	assert.Equal(t, int64(0), checkpoint(t, local, "remote", model.DirectionPull))
}

// failingChanges fails every change feed request.
type failingChanges struct {
	Peer
}

func (failingChanges) ChangesSince(context.Context, string, int64, int) (model.ChangeBatch, error) {
	return model.ChangeBatch{}, errors.New("peer unavailable")
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()
	local, remote := testutil.OpenStore(t, "local"), testutil.OpenStore(t, "remote")
	testutil.Seed(t, local, "a")

	var (
		mu          sync.Mutex
		transitions []string
	)
	observe := func(dir model.Direction, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, fmt.Sprintf("%s:%s>%s", dir, from, to))
	}

	r := New(local, peer.NewLocal(remote, nil), "remote", WithObserver(observe))
	_, err := r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"push:idle>negotiating",
		"push:negotiating>transferring",
		"push:transferring>checkpointing",
		"push:checkpointing>transferring",
		"push:transferring>idle",
	}, transitions)

	transitions = nil
	flaky := newFlakyPeer(peer.NewLocal(remote, nil))
	flaky.negotiateErr = errors.New("dial tcp: refused")
	r = New(local, flaky, "remote", WithObserver(observe))
	_, err = r.Pull(ctx)
	require.Error(t, err)
	assert.True(t, model.IsTransport(err))
	assert.Equal(t, []string{
		"pull:idle>negotiating",
		"pull:negotiating>failed",
		"pull:failed>idle",
	}, transitions)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "checkpointing", StateCheckpointing.String())
	assert.Equal(t, "State(42)", State(42).String())
}
