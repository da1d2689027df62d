package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/model"
)

func TestCreate_GeneratesID(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(model.NewFixedGenerator("peer-local", "doc-generated")))
	ctx := context.Background()

	doc, err := s.Create(ctx, nil, "")
	require.NoError(t, err)

	assert.Equal(t, "doc-generated", doc.ID)
	assert.Equal(t, model.Object{}, doc.Body)
	assert.Equal(t, model.MustRevisionID(1, "", model.Object{}, false), doc.Rev)
}

func TestCreate_ThenRetrieve(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	body := model.Object{
		"name": model.String("alice"),
		"tags": model.Array{model.String("x"), model.Int(2)},
	}
	created := mustCreate(t, s, "a", body)

	got, err := s.Retrieve(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("Retrieve() mismatch (-created +got):\n%s", diff)
	}
	assert.Equal(t, 1, countChanges(t, s))
}

func TestCreate_DoesNotAliasCallerBody(t *testing.T) {
	s := createTestStore(t)
	body := model.Object{"n": model.Int(1)}
	mustCreate(t, s, "a", body)

	body["n"] = model.Int(2)
	got, err := s.Retrieve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, model.Int(1), got.Body["n"])
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, "a", model.Object{"v": model.Int(1)})

	_, err := s.Create(context.Background(), model.Object{"v": model.Int(2)}, "a")
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.Equal(t, 1, countChanges(t, s))
}

func TestCreate_OverTombstoneExtendsHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := mustCreate(t, s, "a", model.Object{"v": model.Int(1)})
	tomb, err := s.Delete(ctx, "a", doc.Rev)
	require.NoError(t, err)

	again, err := s.Create(ctx, model.Object{"v": model.Int(2)}, "a")
	require.NoError(t, err)
	assert.Equal(t, model.MustRevisionID(3, tomb.Rev, model.Object{"v": model.Int(2)}, false), again.Rev)

	history, err := s.History(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestCreate_RejectsNonFiniteNumbers(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Create(context.Background(), model.Object{"n": model.Float(nanValue())}, "a")
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := mustCreate(t, s, "a", model.Object{"v": model.Int(1)})

	updated, err := s.Update(ctx, "a", doc.Rev, model.Object{"v": model.Int(2)})
	require.NoError(t, err)
	assert.Equal(t, model.MustRevisionID(2, doc.Rev, model.Object{"v": model.Int(2)}, false), updated.Rev)

	got, err := s.Retrieve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, updated, got)
	assert.Equal(t, 2, countChanges(t, s))
}

func TestUpdate_StaleRevisionIsConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := mustCreate(t, s, "a", model.Object{"v": model.Int(1)})
	current, err := s.Update(ctx, "a", doc.Rev, model.Object{"v": model.Int(2)})
	require.NoError(t, err)

	_, err = s.Update(ctx, "a", doc.Rev, model.Object{"v": model.Int(3)})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.EqualError(t, err, "update: CONFLICT: revision mismatch (id=a)")

	// A rejected write never mutates state.
	got, err := s.Retrieve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, current, got)
	assert.Equal(t, 2, countChanges(t, s))
}

func TestUpdate_MissingIsNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Update(context.Background(), "missing", "1-abc", model.Object{})
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestUpdate_ConcurrentSameRevision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := mustCreate(t, s, "a", model.Object{"v": model.Int(0)})

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "a", doc.Rev, model.Object{"v": model.Int(i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case model.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)
	assert.Equal(t, 2, countChanges(t, s))
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := mustCreate(t, s, "a", model.Object{"v": model.Int(1)})

	tomb, err := s.Delete(ctx, "a", doc.Rev)
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)

	_, err = s.Retrieve(ctx, "a")
	assert.True(t, model.IsNotFound(err))

	// The tombstone and the prior revision remain reachable.
	rev, err := s.RetrieveRevision(ctx, "a", tomb.Rev)
	require.NoError(t, err)
	assert.True(t, rev.Deleted)
	old, err := s.RetrieveRevision(ctx, "a", doc.Rev)
	require.NoError(t, err)
	assert.Equal(t, model.Int(1), old.Body["v"])

	// Deleting again addresses a document that no longer exists.
	_, err = s.Delete(ctx, "a", tomb.Rev)
	assert.True(t, model.IsNotFound(err))
}

func TestDelete_StaleRevisionIsConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := mustCreate(t, s, "a", model.Object{})
	_, err := s.Update(ctx, "a", doc.Rev, model.Object{"v": model.Int(1)})
	require.NoError(t, err)

	_, err = s.Delete(ctx, "a", doc.Rev)
	assert.True(t, model.IsConflict(err))
	_, err = s.Retrieve(ctx, "a")
	assert.NoError(t, err)
}

func TestMerge_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	root, _, _ := branches(t, "d")

	res, err := s.Merge(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, model.MergeResult{Applied: true}, res)

	res, err = s.Merge(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, model.MergeResult{Applied: false}, res)
	assert.Equal(t, 1, countChanges(t, s))
}

func TestMerge_DetectsConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	root, a, b := branches(t, "d")

	for _, r := range []model.Revision{root, a} {
		res, err := s.Merge(ctx, r)
		require.NoError(t, err)
		assert.False(t, res.Conflict)
	}
	res, err := s.Merge(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, model.MergeResult{Applied: true, Conflict: true}, res)

	conflicts, err := s.Conflicts(ctx, "d")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	// Both branches persist; neither overwrote the other.
	_, err = s.RetrieveRevision(ctx, "d", a.RevID)
	require.NoError(t, err)
	_, err = s.RetrieveRevision(ctx, "d", b.RevID)
	require.NoError(t, err)
}

func TestMerge_WinnerIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	root, a, b := branches(t, "d")

	s1 := createTestStore(t)
	s2 := createTestStore(t)
	for _, r := range []model.Revision{root, a, b} {
		_, err := s1.Merge(ctx, r)
		require.NoError(t, err)
	}
	for _, r := range []model.Revision{b, root, a} {
		_, err := s2.Merge(ctx, r)
		require.NoError(t, err)
	}

	w1, err := s1.Retrieve(ctx, "d")
	require.NoError(t, err)
	w2, err := s2.Retrieve(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, w1, w2)

	want := a.RevID
	if b.RevID > want {
		want = b.RevID
	}
	assert.Equal(t, want, w1.Rev)
}

func TestDelete_AfterMergedBranch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	root, a, _ := branches(t, "d")
	require.NoError(t, mergeAll(ctx, s, root, a))

	doc, err := s.Retrieve(ctx, "d")
	require.NoError(t, err)
	tomb, err := s.Delete(ctx, "d", doc.Rev)
	require.NoError(t, err)

	history, err := s.History(ctx, "d")
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, int64(3), history[2].Generation)
	assert.Equal(t, tomb.Rev, history[2].RevID)
}

func TestMerge_RejectsTamperedRevision(t *testing.T) {
	s := createTestStore(t)
	root, _, _ := branches(t, "d")
	root.Body = model.Object{"v": model.String("tampered")}

	_, err := s.Merge(context.Background(), root)
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, 0, countChanges(t, s))
}

func TestMutations_AppendOneChangeEach(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := mustCreate(t, s, "a", model.Object{})
	doc, err := s.Update(ctx, "a", doc.Rev, model.Object{"n": model.Int(1)})
	require.NoError(t, err)
	_, err = s.Delete(ctx, "a", doc.Rev)
	require.NoError(t, err)

	changes, err := s.ChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	for i, c := range changes {
		assert.Equal(t, int64(i+1), c.Seq, fmt.Sprintf("change %d", i))
		assert.Equal(t, "a", c.DocID)
	}
}

func mergeAll(ctx context.Context, s *Store, revs ...model.Revision) error {
	for _, r := range revs {
		if _, err := s.Merge(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
