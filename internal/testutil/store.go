package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/store"
)

// OpenStore opens a store in a fresh temporary directory and closes it when
// the test ends.
func OpenStore(t testing.TB, name string, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Seed creates one document per id with body {"id": id}.
func Seed(t testing.TB, s *store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.Create(context.Background(), model.Object{"id": model.String(id)}, id)
		require.NoError(t, err)
	}
}

// DocumentIDs lists every document id that appears in the change log, in
// order of first appearance. Deleted documents are included.
func DocumentIDs(t testing.TB, s *store.Store) []string {
	t.Helper()
	changes, err := s.ChangesSince(context.Background(), 0, 0)
	require.NoError(t, err)

	seen := map[string]bool{}
	out := []string{}
	for _, c := range changes {
		if !seen[c.DocID] {
			seen[c.DocID] = true
			out = append(out, c.DocID)
		}
	}
	return out
}
