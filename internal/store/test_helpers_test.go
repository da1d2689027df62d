package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/revtree"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustCreate creates a document and fails the test on error.
func mustCreate(t *testing.T, s *Store, id string, body model.Object) model.Document {
	t.Helper()
	doc, err := s.Create(context.Background(), body, id)
	require.NoError(t, err)
	return doc
}

// branches builds a generation-1 root and two divergent children of it.
func branches(t *testing.T, id string) (root, a, b model.Revision) {
	t.Helper()
	var err error
	root, err = revtree.Next(id, model.Revision{}, model.Object{"v": model.String("root")}, false)
	require.NoError(t, err)
	a, err = revtree.Next(id, root, model.Object{"v": model.String("a")}, false)
	require.NoError(t, err)
	b, err = revtree.Next(id, root, model.Object{"v": model.String("b")}, false)
	require.NoError(t, err)
	return root, a, b
}

func countChanges(t *testing.T, s *Store) int {
	t.Helper()
	changes, err := s.ChangesSince(context.Background(), 0, 0)
	require.NoError(t, err)
	return len(changes)
}

func nanValue() float64 {
	return math.NaN()
}
