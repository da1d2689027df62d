package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/store"
)

func TestInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	out := mustExecute(t, dir, "init", "notes")
	assert.Contains(t, out, "Initialized notes")
	mustExecute(t, dir, "init", "notes")

	_, err := execute(t, dir, "init", "Bad Name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCommandsRequireInit(t *testing.T) {
	out, err := execute(t, t.TempDir(), "get", "notes", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [NO_DATABASE]")
	assert.Contains(t, out, "docsync init notes")
}

func TestDocumentLifecycle(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "db1")

	var created model.Document
	resp, err := executeJSON(t, dir, &created, "create", "db1", `{"name":"a"}`, "--id", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "x", created.ID)
	assert.True(t, strings.HasPrefix(created.Rev, "1-"))

	out := mustExecute(t, dir, "get", "db1", "x")
	assert.Contains(t, out, `{"name":"a"}`)

	var updated model.Document
	_, err = executeJSON(t, dir, &updated, "update", "db1", "x", created.Rev, `{"name":"b"}`)
	require.NoError(t, err)
	assert.Equal(t, model.Object{"name": model.String("b")}, updated.Body)

	// Stale revision.
	resp, err = executeJSON(t, dir, nil, "update", "db1", "x", created.Rev, `{"name":"c"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "CONFLICT", resp.Error.Code)

	// The first revision is still retrievable by id.
	out = mustExecute(t, dir, "get", "db1", "x", "--rev", created.Rev)
	assert.Contains(t, out, `{"name":"a"}`)

	out = mustExecute(t, dir, "history", "db1", "x")
	assert.Contains(t, out, created.Rev)
	assert.Contains(t, out, updated.Rev+" <- "+created.Rev)

	out = mustExecute(t, dir, "delete", "db1", "x")
	assert.Contains(t, out, "Deleted x")

	resp, err = executeJSON(t, dir, nil, "get", "db1", "x")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestCreate_BodyFromStdin(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "db1")

	_, err := executeWithInput(t, `{"from":"stdin"}`, "--data-dir", dir, "create", "db1", "-", "--id", "s")
	require.NoError(t, err)

	out := mustExecute(t, dir, "get", "db1", "s")
	assert.Contains(t, out, `{"from":"stdin"}`)
}

func TestCreate_InvalidBody(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "db1")

	out, err := execute(t, dir, "create", "db1", `[1,2]`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [VALIDATION]")
}

func TestHistory_ShowsConflicts(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "db1")

	// Write two sibling branches directly through the store.
	s, err := store.Open(filepath.Join(dir, "db1.db"))
	require.NoError(t, err)
	base, err := s.Create(t.Context(), model.Object{"v": model.Int(0)}, "doc")
	require.NoError(t, err)
	parent, err := s.RetrieveRevision(t.Context(), "doc", base.Rev)
	require.NoError(t, err)
	for _, v := range []int64{1, 2} {
		body := model.Object{"v": model.Int(v)}
		rev := model.Revision{
			DocID:      "doc",
			RevID:      model.MustRevisionID(2, base.Rev, body, false),
			ParentRev:  base.Rev,
			Generation: parent.Generation + 1,
			Body:       body,
		}
		_, err := s.Merge(t.Context(), rev)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	var result HistoryResult
	_, err = executeJSON(t, dir, &result, "history", "db1", "doc")
	require.NoError(t, err)
	assert.Len(t, result.Revisions, 3)
	assert.Len(t, result.Conflicts, 1)

	_, err = execute(t, dir, "history", "db1", "missing")
	require.Error(t, err)
}

func TestCompactAndStats(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, dir, "init", "db1")

	var doc model.Document
	_, err := executeJSON(t, dir, &doc, "create", "db1", `{"n":1}`, "--id", "a")
	require.NoError(t, err)
	mustExecute(t, dir, "update", "db1", "a", doc.Rev, `{"n":2}`)
	mustExecute(t, dir, "create", "db1", `{}`, "--id", "gone")
	mustExecute(t, dir, "delete", "db1", "gone")

	var compact store.CompactStats
	_, err = executeJSON(t, dir, &compact, "compact", "db1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), compact.BodiesDropped)
	assert.Equal(t, int64(1), compact.DocumentsPurged)

	var stats store.Stats
	_, err = executeJSON(t, dir, &stats, "stats", "db1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, int64(4), stats.Changes)
}
