package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/model"
)

func seedOwners(t *testing.T, dir string) {
	t.Helper()
	mustExecute(t, dir, "init", "db1")
	mustExecute(t, dir, "create", "db1", `{"owner":"ann","title":"one"}`, "--id", "a")
	mustExecute(t, dir, "create", "db1", `{"owner":"bob","title":"two"}`, "--id", "b")
	mustExecute(t, dir, "create", "db1", `{"owner":"ann"}`, "--id", "c")
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	seedOwners(t, dir)

	var docs []model.Document
	_, err := executeJSON(t, dir, &docs, "find", "db1", `{"owner":"ann","title":{"$exists":true}}`, "--fields", "title")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, model.Object{"title": model.String("one")}, docs[0].Body)

	out := mustExecute(t, dir, "find", "db1")
	assert.Contains(t, out, "3 document(s)")

	mustExecute(t, dir, "delete", "db1", "b")
	out = mustExecute(t, dir, "find", "db1", "--include-deleted")
	assert.Contains(t, out, "(deleted)")
}

func TestFind_InvalidSelector(t *testing.T) {
	dir := t.TempDir()
	seedOwners(t, dir)

	resp, err := executeJSON(t, dir, nil, "find", "db1", `{"n":{"$gt":1}}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "VALIDATION", resp.Error.Code)
}

func TestIndex(t *testing.T) {
	dir := t.TempDir()
	seedOwners(t, dir)

	out := mustExecute(t, dir, "index", "db1")
	assert.Equal(t, "no indexes\n", out)

	out = mustExecute(t, dir, "index", "db1", "by-owner", "owner")
	assert.Equal(t, "by-owner: owner\n", out)

	// Indexed queries return the same results.
	var docs []model.Document
	_, err := executeJSON(t, dir, &docs, "find", "db1", `{"owner":"ann"}`)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c", docs[1].ID)

	resp, err := executeJSON(t, dir, nil, "index", "db1", "by-owner", "title")
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", resp.Error.Code)

	_, err = execute(t, dir, "index", "db1", "no-fields")
	require.Error(t, err)
}
