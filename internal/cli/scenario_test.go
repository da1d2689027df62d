package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const pushScenario = `
name: push_once
description: "a created document reaches the server"
sites:
  - name: server
    databases: [notes]
  - name: phone
    remote: server
    databases: [notes]
steps:
  - op: create
    site: phone
    db: notes
    id: n1
    body: { title: "hello" }
  - op: push
    site: phone
    db: notes
    expect: { documents: 1 }
assertions:
  - type: document
    site: server
    db: notes
    id: n1
    body: { title: "hello" }
`

func TestScenario_Pass(t *testing.T) {
	dataDir := t.TempDir()
	out := mustExecute(t, dataDir, "scenario", writeScenario(t, "push_once", pushScenario))
	assert.Equal(t, "PASS push_once (2 steps)\n", out)

	// Scenarios never touch the data directory.
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScenario_FailJSON(t *testing.T) {
	path := writeScenario(t, "fails", `
name: fails
description: "expects the wrong generation"
sites:
  - name: device
    databases: [notes]
steps:
  - op: create
    db: notes
    id: n1
    expect: { generation: 3 }
`)
	var results []ScenarioResult
	resp, err := executeJSON(t, t.TempDir(), &results, "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 1 scenarios failed")

	assert.Equal(t, "ok", resp.Status)
	require.Len(t, results, 1)
	assert.Equal(t, ScenarioResult{
		File:   path,
		Name:   "fails",
		Steps:  1,
		Errors: []string{"step 1 (create): expected generation 3, got 1"},
	}, results[0])
}

func TestScenario_InvalidFile(t *testing.T) {
	path := writeScenario(t, "bad", "name: bad\nunknown: 1\n")
	out, err := execute(t, t.TempDir(), "scenario", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [BAD_ARGUMENT]")
}
