package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "golden file is named after the scenario")

			result, err := RunWithGolden(t, s, WithBatchSize(2))
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func run(t *testing.T, yaml string) *Result {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	result, err := Run(context.Background(), s, t.TempDir())
	require.NoError(t, err)
	return result
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	result := run(t, `
name: duplicate
description: "creating an existing id conflicts"
sites:
  - name: device
    databases: [notes]
steps:
  - op: create
    db: notes
    id: n1
  - op: create
    db: notes
    id: n1
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "CONFLICT", result.Trace[1].Outcome)
	assert.Equal(t, []string{"step 2 (create): expected outcome ok, got CONFLICT"}, result.Errors)
}

func TestRun_ExpectMismatches(t *testing.T) {
	result := run(t, `
name: mismatches
description: "every expect field is checked"
sites:
  - name: device
    databases: [prefs]
steps:
  - op: set_item
    db: prefs
    key: k
    value: v
    expect: { generation: 2 }
  - op: get_item
    db: prefs
    key: k
    expect: { value: w }
  - op: keys
    db: prefs
    expect: { ids: [k, l] }
  - op: find_or_create
    db: prefs
    id: k
    expect: { body: { value: "x" } }
  - op: clear
    db: prefs
    expect: { documents: 3 }
`)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"step 1 (set_item): expected generation 2, got 1",
		`step 2 (get_item): expected value "w", got "v"`,
		"step 3 (keys): expected ids [k l], got [k]",
		`step 4 (find_or_create): body field "value": expected "x", got "v"`,
		"step 5 (clear): expected 3 documents, got 1",
	}, result.Errors)
}

func TestRun_FailedAssertionIncludesTrace(t *testing.T) {
	result := run(t, `
name: assertion
description: "assertions see final state"
sites:
  - name: device
    databases: [notes]
steps:
  - op: create
    db: notes
    id: n1
    body: { title: "a" }
assertions:
  - type: document
    db: notes
    id: n1
    body: { title: "b" }
  - type: missing
    db: notes
    id: n1
  - type: conflicts
    db: notes
    id: n1
    count: 1
  - type: keys
    db: notes
    keys: []
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "Assertion failed: document")
	assert.Contains(t, result.Errors[0], `body field "title": expected "b", got "a"`)
	assert.Contains(t, result.Errors[0], "[1] create device/notes n1 -> ok")
	assert.Contains(t, result.Errors[1], "Assertion failed: missing")
	assert.Contains(t, result.Errors[2], "Assertion failed: conflicts")
	assert.Contains(t, result.Errors[3], "Assertion failed: keys")
}

func TestRun_NotConverged(t *testing.T) {
	result := run(t, `
name: diverged
description: "a document that was never pushed"
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
assertions:
  - type: converged
    db: notes
    id: n1
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: converged")
	assert.Contains(t, result.Errors[0], "server: - []")
}

func TestRun_ReplicationFailures(t *testing.T) {
	result := run(t, `
name: failures
description: "replication needs a remote that has the database"
sites:
  - name: server
    databases: [other]
  - name: phone
    remote: server
    databases: [notes]
  - name: offline
    databases: [notes]
steps:
  - op: push
    site: phone
    db: notes
    expect: { error: TRANSPORT }
  - op: pull
    site: offline
    db: notes
    expect: { error: VALIDATION }
`)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_UnknownCaptureIsAnError(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: capture
description: "revisions must be captured before use"
sites:
  - name: device
    databases: [notes]
steps:
  - op: update
    db: notes
    id: n1
    rev: $nope
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step 1: no revision captured as "nope"`)
}

func TestRun_LogsFailedSteps(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s, err := ParseScenario([]byte(`
name: logged
description: "failed steps are logged"
sites:
  - name: device
    databases: [notes]
steps:
  - op: retrieve
    db: notes
    id: missing
    expect: { error: NOT_FOUND }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, t.TempDir(), WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, 1, logs.FilterMessage("scenario step failed").Len())
}
