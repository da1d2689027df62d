package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// execute runs the CLI against dataDir and returns everything it printed.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	return executeWith(t, &RootOptions{}, append([]string{"--data-dir", dataDir}, args...)...)
}

func executeWith(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	opts.logger = zap.NewNop()
	cmd := newRootCommand(opts)

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// executeWithInput runs the CLI with stdin set to input.
func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{logger: zap.NewNop()})

	buf := &bytes.Buffer{}
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// executeJSON runs the CLI with --format json and decodes the response.
func executeJSON(t *testing.T, dataDir string, data any, args ...string) (CLIResponse, error) {
	t.Helper()
	out, err := execute(t, dataDir, append([]string{"--format", "json"}, args...)...)

	var resp CLIResponse
	if data != nil {
		resp.Data = data
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp, err
}

// mustExecute runs the CLI and fails the test on error.
func mustExecute(t *testing.T, dataDir string, args ...string) string {
	t.Helper()
	out, err := execute(t, dataDir, args...)
	require.NoError(t, err, "output: %s", out)
	return out
}
