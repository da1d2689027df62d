package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <file>...",
		Short: "Run replication scenarios",
		Long: `Run replication scenarios described in YAML. Each scenario declares
sites with their own databases, runs its steps in order, and checks the
final state. Scenarios run in a scratch directory; the data directory is
not touched.

Example:
  docsync scenario testdata/scenarios/offline_edit.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args, cmd)
		},
	}
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	File   string   `json:"file"`
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Errors []string `json:"errors,omitempty"`
}

func runScenarios(opts *RootOptions, files []string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	log, err := opts.newLogger()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	defer func() { _ = log.Sync() }()

	scenarios := make([]*harness.Scenario, len(files))
	for i, file := range files {
		s, err := harness.LoadScenario(file)
		if err != nil {
			_ = out.Error(ErrCodeBadArgument, fmt.Sprintf("%s: %v", file, err), nil)
			return WrapExitError(ExitCommandError, "invalid scenario", err)
		}
		scenarios[i] = s
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]ScenarioResult, 0, len(files))
	failed := 0
	for i, s := range scenarios {
		res, err := runScenario(ctx, opts, s, log)
		if err != nil {
			_ = out.Error(ErrCodeGeneric, fmt.Sprintf("%s: %v", files[i], err), nil)
			return WrapExitError(ExitFailure, "scenario did not run", err)
		}
		results = append(results, ScenarioResult{
			File:   files[i],
			Name:   s.Name,
			Pass:   res.Pass,
			Steps:  len(res.Trace),
			Errors: res.Errors,
		})
		if !res.Pass {
			failed++
		}
	}

	if err := out.Result(results, func(w io.Writer) {
		for _, r := range results {
			status := "PASS"
			if !r.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(w, "%s %s (%d steps)\n", status, r.Name, r.Steps)
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
	}); err != nil {
		return err
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(results)))
	}
	return nil
}

func runScenario(ctx context.Context, opts *RootOptions, s *harness.Scenario, log *zap.Logger) (*harness.Result, error) {
	dir, err := os.MkdirTemp("", "docsync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	return harness.Run(ctx, s, dir,
		harness.WithLogger(log.With(zap.String("scenario", s.Name))),
		harness.WithBatchSize(opts.Config.Replication.BatchSize),
	)
}
