package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/model"
)

// ReplicateOptions holds flags for the push, pull and sync commands.
type ReplicateOptions struct {
	*RootOptions
	Remote  string
	Retries int
}

var replicateHelp = map[string]struct{ short, long string }{
	"push": {
		"Send local changes to the remote peer",
		`Send every local change after the push checkpoint to the remote peer.
The checkpoint advances only past revisions the peer acknowledged, so an
interrupted push resumes where it stopped.`,
	},
	"pull": {
		"Merge the remote peer's changes",
		`Merge every remote change after the pull checkpoint into the local
database. Concurrent edits become conflicting branches; both are kept.`,
	},
	"sync": {
		"Push and pull concurrently",
		`Run push and pull at the same time. The command fails if either leg
fails; progress made by the other leg is kept.`,
	},
}

// NewReplicateCommand creates the push, pull, or sync command.
func NewReplicateCommand(rootOpts *RootOptions, direction string) *cobra.Command {
	opts := &ReplicateOptions{RootOptions: rootOpts, Retries: -1}
	help := replicateHelp[direction]

	cmd := &cobra.Command{
		Use:   direction + " <db>",
		Short: help.short,
		Long: help.long + `

Transport failures are retried with exponential backoff (--retries, or
replication.retries in the config file). Local errors are never retried.

Example:
  docsync ` + direction + ` notes --remote http://sync.example.com:5984`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicate(opts, direction, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote server URL (overrides config)")
	cmd.Flags().IntVar(&opts.Retries, "retries", -1, "retries on transport failure (default from config)")

	return cmd
}

func runReplicate(opts *ReplicateOptions, direction, db string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	s.remote = opts.Remote

	if err := s.open(db); err != nil {
		return err
	}
	if s.remoteFor(db) == "" {
		msg := fmt.Sprintf("database %q has no remote (use --remote or set it in the config file)", db)
		_ = s.out.Error(ErrCodeBadArgument, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	retries := opts.Retries
	if retries < 0 {
		retries = opts.Config.Replication.Retries
	}

	run := func(ctx context.Context) (any, error) {
		switch direction {
		case "push":
			return s.reg.ReplicatePush(ctx, db, nil).Await(ctx)
		case "pull":
			return s.reg.ReplicatePull(ctx, db, nil).Await(ctx)
		default:
			return s.reg.ReplicateSync(ctx, db, nil).Await(ctx)
		}
	}

	result, err := retryTransport(s.ctx(), s.log, max(retries, 0), run)
	if err != nil {
		return s.out.Fail(direction+" failed", err)
	}
	return s.out.Result(result, func(w io.Writer) {
		fmt.Fprintln(w, result)
	})
}

// retryTransport runs fn, retrying Transport errors with exponential
// backoff up to retries times. Other errors end the loop immediately.
// Zero retries makes a single attempt; WithMaxRetries treats zero as no
// limit.
func retryTransport(ctx context.Context, log *zap.Logger, retries int, fn func(ctx context.Context) (any, error)) (any, error) {
	var (
		result  any
		final   error
		attempt int
	)
	var b backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		b = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries))
	}
	policy := backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		attempt++
		result, final = fn(ctx)
		if final != nil && model.IsTransport(final) {
			log.Warn("replication attempt failed", zap.Int("attempt", attempt), zap.Error(final))
			return final
		}
		return nil
	}, policy)
	if err != nil {
		return result, err
	}
	return result, final
}
