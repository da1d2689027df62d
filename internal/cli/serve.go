package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/peer"
)

// shutdownTimeout bounds how long serve waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// ready, when set, receives the listening address (for testing).
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve [db...]",
		Short: "Serve databases to replication peers",
		Long: `Serve the replication protocol over HTTP for the named databases and
every database listed in the config file. Databases are created if they do
not exist.

Routes, relative to the server URL:
  POST /{db}/_session   open a replication session
  GET  /{db}/_changes   read the change feed
  POST /{db}/_revs      store revisions

Example:
  docsync serve notes settings --addr :5984`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, names []string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, db := range opts.Config.Databases {
		names = append(names, db.Name)
	}
	if len(names) == 0 {
		msg := "no databases to serve (name them as arguments or in the config file)"
		_ = s.out.Error(ErrCodeBadArgument, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	for _, name := range names {
		// Served databases are the replication target, not the source, so
		// they are opened without a remote of their own.
		path, err := s.reg.Init(s.ctx(), "", name, nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("failed to open database", err)
		}
		if db, ok := opts.Config.Database(name); ok && len(db.Indexes) > 0 {
			if _, err := s.reg.CreateIndexes(s.ctx(), name, db.Indexes, nil).Await(s.ctx()); err != nil {
				return s.out.Fail("failed to create indexes", err)
			}
		}
		s.log.Info("serving database", zap.String("db", name), zap.String("path", path))
	}

	addr := opts.Addr
	if addr == "" {
		addr = opts.Config.Serve.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return s.out.Fail("failed to listen", WrapExitError(ExitCommandError, "listen "+addr, err))
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(s.ctx())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			s.log.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	srv := &http.Server{
		Handler:           peer.NewServer(s.reg, s.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	s.log.Info("server started", zap.String("addr", ln.Addr().String()), zap.Strings("databases", s.reg.Names()))
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d database(s) on %s\n", len(s.reg.Names()), ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	select {
	case err := <-serveErr:
		return WrapExitError(ExitFailure, "server error", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown error", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}

	s.log.Info("server stopped gracefully")
	return nil
}
