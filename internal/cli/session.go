package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/docsync/internal/datastore"
	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/peer"
)

// session is the per-invocation state shared by commands that touch
// databases.
type session struct {
	opts *RootOptions
	cmd  *cobra.Command
	out  *OutputFormatter
	log  *zap.Logger
	reg  *datastore.Registry

	// remote overrides the configured remote server URL.
	remote string
}

func newSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	log, err := opts.newLogger()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}

	cfg := opts.Config
	reg := datastore.New(cfg.DataDir,
		datastore.WithLogger(log),
		datastore.WithBatchSize(cfg.Replication.BatchSize),
		datastore.WithClientOptions(peer.WithRateLimit(cfg.Replication.RateLimit, cfg.Replication.RateBurst)),
	)
	return &session{opts: opts, cmd: cmd, out: out, log: log, reg: reg}, nil
}

func (s *session) Close() {
	if err := s.reg.Close(); err != nil {
		s.log.Error("error closing datastores", zap.Error(err))
	}
	_ = s.log.Sync()
}

func (s *session) ctx() context.Context {
	if ctx := s.cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// remoteFor returns the remote server URL for a database: the --remote
// flag, else the database's entry in the config file.
func (s *session) remoteFor(name string) string {
	if s.remote != "" {
		return s.remote
	}
	if db, ok := s.opts.Config.Database(name); ok {
		return db.Remote
	}
	return ""
}

// open initializes an existing database. Commands other than init and
// serve refuse to create databases implicitly.
func (s *session) open(name string) error {
	if _, err := os.Stat(s.reg.Path(name)); errors.Is(err, os.ErrNotExist) {
		msg := fmt.Sprintf("database %q not found in %s (run 'docsync init %s')", name, s.opts.Config.DataDir, name)
		_ = s.out.Error(ErrCodeNoDatabase, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	return s.init(name)
}

func (s *session) init(name string) error {
	path, err := s.reg.Init(s.ctx(), s.remoteFor(name), name, nil).Await(s.ctx())
	if err != nil {
		return s.out.Fail("failed to open database", err)
	}
	s.out.VerboseLog("Opened %s", path)
	return nil
}

// readBody parses a JSON object from arg, or from stdin when arg is "-".
func readBody(cmd *cobra.Command, arg string) (model.Object, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		data, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	body, err := model.ParseObject(data)
	if err != nil {
		return nil, model.Wrap(model.KindValidation, "parse body", err)
	}
	return body, nil
}

// printDocument renders a document as "<id> <rev>" followed by its body.
func printDocument(w io.Writer, doc model.Document) {
	header := doc.ID + " " + doc.Rev
	if doc.Deleted {
		header += " (deleted)"
	}
	fmt.Fprintln(w, header)

	body := doc.Body
	if body == nil {
		body = model.Object{}
	}
	data, err := model.MarshalValue(body)
	if err != nil {
		fmt.Fprintf(w, "  <unprintable body: %v>\n", err)
		return
	}
	fmt.Fprintf(w, "  %s\n", data)
}

// splitFields parses a comma separated --fields value.
func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
