package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/datastore"
	"github.com/roach88/docsync/internal/model"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Remote string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init <db>",
		Short: "Create a database",
		Long: `Create a database in the data directory. Indexes declared for the
database in the config file are created as well. Running init again is
harmless.

Example:
  docsync init notes
  docsync --config docsync.yaml init notes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "remote server URL (overrides config)")

	return cmd
}

// InitResult is the output of init.
type InitResult struct {
	Database string   `json:"database"`
	Path     string   `json:"path"`
	Indexes  []string `json:"indexes"`
}

func runInit(opts *InitOptions, name string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	s.remote = opts.Remote

	if err := s.init(name); err != nil {
		return err
	}

	result := InitResult{Database: name, Path: s.reg.Path(name), Indexes: []string{}}
	if db, ok := opts.Config.Database(name); ok && len(db.Indexes) > 0 {
		names, err := s.reg.CreateIndexes(s.ctx(), name, db.Indexes, nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("failed to create indexes", err)
		}
		result.Indexes = names
	}

	return s.out.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "Initialized %s at %s\n", name, result.Path)
		for _, idx := range result.Indexes {
			fmt.Fprintf(w, "  index %s\n", idx)
		}
	})
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	ID string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <db> [json-body|-]",
		Short: "Create a document",
		Long: `Create a document. The body is a JSON object, read from stdin when
given as "-". Without --id an id is generated.

Example:
  docsync create notes '{"title":"groceries"}' --id n1`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "document id (generated when empty)")

	return cmd
}

func runCreate(opts *CreateOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var body model.Object
	if len(args) == 2 {
		if body, err = readBody(cmd, args[1]); err != nil {
			return s.out.Fail("invalid body", err)
		}
	}
	if err := s.open(args[0]); err != nil {
		return err
	}

	doc, err := s.reg.Create(s.ctx(), args[0], datastore.CreateOptions{ID: opts.ID, Body: body}, nil).Await(s.ctx())
	if err != nil {
		return s.out.Fail("create failed", err)
	}
	return s.out.Result(doc, func(w io.Writer) { printDocument(w, doc) })
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Rev string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <db> <id>",
		Short: "Retrieve a document",
		Long: `Retrieve the winning revision of a document, or any stored revision
with --rev (including deleted and conflicting ones).`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rev, "rev", "", "specific revision to retrieve")

	return cmd
}

func runGet(opts *GetOptions, db, id string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.open(db); err != nil {
		return err
	}

	var doc model.Document
	if opts.Rev == "" {
		doc, err = s.reg.Retrieve(s.ctx(), db, id, nil).Await(s.ctx())
	} else {
		st, serr := s.reg.Store(db)
		if serr != nil {
			return s.out.Fail("get failed", serr)
		}
		var rev model.Revision
		rev, err = st.RetrieveRevision(s.ctx(), id, opts.Rev)
		doc = rev.Document()
	}
	if err != nil {
		return s.out.Fail("get failed", err)
	}
	return s.out.Result(doc, func(w io.Writer) { printDocument(w, doc) })
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <db> <id> <rev> <json-body|->",
		Short: "Replace a document's body",
		Long: `Replace a document's body. rev must be the current winning revision;
a stale revision fails with CONFLICT and changes nothing.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args, cmd)
		},
	}

	return cmd
}

func runUpdate(opts *UpdateOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	body, err := readBody(cmd, args[3])
	if err != nil {
		return s.out.Fail("invalid body", err)
	}
	if err := s.open(args[0]); err != nil {
		return err
	}

	doc, err := s.reg.Update(s.ctx(), args[0], datastore.UpdateOptions{ID: args[1], Rev: args[2], Body: body}, nil).Await(s.ctx())
	if err != nil {
		return s.out.Fail("update failed", err)
	}
	return s.out.Result(doc, func(w io.Writer) { printDocument(w, doc) })
}

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Rev string
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <db> <id>",
		Short: "Delete a document",
		Long: `Delete a document by writing a tombstone revision. Without --rev the
current winning revision is deleted.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rev, "rev", "", "revision to delete (defaults to the winner)")

	return cmd
}

func runDelete(opts *DeleteOptions, db, id string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.open(db); err != nil {
		return err
	}

	doc, err := s.reg.Delete(s.ctx(), db, datastore.DeleteOptions{ID: id, Rev: opts.Rev}, nil).Await(s.ctx())
	if err != nil {
		return s.out.Fail("delete failed", err)
	}
	return s.out.Result(doc, func(w io.Writer) {
		fmt.Fprintf(w, "Deleted %s (tombstone %s)\n", doc.ID, doc.Rev)
	})
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <db> <id>",
		Short: "Show a document's revision tree",
		Long: `List every stored revision of a document in generation order, and the
conflicting leaves that lost winner selection.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], args[1], cmd)
		},
	}
}

// HistoryResult is the output of history.
type HistoryResult struct {
	ID        string           `json:"id"`
	Revisions []model.Revision `json:"revisions"`
	Conflicts []string         `json:"conflicts"`
}

func runHistory(opts *RootOptions, db, id string, cmd *cobra.Command) error {
	s, err := newSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.open(db); err != nil {
		return err
	}

	st, err := s.reg.Store(db)
	if err != nil {
		return s.out.Fail("history failed", err)
	}
	revs, err := st.History(s.ctx(), id)
	if err != nil {
		return s.out.Fail("history failed", err)
	}
	if len(revs) == 0 {
		return s.out.Fail("history failed", model.NotFound("history", id))
	}
	conflicts, err := st.Conflicts(s.ctx(), id)
	if err != nil {
		return s.out.Fail("history failed", err)
	}

	result := HistoryResult{ID: id, Revisions: revs, Conflicts: make([]string, len(conflicts))}
	for i, c := range conflicts {
		result.Conflicts[i] = c.RevID
	}

	return s.out.Result(result, func(w io.Writer) {
		for _, rev := range revs {
			line := rev.RevID
			if rev.ParentRev != "" {
				line += " <- " + rev.ParentRev
			}
			if rev.Deleted {
				line += " (deleted)"
			}
			if rev.Body == nil && !rev.Deleted {
				line += " (compacted)"
			}
			fmt.Fprintln(w, line)
		}
		for _, c := range result.Conflicts {
			fmt.Fprintf(w, "conflict: %s\n", c)
		}
	})
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <db>",
		Short: "Reclaim space from old revisions",
		Long: `Drop the bodies of non-leaf revisions and purge deleted documents that
have no live leaf. Revision structure and the change log are kept.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.open(args[0]); err != nil {
				return err
			}

			st, err := s.reg.Store(args[0])
			if err != nil {
				return s.out.Fail("compact failed", err)
			}
			stats, err := st.Compact(s.ctx())
			if err != nil {
				return s.out.Fail("compact failed", err)
			}
			return s.out.Result(stats, func(w io.Writer) {
				fmt.Fprintf(w, "Dropped %d revision bodies, purged %d documents\n", stats.BodiesDropped, stats.DocumentsPurged)
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats <db>",
		Short:         "Show database counts",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.open(args[0]); err != nil {
				return err
			}

			st, err := s.reg.Store(args[0])
			if err != nil {
				return s.out.Fail("stats failed", err)
			}
			stats, err := st.Stats(s.ctx())
			if err != nil {
				return s.out.Fail("stats failed", err)
			}
			return s.out.Result(stats, func(w io.Writer) {
				fmt.Fprintf(w, "documents:     %d\n", stats.Documents)
				fmt.Fprintf(w, "deleted:       %d\n", stats.Deleted)
				fmt.Fprintf(w, "revisions:     %d\n", stats.Revisions)
				fmt.Fprintf(w, "changes:       %d\n", stats.Changes)
				fmt.Fprintf(w, "last sequence: %d\n", stats.LastSequence)
			})
		},
	}
}
