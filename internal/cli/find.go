package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/datastore"
	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Fields         string
	IncludeDeleted bool
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <db> [selector-json]",
		Short: "Query documents",
		Long: `Query documents with a selector. Each key is a dot separated field
path matched against a literal, {"$eq": value}, or {"$exists": bool}; all
clauses must hold. _id and _rev address document metadata. Without a
selector every document is returned.

Example:
  docsync find notes '{"owner":"ann","tags":{"$exists":true}}' --fields title`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fields, "fields", "", "comma separated fields to return")
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "also return deleted documents")

	return cmd
}

func runFind(opts *FindOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var filter query.Predicate = query.AllDocs()
	if len(args) == 2 {
		if filter, err = query.ParseJSON([]byte(args[1])); err != nil {
			return s.out.Fail("invalid selector", err)
		}
	}
	if err := s.open(args[0]); err != nil {
		return err
	}
	s.out.VerboseLog("Filter: %s", query.String(filter))

	docs, err := s.reg.Find(s.ctx(), args[0], datastore.FindOptions{
		Filter:         filter,
		Fields:         splitFields(opts.Fields),
		IncludeDeleted: opts.IncludeDeleted,
	}, nil).Await(s.ctx())
	if err != nil {
		return s.out.Fail("find failed", err)
	}

	return s.out.Result(docs, func(w io.Writer) {
		for _, doc := range docs {
			printDocument(w, doc)
		}
		fmt.Fprintf(w, "%d document(s)\n", len(docs))
	})
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index <db> [<name> <field>...]",
		Short: "Create or list indexes",
		Long: `With a name and fields, create a secondary index (and back-fill it).
With only a database, list its indexes. Equality and existence clauses on
indexed fields are answered from the index.

Example:
  docsync index notes by-owner owner
  docsync index notes`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				return fmt.Errorf("index %q needs at least one field", args[1])
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(rootOpts, args, cmd)
		},
	}
}

func runIndex(opts *RootOptions, args []string, cmd *cobra.Command) error {
	s, err := newSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	db := args[0]
	if err := s.open(db); err != nil {
		return err
	}

	if len(args) > 2 {
		names, err := s.reg.CreateIndexes(s.ctx(), db, map[string][]string{args[1]: args[2:]}, nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("create index failed", err)
		}
		s.out.VerboseLog("Created %v", names)
	}

	st, err := s.reg.Store(db)
	if err != nil {
		return s.out.Fail("list indexes failed", err)
	}
	defs, err := st.Indexes(s.ctx())
	if err != nil {
		return s.out.Fail("list indexes failed", err)
	}
	return s.out.Result(defs, func(w io.Writer) {
		printIndexes(w, defs)
	})
}

func printIndexes(w io.Writer, defs []model.IndexDef) {
	if len(defs) == 0 {
		fmt.Fprintln(w, "no indexes")
		return
	}
	for _, def := range defs {
		fmt.Fprintf(w, "%s: %s\n", def.ID, strings.Join(def.Fields, ", "))
	}
}
