package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/kv"
)

// NewKVCommand creates the kv command group.
func NewKVCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Key-value access to a database",
		Long: `Treat a database as a string key-value store. Each key is a document
whose id is the key and whose body is {"value": "<value>"}.`,
	}

	cmd.AddCommand(newKVSetCommand(rootOpts))
	cmd.AddCommand(newKVGetCommand(rootOpts))
	cmd.AddCommand(newKVRemoveCommand(rootOpts))
	cmd.AddCommand(newKVKeysCommand(rootOpts))
	cmd.AddCommand(newKVClearCommand(rootOpts))

	return cmd
}

// kvCommand builds a kv subcommand that opens the database named by the
// first argument before calling run.
func kvCommand(rootOpts *RootOptions, use, short string, nargs int, run func(s *session, store *kv.Storage, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(nargs),
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
			return run(s, kv.New(s.reg, s.log), args)
		},
	}
}

func newKVSetCommand(rootOpts *RootOptions) *cobra.Command {
	return kvCommand(rootOpts, "set <db> <key> <value>", "Store a value", 3, func(s *session, store *kv.Storage, args []string) error {
		doc, err := store.SetItem(s.ctx(), args[1], args[2], args[0], nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("set failed", err)
		}
		return s.out.Result(doc, func(w io.Writer) {
			fmt.Fprintf(w, "%s = %s (%s)\n", args[1], args[2], doc.Rev)
		})
	})
}

func newKVGetCommand(rootOpts *RootOptions) *cobra.Command {
	return kvCommand(rootOpts, "get <db> <key>", "Read a value", 2, func(s *session, store *kv.Storage, args []string) error {
		value, err := store.GetItem(s.ctx(), args[1], args[0], nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("get failed", err)
		}
		return s.out.Result(map[string]string{"key": args[1], "value": value}, func(w io.Writer) {
			fmt.Fprintln(w, value)
		})
	})
}

func newKVRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return kvCommand(rootOpts, "rm <db> <key>", "Remove a key", 2, func(s *session, store *kv.Storage, args []string) error {
		if _, err := store.RemoveItem(s.ctx(), args[1], args[0], nil).Await(s.ctx()); err != nil {
			return s.out.Fail("remove failed", err)
		}
		return s.out.Result(map[string]string{"removed": args[1]}, func(w io.Writer) {
			fmt.Fprintf(w, "Removed %s\n", args[1])
		})
	})
}

func newKVKeysCommand(rootOpts *RootOptions) *cobra.Command {
	return kvCommand(rootOpts, "keys <db>", "List keys", 1, func(s *session, store *kv.Storage, args []string) error {
		keys, err := store.GetAllKeys(s.ctx(), args[0], nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("keys failed", err)
		}
		return s.out.Result(keys, func(w io.Writer) {
			for _, k := range keys {
				fmt.Fprintln(w, k)
			}
		})
	})
}

func newKVClearCommand(rootOpts *RootOptions) *cobra.Command {
	return kvCommand(rootOpts, "clear <db>", "Remove every key (not atomic)", 1, func(s *session, store *kv.Storage, args []string) error {
		n, err := store.DeleteAllKeys(s.ctx(), args[0], nil).Await(s.ctx())
		if err != nil {
			return s.out.Fail("clear failed", err)
		}
		return s.out.Result(map[string]int{"removed": n}, func(w io.Writer) {
			fmt.Fprintf(w, "Removed %d key(s)\n", n)
		})
	})
}
