// Command docsync is the command line interface to docsync databases.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/docsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands report their own errors; only cobra's argument and flag
		// errors still need printing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
