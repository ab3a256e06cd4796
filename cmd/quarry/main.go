package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and maps failures to exit codes: 1 for compile and
// usage errors, 2 when the server cannot start.
func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var se *startupError
		if errors.As(err, &se) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quarry",
		Short:         "GraphQL-to-SQL compiler and serving runtime",
		Long:          "quarry compiles a schema document into a deterministic serving artifact\nand serves it as a GraphQL endpoint over a SQL database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCompileCmd(), newServerCmd(), newSDLCmd())
	return root
}

// startupError marks failures during server bring-up so run can distinguish
// them from compile failures.
type startupError struct{ err error }

func (e *startupError) Error() string { return e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }
