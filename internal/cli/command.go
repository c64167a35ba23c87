// Package cli wires the command line to the standard task set: flag parsing,
// config loading, task execution and exit codes.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Version is the current assetweaver version.
const Version = "0.1.0"

// NewRootCommand builds the assetweaver command. The exit code of the last
// execution is stored in *exitCode.
func NewRootCommand(stdout, stderr io.Writer, exitCode *int) *cobra.Command {
	var opts Options

	root := &cobra.Command{
		Use:   "assetweaver [task...]",
		Short: "Front-end asset pipeline",
		Long: `assetweaver lints, compiles, concatenates and minifies the markup, styles
and scripts of a project.

Tasks run in the order given and stop at the first failure. Without a task
name the "default" task runs.`,
		Example: `  # development build
  assetweaver

  # lint everything, then build for production
  assetweaver lint production

  # rebuild on change until interrupted
  assetweaver watch`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := NewInvocation(opts, args)
			if err != nil {
				*exitCode = ExitCode(err)
				return err
			}
			res, err := Execute(cmd.Context(), inv, stdout)
			*exitCode = res.ExitCode
			return err
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&opts.Dir, "dir", "", "project directory (default: current directory)")
	flags.StringVar(&opts.Config, "config", "", "config file (default: <dir>/assetweaver.yaml when present)")
	flags.StringVar(&opts.Trace, "trace", "", "write the canonical run trace to this path")
	flags.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "only log warnings and errors")
	flags.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	root.AddCommand(&cobra.Command{
		Use:   "tasks",
		Short: "List the registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := NewInvocation(opts, nil)
			if err != nil {
				*exitCode = ExitCode(err)
				return err
			}
			if err := listTasks(inv, stdout); err != nil {
				*exitCode = ExitCode(err)
				return err
			}
			*exitCode = ExitSuccess
			return nil
		},
	})
	return root
}

// Run is the high-level entrypoint: it parses args (excluding argv[0]), runs
// the requested tasks and returns the semantic exit code. Errors are printed
// to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	exitCode := ExitSuccess
	root := NewRootCommand(stdout, stderr, &exitCode)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		if exitCode == ExitSuccess {
			exitCode = ExitCode(err)
			if exitCode == ExitInternalError {
				// Cobra's own argument errors (unknown subcommand flags and the like).
				exitCode = ExitInvalidInvocation
			}
		}
	}
	return exitCode
}
