package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/taskgraph"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		var taskFailed *taskgraph.TaskFailed
		if asTaskFailed(err, &taskFailed) {
			os.Exit(taskFailed.ExitCode)
		}

		var usageErr *usageError
		if asUsageError(err, &usageErr) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

// usageError marks an error as an argument/flag parsing problem, so main can
// map it to exit code 2 instead of the general-failure code 1.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func asTaskFailed(err error, target **taskgraph.TaskFailed) bool {
	tf, ok := err.(*taskgraph.TaskFailed)
	if !ok {
		return false
	}

	*target = tf

	return true
}

func asUsageError(err error, target **usageError) bool {
	ue, ok := err.(*usageError)
	if !ok {
		return false
	}

	*target = ue

	return true
}

func run() error {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "flux",
		Short:         "A workspace and environment manager for conda and PyPI packages",
		Long:          "flux manages per-project workspaces that combine conda-style binary packages with PyPI wheels/sdists: lock, install, and run tasks against reproducible, multi-platform environments.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.manifestPath, "manifest-path", "", "Path to flux.toml (default: search upward from cwd)")
	rootCmd.PersistentFlags().BoolVar(&flags.frozen, "frozen", false, "Use the lock file exactly as-is, never re-solving")
	rootCmd.PersistentFlags().BoolVar(&flags.locked, "locked", false, "Fail if the lock file is out of date instead of re-solving")
	rootCmd.PersistentFlags().BoolVar(&flags.noInstall, "no-install", false, "Update the lock file without installing")
	rootCmd.PersistentFlags().StringVar(&flags.color, "color", "auto", "Color output: auto, always, never")
	rootCmd.PersistentFlags().BoolVar(&flags.noProgress, "no-progress", false, "Disable progress reporting")
	rootCmd.PersistentFlags().CountVarP(&flags.verbose, "verbose", "v", "Increase verbosity (-v, -vv)")
	rootCmd.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress non-error output")

	rootCmd.AddCommand(
		newInstallCmd(flags),
		newInitCmd(flags),
		newAddCmd(flags),
		newRemoveCmd(flags),
		newRunCmd(flags),
		newTaskCmd(flags),
		newLockCmd(flags),
		newUpdateCmd(flags),
		newUpgradeCmd(flags),
		newListCmd(flags),
		newTreeCmd(flags),
		newSearchCmd(flags),
		newInfoCmd(flags),
		newConfigCmd(flags),
		newShellCmd(flags),
		newShellHookCmd(flags),
		newGlobalCmd(flags),
		newSelfUpdateCmd(flags),
		newUploadCmd(flags),
		newBuildCmd(flags),
	)

	return rootCmd.Execute()
}

func newLogger(flags *globalFlags) *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flags.quiet:
		level = slog.LevelError
	case flags.verbose >= 2:
		level = slog.LevelDebug
	case flags.verbose == 1:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
