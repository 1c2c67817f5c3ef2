package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/condarepo"
	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/orchestrator"
	"github.com/bilusteknoloji/flux/internal/pypi"
)

func newLockCmd(flags *globalFlags) *cobra.Command {
	var envNames []string

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Solve the workspace and write the lock file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(flags, envNames, "Locked")
		},
	}

	cmd.Flags().StringSliceVar(&envNames, "environment", nil, "Environments to solve (default: all)")

	return cmd
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	var envNames []string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Re-solve the workspace, respecting existing version pins where possible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(flags, envNames, "Updated")
		},
	}

	cmd.Flags().StringSliceVar(&envNames, "environment", nil, "Environments to update (default: all)")

	return cmd
}

func newUpgradeCmd(flags *globalFlags) *cobra.Command {
	var envNames []string

	cmd := &cobra.Command{
		Use:   "upgrade [packages...]",
		Short: "Re-solve the workspace against the latest available versions",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(flags, envNames, "Upgraded")
		},
	}

	cmd.Flags().StringSliceVar(&envNames, "environment", nil, "Environments to upgrade (default: all)")

	return cmd
}

func runSolve(flags *globalFlags, envNames []string, verb string) error {
	if flags.frozen {
		return fmt.Errorf("--frozen forbids re-solving the lock file")
	}

	logger := newLogger(flags)

	ws, path, err := loadWorkspace(flags.manifestPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{Timeout: 60 * time.Second}
	condaClient := condarepo.New(condarepo.WithHTTPClient(httpClient), condarepo.WithLogger(logger))
	pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

	solver := orchestrator.New(condaClient, pypiClient, orchestrator.WithLogger(logger))

	newLock, err := solver.Solve(ctx, ws, envNames)
	if err != nil {
		return fmt.Errorf("solving workspace: %w", err)
	}

	oldLock, err := loadLockFile(path)
	if err != nil {
		return err
	}

	if oldLock != nil {
		summary := lock.Diff(oldLock, newLock)
		if !summary.IsEmpty() {
			fmt.Print(lock.FormatText(summary))
		}
	}

	if flags.locked && oldLock != nil {
		if summary := lock.Diff(oldLock, newLock); !summary.IsEmpty() {
			return fmt.Errorf("lock file is out of date and --locked forbids updating it")
		}
	}

	if err := saveLockFile(newLock, path); err != nil {
		return err
	}

	fmt.Printf("%s %s\n", verb, lockFilePath(path))

	return nil
}
