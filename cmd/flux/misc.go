package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/globaltool"
)

// globalToolsDir returns the root directory under which exposed global tool
// prefixes and trampolines live, analogous to a per-user conda-meta but
// scoped to individually installed CLI tools rather than one shared prefix.
func globalToolsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}

	return filepath.Join(home, ".flux", "tools"), nil
}

func newGlobalToolManager(flags *globalFlags) (*globaltool.Manager, error) {
	dir, err := globalToolsDir()
	if err != nil {
		return nil, err
	}

	return globaltool.New(dir, currentPlatform(), globaltool.WithLogger(newLogger(flags))), nil
}

func newGlobalCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "global",
		Short: "Manage globally installed tools, each in its own isolated prefix",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List globally installed tools",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newGlobalToolManager(flags)
				if err != nil {
					return err
				}

				names, err := mgr.InstalledTools()
				if err != nil {
					return err
				}

				if len(names) == 0 {
					fmt.Println("no tools installed")

					return nil
				}

				for _, name := range names {
					fmt.Println(name)
				}

				return nil
			},
		},
		&cobra.Command{
			Use:   "install <package>",
			Short: "Install a tool into its own isolated prefix",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newGlobalToolManager(flags)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
				defer stop()

				if err := mgr.Install(ctx, args[0]); err != nil {
					return err
				}

				fmt.Printf("  ✓ %s installed\n", args[0])

				return nil
			},
		},
		&cobra.Command{
			Use:   "uninstall <package>",
			Short: "Remove a globally installed tool",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := newGlobalToolManager(flags)
				if err != nil {
					return err
				}

				if err := mgr.Uninstall(args[0]); err != nil {
					return err
				}

				fmt.Printf("  ✓ %s removed\n", args[0])

				return nil
			},
		},
	)

	return cmd
}

func newSelfUpdateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update flux to the latest released version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("flux %s is the currently running version.\n", version)
			fmt.Println("Automatic self-update requires a configured release feed; none is set.")

			return nil
		},
	}
}

func newUploadCmd(flags *globalFlags) *cobra.Command {
	var repository string

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload built distributions to a package repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repository == "" {
				return fmt.Errorf("no repository configured; pass --repository or set FLUX_UPLOAD_REPOSITORY")
			}

			for _, f := range args {
				if _, err := os.Stat(f); err != nil {
					return fmt.Errorf("checking %s: %w", f, err)
				}
			}

			return fmt.Errorf("uploading to %s requires configured repository credentials", repository)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", os.Getenv("FLUX_UPLOAD_REPOSITORY"), "Target repository URL")

	return cmd
}

func newBuildCmd(flags *globalFlags) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a source distribution or wheel for the workspace's project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			if outputDir == "" {
				outputDir = filepath.Join(filepath.Dir(path), "dist")
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", outputDir, err)
			}

			return fmt.Errorf("building a distribution requires a configured PEP 517 build backend; none is wired up for %s", filepath.Dir(path))
		},
	}

	cmd.Flags().StringVar(&outputDir, "output", "", "Output directory (default: ./dist)")

	return cmd
}
