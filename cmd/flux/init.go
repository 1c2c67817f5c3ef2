package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/manifest"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	var name, channel, platform string

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new workspace manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}

			path := filepath.Join(dir, manifestFilename)

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if name == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}

				name = filepath.Base(abs)
			}

			ws := manifest.NewWorkspace(name)
			ws.Version = "0.1.0"

			if channel != "" {
				ws.Channels = []string{channel}
			} else {
				ws.Channels = []string{"conda-forge"}
			}

			if platform != "" {
				ws.Platforms = []string{platform}
			} else {
				ws.Platforms = []string{currentPlatform()}
			}

			if err := saveWorkspace(ws, path); err != nil {
				return err
			}

			fmt.Printf("Created %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Workspace name (default: directory name)")
	cmd.Flags().StringVar(&channel, "channel", "", "Conda channel (default: conda-forge)")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform subdir (default: autodetected host platform)")

	return cmd
}
