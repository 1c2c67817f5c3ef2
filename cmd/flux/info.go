package main

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/manifest"
)

func newInfoCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show workspace and environment diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			fmt.Printf("Manifest:    %s\n", path)
			fmt.Printf("Workspace:   %s\n", ws.Name)
			fmt.Printf("Channels:    %v\n", ws.Channels)
			fmt.Printf("Platforms:   %v\n", ws.Platforms)
			fmt.Printf("Environments: %v\n", environmentNames(ws))
			fmt.Printf("Features:    %v\n", ws.FeatureNames())
			fmt.Printf("Host platform: %s\n", currentPlatform())
			fmt.Printf("Go runtime:  %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())

			lf, err := loadLockFile(path)
			if err != nil {
				return err
			}

			if lf == nil {
				fmt.Println("Lock file:   none (run `flux lock`)")
			} else {
				fmt.Printf("Lock file:   %s (version %d)\n", lockFilePath(path), lf.Version)
			}

			return nil
		},
	}

	return cmd
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect resolved configuration (channels, platforms, PyPI options)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the workspace's effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			fmt.Printf("channels = %v\n", ws.Channels)
			fmt.Printf("platforms = %v\n", ws.Platforms)

			for k, v := range ws.PypiOptions {
				fmt.Printf("pypi-options.%s = %s\n", k, v)
			}

			return nil
		},
	})

	return cmd
}

func environmentNames(ws *manifest.Workspace) []string {
	names := make([]string, 0, len(ws.Environments))
	for n := range ws.Environments {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
