package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/condarepo"
	"github.com/bilusteknoloji/flux/internal/pypi"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var pypiOnly bool
	var platform string

	cmd := &cobra.Command{
		Use:   "search <package>",
		Short: "Show available versions of a package across configured channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			logger := newLogger(flags)
			ctx := context.Background()
			httpClient := &http.Client{Timeout: 60 * time.Second}

			if platform == "" {
				platform = currentPlatform()
			}

			if !pypiOnly {
				ws, _, err := loadWorkspace(flags.manifestPath)

				channels := []string{"conda-forge"}
				if err == nil && len(ws.Channels) > 0 {
					channels = ws.Channels
				}

				condaClient := condarepo.New(condarepo.WithHTTPClient(httpClient), condarepo.WithLogger(logger))

				for _, channel := range channels {
					candidates, err := condaClient.Candidates(ctx, channel, platform, name)
					if err != nil {
						fmt.Printf("%s: %v\n", channel, err)

						continue
					}

					if len(candidates) == 0 {
						continue
					}

					versions := uniqueVersions(candidates)

					fmt.Printf("%s (%s, %s):\n", name, channel, platform)
					for _, v := range versions {
						fmt.Printf("  %s\n", v)
					}
				}
			}

			pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

			info, err := pypiClient.GetPackage(ctx, name)
			if err == nil {
				fmt.Printf("%s (PyPI): %s\n", name, info.Info.Version)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&pypiOnly, "pypi", false, "Only search PyPI")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform subdir for conda channel search")

	return cmd
}

func uniqueVersions(candidates []condarepo.NamedRecord) []string {
	seen := map[string]bool{}

	var versions []string

	for _, c := range candidates {
		if !seen[c.Record.Version] {
			seen[c.Record.Version] = true

			versions = append(versions, c.Record.Version)
		}
	}

	sort.Strings(versions)

	return versions
}
