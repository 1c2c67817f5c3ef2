package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/lock"
)

func newListCmd(flags *globalFlags) *cobra.Command {
	var envName, platform string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List locked packages for an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			lf, err := loadLockFile(path)
			if err != nil {
				return err
			}

			if lf == nil {
				return fmt.Errorf("no lock file found; run `flux lock` first")
			}

			if envName == "" {
				envName = "default"
			}

			if platform == "" {
				platform = currentPlatform()
			}

			pkgs := platformPackagesFor(lf, envName, platform)
			if pkgs == nil {
				return fmt.Errorf("no locked packages for environment %q on %s", envName, platform)
			}

			sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })

			for _, p := range pkgs {
				fmt.Printf("%-30s %-15s %s\n", p.Name, p.Version, p.Kind.String())
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "environment", "", "Environment name (default: default)")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform subdir (default: autodetected host platform)")

	return cmd
}

func newTreeCmd(flags *globalFlags) *cobra.Command {
	var envName, platform string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the dependency tree for a locked environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			lf, err := loadLockFile(path)
			if err != nil {
				return err
			}

			if lf == nil {
				return fmt.Errorf("no lock file found; run `flux lock` first")
			}

			if envName == "" {
				envName = "default"
			}

			if platform == "" {
				platform = currentPlatform()
			}

			pkgs := platformPackagesFor(lf, envName, platform)
			if pkgs == nil {
				return fmt.Errorf("no locked packages for environment %q on %s", envName, platform)
			}

			printPackageTree(pkgs)

			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "environment", "", "Environment name (default: default)")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform subdir (default: autodetected host platform)")

	return cmd
}

func platformPackagesFor(lf *lock.LockFile, envName, platform string) []lock.LockedPackage {
	env, ok := lf.Environments[envName]
	if !ok {
		return nil
	}

	p, ok := env.Platforms[platform]
	if !ok {
		return nil
	}

	return p.Packages
}

// printPackageTree prints every root package (one with no in-set dependent)
// with its direct dependencies nested underneath.
func printPackageTree(pkgs []lock.LockedPackage) {
	byName := make(map[string]lock.LockedPackage, len(pkgs))
	isDep := make(map[string]bool, len(pkgs))

	for _, p := range pkgs {
		byName[p.Name] = p
	}

	depsOf := func(p lock.LockedPackage) []string {
		var names []string

		if p.Kind == lock.KindConda {
			for _, d := range p.Depends {
				names = append(names, dependencyNameOf(d))
			}
		} else {
			names = append(names, p.RequiresDist...)
		}

		return names
	}

	for _, p := range pkgs {
		for _, d := range depsOf(p) {
			if _, ok := byName[d]; ok {
				isDep[d] = true
			}
		}
	}

	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		if !isDep[p.Name] {
			names = append(names, p.Name)
		}
	}

	sort.Strings(names)

	visited := map[string]bool{}

	for _, name := range names {
		p := byName[name]

		fmt.Printf("%s %s\n", p.Name, p.Version)

		printTreeChildren(depsOf(p), byName, "  ", visited)
	}
}

func printTreeChildren(deps []string, byName map[string]lock.LockedPackage, prefix string, visited map[string]bool) {
	sort.Strings(deps)

	for i, d := range deps {
		p, ok := byName[d]
		if !ok {
			continue
		}

		isLast := i == len(deps)-1

		connector, childPrefix := "├── ", "│   "
		if isLast {
			connector, childPrefix = "└── ", "    "
		}

		fmt.Printf("%s%s%s %s\n", prefix, connector, p.Name, p.Version)

		if !visited[d] {
			visited[d] = true

			var children []string
			if p.Kind == lock.KindConda {
				for _, dep := range p.Depends {
					children = append(children, dependencyNameOf(dep))
				}
			} else {
				children = p.RequiresDist
			}

			printTreeChildren(children, byName, prefix+childPrefix, visited)
		}
	}
}

// dependencyNameOf extracts the package name from a conda matchspec string.
func dependencyNameOf(matchspec string) string {
	for i, r := range matchspec {
		if r == ' ' {
			return matchspec[:i]
		}
	}

	return matchspec
}
