package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/manifest"
	"github.com/bilusteknoloji/flux/internal/spec"
)

// unselectedTarget returns (creating if absent) a feature's
// platform-unselected target, the one [target.*]-less dependency table.
func unselectedTarget(f *manifest.Feature) *manifest.Target {
	if f.Targets == nil {
		f.Targets = map[string]*manifest.Target{}
	}

	t, ok := f.Targets[""]
	if !ok {
		t = &manifest.Target{
			RunDependencies:   map[string]spec.PackageSpec{},
			HostDependencies:  map[string]spec.PackageSpec{},
			BuildDependencies: map[string]spec.PackageSpec{},
			PypiDependencies:  map[string]manifest.PypiSpec{},
			Tasks:             map[string]manifest.Task{},
		}
		f.Targets[""] = t
	}

	return t
}

func featureOrDefault(ws *manifest.Workspace, name string) *manifest.Feature {
	if name == "" {
		name = "default"
	}

	f, ok := ws.Features[name]
	if !ok {
		f = &manifest.Feature{Name: name, Targets: map[string]*manifest.Target{}}
		ws.Features[name] = f
	}

	return f
}

func newAddCmd(flags *globalFlags) *cobra.Command {
	var feature, specType string
	var pypi, editable bool

	cmd := &cobra.Command{
		Use:   "add <package>...",
		Short: "Add dependencies to the workspace manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			target := unselectedTarget(featureOrDefault(ws, feature))

			for _, arg := range args {
				name, versionExpr := splitNameVersion(arg)
				name = manifest.NormalizeName(name)

				if pypi {
					target.PypiDependencies[name] = manifest.PypiSpec{Version: versionExpr, Editable: editable}

					continue
				}

				dstMap := target.RunDependencies

				switch manifest.SpecType(specType) {
				case manifest.SpecTypeHost:
					dstMap = target.HostDependencies
				case manifest.SpecTypeBuild:
					dstMap = target.BuildDependencies
				}

				if versionExpr == "" {
					versionExpr = "*"
				}

				dstMap[name] = spec.NewVersion(versionExpr)
			}

			if err := saveWorkspace(ws, path); err != nil {
				return err
			}

			fmt.Printf("Added %d package(s) to feature %q\n", len(args), featureNameOf(feature))

			return nil
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "Feature to add to (default: the default feature)")
	cmd.Flags().StringVar(&specType, "type", "run", "Dependency table: run, host, or build")
	cmd.Flags().BoolVar(&pypi, "pypi", false, "Add as a PyPI dependency instead of a conda-style one")
	cmd.Flags().BoolVar(&editable, "editable", false, "Install a PyPI path dependency in editable mode")

	return cmd
}

func newRemoveCmd(flags *globalFlags) *cobra.Command {
	var feature string
	var pypi bool

	cmd := &cobra.Command{
		Use:   "remove <package>...",
		Short: "Remove dependencies from the workspace manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			f := featureOrDefault(ws, feature)

			removed := 0

			for _, t := range f.Targets {
				for _, arg := range args {
					name := manifest.NormalizeName(arg)

					if pypi {
						if _, ok := t.PypiDependencies[name]; ok {
							delete(t.PypiDependencies, name)
							removed++
						}

						continue
					}

					for _, m := range []map[string]spec.PackageSpec{t.RunDependencies, t.HostDependencies, t.BuildDependencies} {
						if _, ok := m[name]; ok {
							delete(m, name)
							removed++
						}
					}
				}
			}

			if removed == 0 {
				return fmt.Errorf("none of the given packages were found in feature %q", featureNameOf(feature))
			}

			if err := saveWorkspace(ws, path); err != nil {
				return err
			}

			fmt.Printf("Removed %d entr(y/ies) from feature %q\n", removed, featureNameOf(feature))

			return nil
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "Feature to remove from (default: the default feature)")
	cmd.Flags().BoolVar(&pypi, "pypi", false, "Remove a PyPI dependency instead of a conda-style one")

	return cmd
}

func featureNameOf(name string) string {
	if name == "" {
		return "default"
	}

	return name
}

// splitNameVersion splits "numpy>=1.2" into ("numpy", ">=1.2"); a bare name
// returns an empty version expression.
func splitNameVersion(arg string) (name, versionExpr string) {
	for i, r := range arg {
		if r == '=' || r == '>' || r == '<' || r == '!' || r == '~' {
			return arg[:i], arg[i:]
		}
	}

	return arg, ""
}
