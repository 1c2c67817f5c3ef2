package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/activation"
)

func newShellCmd(flags *globalFlags) *cobra.Command {
	var envName string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell activated for an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			if envName == "" {
				envName = "default"
			}

			if _, err := ws.ResolveEnvironment(envName, currentPlatform()); err != nil {
				return err
			}

			shellBin := os.Getenv("SHELL")
			if shellBin == "" {
				shellBin = "/bin/sh"
			}

			diff, err := activationEnv(cmd.Context(), path, envName)
			if err != nil {
				return err
			}

			c := exec.Command(shellBin)
			c.Dir = filepath.Dir(path)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			c.Env = diff.Apply(os.Environ())

			return c.Run()
		},
	}

	cmd.Flags().StringVar(&envName, "environment", "", "Environment to activate (default: default)")

	return cmd
}

func newShellHookCmd(flags *globalFlags) *cobra.Command {
	var envName string

	cmd := &cobra.Command{
		Use:   "shell-hook",
		Short: "Print POSIX export statements that activate an environment in the current shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := loadWorkspace(flags.manifestPath)
			if err != nil {
				return err
			}

			if envName == "" {
				envName = "default"
			}

			diff, err := activationEnv(cmd.Context(), path, envName)
			if err != nil {
				return err
			}

			fmt.Printf("export PATH=%q\n", joinPathPrepend(diff.PathPrepend)+string(os.PathListSeparator)+"$PATH")

			for _, name := range sortedKeys(diff.Vars) {
				fmt.Printf("export %s=%q\n", name, diff.Vars[name])
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&envName, "environment", "", "Environment to print activation for (default: default)")

	return cmd
}

// activationEnv computes the environment-variable delta for an environment:
// the prefix's bin directory prepended onto PATH, CONDA_PREFIX pointed at
// the prefix, and (when the manifest's resolved target lists any) the real
// delta produced by sourcing its activation scripts in a POSIX shell,
// cached by script content hash so a repeated activation with unchanged
// scripts skips the subprocess.
func activationEnv(ctx context.Context, manifestPath, envName string) (activation.Diff, error) {
	envDir := filepath.Join(filepath.Dir(manifestPath), ".flux", "envs", envName)

	scriptPaths, err := activationScriptsFor(manifestPath, envName)
	if err != nil {
		return activation.Diff{}, err
	}

	baseEnv := append(os.Environ(), "FLUX_ENV_NAME="+envName)

	if len(scriptPaths) == 0 {
		return activation.Diff{
			Vars:        map[string]string{"FLUX_ENV_NAME": envName, "CONDA_PREFIX": envDir},
			PathPrepend: []string{filepath.Join(envDir, "bin")},
		}, nil
	}

	cacheDir := filepath.Join(filepath.Dir(manifestPath), ".flux", "activation-cache")

	activationCache, err := activation.NewCache(cacheDir)
	if err != nil {
		return activation.Diff{}, err
	}

	diff, err := activation.RunCached(ctx, activationCache, envDir, scriptPaths, baseEnv)
	if err != nil {
		return activation.Diff{}, fmt.Errorf("activating environment %q: %w", envName, err)
	}

	diff.Vars["FLUX_ENV_NAME"] = envName

	return diff, nil
}

func activationScriptsFor(manifestPath, envName string) ([]string, error) {
	ws, _, err := loadWorkspace(manifestPath)
	if err != nil {
		return nil, err
	}

	target, err := ws.ResolveEnvironment(envName, currentPlatform())
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(manifestPath)

	paths := make([]string, 0, len(target.Activation))

	for _, p := range target.Activation {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}

		if _, err := os.Stat(p); err != nil {
			continue
		}

		paths = append(paths, p)
	}

	return paths, nil
}

func joinPathPrepend(entries []string) string {
	out := ""

	for i, e := range entries {
		if i > 0 {
			out += string(os.PathListSeparator)
		}

		out += e
	}

	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
