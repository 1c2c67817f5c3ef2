package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/manifest"
)

const manifestFilename = "flux.toml"
const lockFilename = "flux.lock"

// globalFlags holds the persistent flags every subcommand inherits.
type globalFlags struct {
	manifestPath string
	frozen       bool
	locked       bool
	noInstall    bool
	color        string
	noProgress   bool
	verbose      int
	quiet        bool
}

// locateManifest walks up from the current directory to find flux.toml,
// unless an explicit path was given via --manifest-path.
func locateManifest(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, manifestFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in %s or any parent directory", manifestFilename, dir)
		}

		dir = parent
	}
}

// loadWorkspace locates and parses the manifest.
func loadWorkspace(manifestPath string) (*manifest.Workspace, string, error) {
	path, err := locateManifest(manifestPath)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}

	ws, err := manifest.Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}

	return ws, path, nil
}

// saveWorkspace serializes and writes the workspace back to manifestPath.
func saveWorkspace(ws *manifest.Workspace, manifestPath string) error {
	data, err := manifest.Serialize(ws)
	if err != nil {
		return fmt.Errorf("serializing manifest: %w", err)
	}

	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", manifestPath, err)
	}

	return nil
}

// lockFilePath returns the lock file path sitting next to the manifest.
func lockFilePath(manifestPath string) string {
	return filepath.Join(filepath.Dir(manifestPath), lockFilename)
}

// loadLockFile reads and parses the lock file next to manifestPath, if any.
func loadLockFile(manifestPath string) (*lock.LockFile, error) {
	path := lockFilePath(manifestPath)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	lf, err := lock.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return lf, nil
}

// saveLockFile serializes and writes the lock file next to manifestPath.
func saveLockFile(lf *lock.LockFile, manifestPath string) error {
	data, err := lock.Marshal(lf)
	if err != nil {
		return fmt.Errorf("serializing lock file: %w", err)
	}

	if err := os.WriteFile(lockFilePath(manifestPath), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", lockFilePath(manifestPath), err)
	}

	return nil
}

// currentPlatform returns this host's conda-style subdir, used as the
// default --platform value.
func currentPlatform() string {
	if p := os.Getenv("FLUX_PLATFORM"); p != "" {
		return p
	}

	return hostSubdir()
}
