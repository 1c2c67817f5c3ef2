// Package pypiplan classifies each PyPI package named in a lock file
// against what is actually installed in site-packages, producing the
// Install/Reinstall(reason)/AlreadyInstalled/Extraneous taxonomy the
// installer's transaction diff needs for the PyPI half of a prefix sync.
//
// A locked package is matched against an installed *.dist-info directory by
// normalized name. Registry installs are compared by version; direct
// installs (url/path/git) are compared by their direct_url.json contents.
// Legacy *.egg-info/*.egg-link distributions are detected and left
// unmanaged with a warning, since this implementation — like the tool it's
// modeled on — does not attempt to uninstall or reconcile them.
package pypiplan

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/resolver"
)

// Reason names why a package needs reinstalling.
type Reason string

const (
	ReasonVersionMismatch       Reason = "version mismatch"
	ReasonSourceMismatch        Reason = "source mismatch (registry vs direct)"
	ReasonURLMismatch           Reason = "url or path mismatch"
	ReasonMissingDirectURL      Reason = "missing direct_url.json for a direct install"
	ReasonRequiresPythonChanged Reason = "requires-python changed"
	ReasonEditableStatusChanged Reason = "editable status changed"
)

// ActionKind is the taxonomy an installer transaction plans against.
type ActionKind int

const (
	ActionInstall ActionKind = iota
	ActionReinstall
	ActionAlreadyInstalled
	ActionExtraneous
)

func (k ActionKind) String() string {
	switch k {
	case ActionInstall:
		return "install"
	case ActionReinstall:
		return "reinstall"
	case ActionAlreadyInstalled:
		return "already-installed"
	case ActionExtraneous:
		return "extraneous"
	default:
		return "unknown"
	}
}

// Action is the classification for one package name.
type Action struct {
	Kind ActionKind
	Name string
	// Reason is only meaningful when Kind == ActionReinstall.
	Reason Reason
	// Dir is the installed dist-info directory a Reinstall or Extraneous
	// action must clear before (re)installing, empty for ActionInstall.
	Dir string
}

// DirectURL mirrors the subset of a dist-info's direct_url.json this
// planner cares about.
type DirectURL struct {
	URL      string `json:"url"`
	Editable bool   `json:"-"`
	DirInfo  struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
}

// InstalledDist is one distribution discovered in site-packages.
type InstalledDist struct {
	Name           string
	Version        string
	Dir            string
	RequiresPython string
	DirectURL      *DirectURL
	Legacy         bool // egg-info / egg-link: detected, never reconciled
}

// ScanInstalled walks a site-packages directory for *.dist-info directories
// (parsing METADATA and, when present, direct_url.json) and for legacy
// *.egg-info/*.egg-link entries, which are reported back as warnings rather
// than InstalledDist entries that participate in the diff.
func ScanInstalled(sitePackages string, logger *slog.Logger) ([]InstalledDist, error) {
	entries, err := os.ReadDir(sitePackages)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var installed []InstalledDist

	for _, e := range entries {
		name := e.Name()

		switch {
		case e.IsDir() && strings.HasSuffix(name, ".dist-info"):
			dist, err := readDistInfo(filepath.Join(sitePackages, name))
			if err != nil {
				logger.Debug("skipping unreadable dist-info", slog.String("dir", name), slog.String("error", err.Error()))

				continue
			}

			installed = append(installed, *dist)

		case e.IsDir() && strings.HasSuffix(name, ".egg-info"):
			logger.Warn("egg-info directories are not supported, skipping", slog.String("name", name))
		case !e.IsDir() && strings.HasSuffix(name, ".egg-info"):
			logger.Warn("egg-info files are not supported, skipping", slog.String("name", name))
		case !e.IsDir() && strings.HasSuffix(name, ".egg-link"):
			logger.Warn(".egg-link pointers are not supported, skipping", slog.String("name", name))
		}
	}

	return installed, nil
}

func readDistInfo(dir string) (*InstalledDist, error) {
	name, version, err := readMetadata(filepath.Join(dir, "METADATA"))
	if err != nil {
		return nil, err
	}

	dist := &InstalledDist{Name: resolver.NormalizeName(name), Version: version, Dir: dir}

	if requiresPython, err := readRequiresPython(filepath.Join(dir, "METADATA")); err == nil {
		dist.RequiresPython = requiresPython
	}

	if data, err := os.ReadFile(filepath.Join(dir, "direct_url.json")); err == nil {
		var du DirectURL
		if json.Unmarshal(data, &du) == nil {
			du.Editable = du.DirInfo.Editable
			dist.DirectURL = &du
		}
	}

	return dist, nil
}

// readMetadata extracts the Name/Version header fields from a dist-info
// METADATA file (an RFC 822-style header block).
func readMetadata(path string) (name, version string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // end of headers
		}

		switch {
		case strings.HasPrefix(line, "Name:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "Version:"):
			version = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
		}
	}

	return name, version, scanner.Err()
}

func readRequiresPython(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Requires-Python:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Requires-Python:")), nil
		}
	}

	return "", scanner.Err()
}

// Plan classifies every locked PyPI package as Install/Reinstall/
// AlreadyInstalled, and every installed package absent from locked as
// Extraneous.
func Plan(locked []lock.LockedPackage, installed []InstalledDist) []Action {
	installedByName := make(map[string]InstalledDist, len(installed))
	for _, d := range installed {
		installedByName[d.Name] = d
	}

	seen := make(map[string]bool, len(locked))

	var actions []Action

	for _, pkg := range locked {
		if pkg.Kind != lock.KindPypi {
			continue
		}

		name := resolver.NormalizeName(pkg.Name)
		seen[name] = true

		dist, ok := installedByName[name]
		if !ok {
			actions = append(actions, Action{Kind: ActionInstall, Name: pkg.Name})

			continue
		}

		if reason, needsReinstall := needsReinstall(pkg, dist); needsReinstall {
			actions = append(actions, Action{Kind: ActionReinstall, Name: pkg.Name, Reason: reason, Dir: dist.Dir})

			continue
		}

		actions = append(actions, Action{Kind: ActionAlreadyInstalled, Name: pkg.Name})
	}

	for name, dist := range installedByName {
		if !seen[name] {
			actions = append(actions, Action{Kind: ActionExtraneous, Name: name, Dir: dist.Dir})
		}
	}

	return actions
}

// needsReinstall implements the validity checks a locked package's current
// installation is held to: source kind, version/URL match, requires-python,
// and editable status.
func needsReinstall(locked lock.LockedPackage, dist InstalledDist) (Reason, bool) {
	isDirectLocked := locked.Direct

	switch {
	case isDirectLocked && dist.DirectURL == nil:
		return ReasonMissingDirectURL, true
	case !isDirectLocked && dist.DirectURL != nil:
		return ReasonSourceMismatch, true
	case isDirectLocked && dist.DirectURL != nil:
		if dist.DirectURL.URL != locked.Location {
			return ReasonURLMismatch, true
		}

		if dist.DirectURL.Editable != locked.Editable {
			return ReasonEditableStatusChanged, true
		}
	default:
		if dist.Version != locked.Version {
			return ReasonVersionMismatch, true
		}
	}

	if locked.RequiresPython != "" && dist.RequiresPython != "" && locked.RequiresPython != dist.RequiresPython {
		return ReasonRequiresPythonChanged, true
	}

	return "", false
}
