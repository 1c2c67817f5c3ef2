// Package globaltool installs command-line tools into their own isolated
// prefixes, each exposed to the user's PATH through a small POSIX shell
// trampoline rather than a shared environment, the way a global tool
// manager keeps "pipx install"-style installs from ever colliding.
package globaltool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bilusteknoloji/flux/internal/condarepo"
	"github.com/bilusteknoloji/flux/internal/downloader"
	"github.com/bilusteknoloji/flux/internal/installer"
	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/manifest"
	"github.com/bilusteknoloji/flux/internal/orchestrator"
	"github.com/bilusteknoloji/flux/internal/pypi"
	"github.com/bilusteknoloji/flux/internal/pypiplan"
	"github.com/bilusteknoloji/flux/internal/resolver"
	"github.com/bilusteknoloji/flux/internal/spec"
)

// execMarker is how a trampoline locates the real binary it wraps, mirroring
// the `"<path>" "$@"` tail that a rattler-shell-style trampoline appends
// after its activation preamble.
var execMarker = regexp.MustCompile(`exec "([^"]+)" "\$@"`)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHTTPClient sets the HTTP client used to fetch repodata and packages.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithChannels sets the conda channels tool installs solve against (default:
// conda-forge).
func WithChannels(channels []string) Option {
	return func(m *Manager) {
		if len(channels) > 0 {
			m.channels = channels
		}
	}
}

// Manager installs and removes globally exposed tools under a root
// directory shaped as:
//
//	<root>/envs/<name>/       one isolated prefix per installed tool
//	<root>/bin/<executable>   trampoline scripts exposed on PATH
type Manager struct {
	root       string
	platform   string
	channels   []string
	logger     *slog.Logger
	httpClient *http.Client
}

// New creates a Manager rooted at root, solving and installing for the
// given conda-style platform (e.g. "linux-64").
func New(root, platform string, opts ...Option) *Manager {
	m := &Manager{
		root:       root,
		platform:   platform,
		channels:   []string{"conda-forge"},
		logger:     slog.Default(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) envsDir() string { return filepath.Join(m.root, "envs") }
func (m *Manager) binDir() string  { return filepath.Join(m.root, "bin") }

// InstalledTools lists the names of currently installed tool environments.
func (m *Manager) InstalledTools() ([]string, error) {
	entries, err := os.ReadDir(m.envsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s: %w", m.envsDir(), err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}

	return names, nil
}

// Install solves pkgSpec ("name" or "name==version") against m's channels,
// syncs it into its own isolated prefix, and exposes every executable the
// resulting prefix's bin directory gained as a trampoline script on
// binDir(), analogous to pixi's per-tool global environment plus exposed
// binary trampolines.
func (m *Manager) Install(ctx context.Context, pkgSpec string) error {
	name, versionExpr := splitNameVersion(pkgSpec)
	name = manifest.NormalizeName(name)

	if versionExpr == "" {
		versionExpr = "*"
	}

	ws := manifest.NewWorkspace(name)
	ws.Channels = m.channels
	ws.Platforms = []string{m.platform}

	feature := ws.Features["default"]
	feature.Targets[""] = &manifest.Target{
		RunDependencies:   map[string]spec.PackageSpec{name: spec.NewVersion(versionExpr)},
		HostDependencies:  map[string]spec.PackageSpec{},
		BuildDependencies: map[string]spec.PackageSpec{},
		PypiDependencies:  map[string]manifest.PypiSpec{},
		Tasks:             map[string]manifest.Task{},
	}

	condaClient := condarepo.New(condarepo.WithHTTPClient(m.httpClient), condarepo.WithLogger(m.logger))
	pypiClient := pypi.New(pypi.WithHTTPClient(m.httpClient), pypi.WithLogger(m.logger))
	solver := orchestrator.New(condaClient, pypiClient, orchestrator.WithLogger(m.logger))

	lf, err := solver.Solve(ctx, ws, []string{"default"})
	if err != nil {
		return fmt.Errorf("solving tool %q: %w", name, err)
	}

	pkgs := lf.Environments["default"].Platforms[m.platform].Packages
	if len(pkgs) == 0 {
		return fmt.Errorf("tool %q solved to zero packages", name)
	}

	envDir := filepath.Join(m.envsDir(), name)
	sitePackages := filepath.Join(envDir, "site-packages")

	if err := os.MkdirAll(sitePackages, 0o755); err != nil {
		return fmt.Errorf("creating tool prefix %s: %w", envDir, err)
	}

	plan, err := installer.BuildPlan(envDir, sitePackages, pkgs, m.logger)
	if err != nil {
		return fmt.Errorf("computing install plan for %q: %w", name, err)
	}

	if !plan.IsNoop() {
		condaArchives, err := m.downloadCondaArchives(ctx, plan.CondaActions)
		if err != nil {
			return fmt.Errorf("downloading conda packages for %q: %w", name, err)
		}

		pypiWheels, err := m.downloadPypiWheels(ctx, plan.PypiActions, pkgs)
		if err != nil {
			return fmt.Errorf("downloading pypi packages for %q: %w", name, err)
		}

		txn := installer.NewTransaction(envDir, sitePackages, installer.WithTransactionLogger(m.logger))
		if err := txn.Execute(ctx, plan, condaArchives, pypiWheels); err != nil {
			return fmt.Errorf("installing tool %q: %w", name, err)
		}
	}

	if err := os.MkdirAll(m.binDir(), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", m.binDir(), err)
	}

	exposed, err := m.exposeExecutables(envDir)
	if err != nil {
		return fmt.Errorf("exposing executables for %q: %w", name, err)
	}

	if len(exposed) == 0 {
		m.logger.Warn("tool installed but exposed no executables", "tool", name)
	}

	return nil
}

// Uninstall removes a tool's prefix and every trampoline exposed from it.
func (m *Manager) Uninstall(name string) error {
	name = manifest.NormalizeName(name)
	envDir := filepath.Join(m.envsDir(), name)

	if _, err := os.Stat(envDir); os.IsNotExist(err) {
		return fmt.Errorf("tool %q is not installed", name)
	}

	entries, err := os.ReadDir(m.binDir())
	if err == nil {
		for _, e := range entries {
			path := filepath.Join(m.binDir(), e.Name())

			target, ok := extractExecutableFromScript(path)
			if ok && strings.HasPrefix(target, envDir+string(filepath.Separator)) {
				_ = os.Remove(path)
			}
		}
	}

	return os.RemoveAll(envDir)
}

// exposeExecutables scans envDir/bin for executables and writes a
// trampoline script for each into binDir(), returning the exposed names.
func (m *Manager) exposeExecutables(envDir string) ([]string, error) {
	toolBin := filepath.Join(envDir, "bin")

	entries, err := os.ReadDir(toolBin)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s: %w", toolBin, err)
	}

	var exposed []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}

		target := filepath.Join(toolBin, e.Name())
		scriptPath := filepath.Join(m.binDir(), e.Name())

		if err := os.WriteFile(scriptPath, []byte(trampolineScript(envDir, target)), 0o755); err != nil {
			return exposed, fmt.Errorf("writing trampoline for %s: %w", e.Name(), err)
		}

		exposed = append(exposed, e.Name())
	}

	return exposed, nil
}

// trampolineScript builds the wrapper a global tool's PATH entry points at:
// activate the tool's own prefix, then hand off to the real executable.
// Grounded on the activation-preamble-plus-exec-tail shape of a rattler-shell
// trampoline, adapted to a plain POSIX shell script since this toolchain has
// no per-platform compiled trampoline binary to embed.
func trampolineScript(envDir, target string) string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "export CONDA_PREFIX=%q\n", envDir)
	fmt.Fprintf(&b, "export PATH=%q\n", filepath.Join(envDir, "bin")+string(os.PathListSeparator)+"$PATH")
	fmt.Fprintf(&b, "exec %q \"$@\"\n", target)

	return b.String()
}

// extractExecutableFromScript recovers the wrapped executable path from a
// trampoline script previously written by exposeExecutables.
func extractExecutableFromScript(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	m := execMarker.FindSubmatch(data)
	if m == nil {
		return "", false
	}

	return string(m[1]), true
}

func (m *Manager) downloadCondaArchives(ctx context.Context, actions []installer.CondaAction) (map[string]string, error) {
	var requests []downloader.Request

	for _, a := range actions {
		if a.Kind == installer.CondaRemove {
			continue
		}

		requests = append(requests, downloader.Request{
			Name:     a.Locked.Name,
			Version:  a.Locked.Version,
			URL:      a.Locked.URL,
			SHA256:   a.Locked.SHA256,
			Filename: filepath.Base(a.Locked.URL),
		})
	}

	if len(requests) == 0 {
		return map[string]string{}, nil
	}

	tmpDir, err := os.MkdirTemp("", "flux-global-conda-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	results, err := downloader.New(tmpDir, downloader.WithHTTPClient(m.httpClient), downloader.WithLogger(m.logger)).Download(ctx, requests)
	if err != nil {
		return nil, err
	}

	archives := make(map[string]string, len(results))
	for _, r := range results {
		archives[r.Name] = r.FilePath
	}

	return archives, nil
}

func (m *Manager) downloadPypiWheels(ctx context.Context, actions []pypiplan.Action, locked []lock.LockedPackage) (map[string]downloader.Result, error) {
	lockedByName := make(map[string]lock.LockedPackage, len(locked))
	for _, p := range locked {
		if p.Kind == lock.KindPypi {
			lockedByName[resolver.NormalizeName(p.Name)] = p
		}
	}

	var requests []downloader.Request

	for _, a := range actions {
		if a.Kind != pypiplan.ActionInstall && a.Kind != pypiplan.ActionReinstall {
			continue
		}

		pkg, ok := lockedByName[resolver.NormalizeName(a.Name)]
		if !ok || pkg.Location == "" {
			return nil, fmt.Errorf("no download location recorded for pypi package %s", a.Name)
		}

		requests = append(requests, downloader.Request{
			Name:     pkg.Name,
			Version:  pkg.Version,
			URL:      pkg.Location,
			SHA256:   pkg.PypiHashes["sha256"],
			Filename: filepath.Base(pkg.Location),
		})
	}

	if len(requests) == 0 {
		return map[string]downloader.Result{}, nil
	}

	tmpDir, err := os.MkdirTemp("", "flux-global-pypi-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	results, err := downloader.New(tmpDir, downloader.WithHTTPClient(m.httpClient), downloader.WithLogger(m.logger)).Download(ctx, requests)
	if err != nil {
		return nil, err
	}

	wheels := make(map[string]downloader.Result, len(results))
	for _, r := range results {
		wheels[r.Name] = r
	}

	return wheels, nil
}

// splitNameVersion splits "name==version" / "name>=version" / "name" into
// (name, versionExpr), keeping the comparison operator as part of the
// version expression (matchspec version strings allow it directly).
func splitNameVersion(arg string) (string, string) {
	for _, op := range []string{"==", ">=", "<=", "!=", "~=", ">", "<", "="} {
		if idx := strings.Index(arg, op); idx > 0 {
			return arg[:idx], strings.TrimPrefix(arg[idx:], "=")
		}
	}

	return arg, ""
}
