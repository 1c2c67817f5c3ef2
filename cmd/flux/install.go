package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/flux/internal/cache"
	"github.com/bilusteknoloji/flux/internal/downloader"
	"github.com/bilusteknoloji/flux/internal/installer"
	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/pypi"
	"github.com/bilusteknoloji/flux/internal/pypiplan"
	"github.com/bilusteknoloji/flux/internal/python"
	"github.com/bilusteknoloji/flux/internal/resolver"
)

func newInstallCmd(flags *globalFlags) *cobra.Command {
	var reqFile string
	var jobs int
	var pythonBin, targetDir, envName string
	var dryRun, noDeps bool

	cmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Install the workspace's locked environment, or (given packages/-r) install ad hoc into a bare Python environment",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && reqFile == "" {
				if path, err := locateManifest(flags.manifestPath); err == nil {
					return runWorkspaceInstall(flags, path, envName, dryRun)
				}
			}

			return runAdHocInstall(flags, args, adHocFlags{
				reqFile: reqFile, jobs: jobs, pythonBin: pythonBin,
				targetDir: targetDir, dryRun: dryRun, noDeps: noDeps,
			})
		},
	}

	cmd.Flags().StringVarP(&reqFile, "requirements", "r", "", "Install from a pip-style requirements file (ad hoc mode)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Max concurrent downloads (default: GOMAXPROCS)")
	cmd.Flags().StringVar(&pythonBin, "python", "python3", "Python binary to use in ad hoc mode")
	cmd.Flags().StringVar(&targetDir, "target", "", "Target directory for ad hoc mode (default: autodetected site-packages)")
	cmd.Flags().StringVar(&envName, "environment", "", "Workspace environment to install (default: default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the plan without downloading or installing")
	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "Skip dependencies, install only specified packages (ad hoc mode)")

	return cmd
}

// runWorkspaceInstall syncs the on-disk environment to match flux.lock for
// one named environment, re-solving first unless --frozen is set (with
// --locked the re-solve fails when the lock file is out of date).
func runWorkspaceInstall(flags *globalFlags, manifestPath, envName string, dryRun bool) error {
	logger := newLogger(flags)

	if envName == "" {
		envName = "default"
	}

	lf, err := loadLockFile(manifestPath)
	if err != nil {
		return err
	}

	if lf == nil && flags.frozen {
		return fmt.Errorf("--frozen requires an existing lock file; none found at %s", lockFilePath(manifestPath))
	}

	if !flags.frozen {
		if err := runSolve(flags, nil, "Locked"); err != nil {
			return err
		}

		lf, err = loadLockFile(manifestPath)
		if err != nil {
			return err
		}
	}

	platform := currentPlatform()

	pkgs := platformPackagesFor(lf, envName, platform)
	if pkgs == nil {
		return fmt.Errorf("no locked packages for environment %q on %s; run `flux lock`", envName, platform)
	}

	if dryRun {
		fmt.Printf("Would sync %d packages for environment %q (%s):\n", len(pkgs), envName, platform)

		for _, p := range pkgs {
			fmt.Printf("  %s %s (%s)\n", p.Name, p.Version, p.Kind.String())
		}

		return nil
	}

	if flags.noInstall {
		fmt.Println("--no-install set, lock file updated but nothing installed")

		return nil
	}

	var condaCount, pypiCount int
	for _, p := range pkgs {
		if p.Kind == lock.KindConda {
			condaCount++
		} else {
			pypiCount++
		}
	}

	envDir := filepath.Join(filepath.Dir(manifestPath), ".flux", "envs", envName)
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return fmt.Errorf("creating environment prefix %s: %w", envDir, err)
	}

	sitePackages := filepath.Join(envDir, "site-packages")
	if err := os.MkdirAll(sitePackages, 0o755); err != nil {
		return fmt.Errorf("creating site-packages %s: %w", sitePackages, err)
	}

	logger.Info("syncing environment",
		"environment", envName, "platform", platform,
		"conda_packages", condaCount, "pypi_packages", pypiCount)

	plan, err := installer.BuildPlan(envDir, sitePackages, pkgs, logger)
	if err != nil {
		return fmt.Errorf("computing install plan: %w", err)
	}

	if plan.IsNoop() {
		fmt.Printf("  ✓ environment %q already in sync (%d conda, %d pypi package(s))\n", envName, condaCount, pypiCount)

		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	condaArchives, err := downloadCondaArchives(ctx, plan.CondaActions, httpClient, logger)
	if err != nil {
		return fmt.Errorf("downloading conda packages: %w", err)
	}

	pypiWheels, err := downloadPypiWheels(ctx, plan.PypiActions, pkgs, httpClient, logger)
	if err != nil {
		return fmt.Errorf("downloading pypi packages: %w", err)
	}

	txn := installer.NewTransaction(envDir, sitePackages, installer.WithTransactionLogger(logger))
	if err := txn.Execute(ctx, plan, condaArchives, pypiWheels); err != nil {
		return fmt.Errorf("syncing environment %q: %w", envName, err)
	}

	fmt.Printf("  ✓ environment %q synced (%d conda action(s), %d pypi action(s))\n", envName, len(plan.CondaActions), len(plan.PypiActions))

	return nil
}

// downloadCondaArchives fetches every .conda archive a plan's Install/Update
// actions need, keyed by package name.
func downloadCondaArchives(ctx context.Context, actions []installer.CondaAction, httpClient *http.Client, logger *slog.Logger) (map[string]string, error) {
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

	tmpDir, err := os.MkdirTemp("", "flux-conda-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	dlManager := newDownloader(tmpDir, 0, httpClient, logger)

	results, err := dlManager.Download(ctx, requests)
	if err != nil {
		return nil, err
	}

	archives := make(map[string]string, len(results))
	for _, r := range results {
		archives[r.Name] = r.FilePath
	}

	return archives, nil
}

// downloadPypiWheels fetches every wheel a plan's Install/Reinstall actions
// need, keyed by package name, reading the download URL and hash that were
// recorded in the lock file for each locked package.
func downloadPypiWheels(ctx context.Context, actions []pypiplan.Action, locked []lock.LockedPackage, httpClient *http.Client, logger *slog.Logger) (map[string]downloader.Result, error) {
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

	tmpDir, err := os.MkdirTemp("", "flux-pypi-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	dlManager := newDownloader(tmpDir, 0, httpClient, logger)

	results, err := dlManager.Download(ctx, requests)
	if err != nil {
		return nil, err
	}

	wheels := make(map[string]downloader.Result, len(results))
	for _, r := range results {
		wheels[r.Name] = r
	}

	return wheels, nil
}

type adHocFlags struct {
	reqFile   string
	jobs      int
	pythonBin string
	targetDir string
	dryRun    bool
	noDeps    bool
}

// runAdHocInstall is the pip-replacement fast path: resolve and install a
// flat requirement list directly into a detected Python environment, with no
// workspace manifest involved.
func runAdHocInstall(flags *globalFlags, args []string, af adHocFlags) error {
	start := time.Now()

	requirements, err := collectRequirements(args, af.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'flux install <pkg>' or 'flux install -r requirements.txt'")
	}

	logger := newLogger(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := detectEnv(ctx, af.pythonBin, af.targetDir, logger)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

	resolved, err := resolveDeps(ctx, requirements, pypiClient, af.noDeps, env, logger)
	if err != nil {
		return err
	}

	compatTags := resolver.BuildCompatTags(env.PythonVersion, env.PlatformTag)

	plans, err := selectWheels(ctx, resolved, pypiClient, compatTags, env)
	if err != nil {
		return err
	}

	if af.dryRun {
		printDryRun(plans)

		return nil
	}

	results, tmpDir, err := downloadPackages(ctx, plans, af.jobs, httpClient, logger)
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	printDownloadResults(results)

	fmt.Println("\nInstalling...")

	inst := installer.New(env, installer.WithLogger(logger))
	if err := inst.Install(ctx, results); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}

	fmt.Printf("  ✓ %d packages installed\n", len(results))
	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	return nil
}

func detectEnv(ctx context.Context, pythonBin, targetDir string, logger *slog.Logger) (*python.Environment, error) {
	pyDetector := python.New(python.WithPythonBin(pythonBin))

	env, err := pyDetector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting Python environment: %w", err)
	}

	if targetDir != "" {
		absTarget, err := filepath.Abs(targetDir)
		if err != nil {
			return nil, fmt.Errorf("resolving target directory: %w", err)
		}

		env.SitePackages = absTarget
	}

	logger.Debug("detected Python environment",
		"prefix", env.Prefix,
		"site-packages", env.SitePackages,
		"platform", env.PlatformTag,
		"version", env.PythonVersion,
		"venv", env.IsVirtualEnv,
	)

	return env, nil
}

func resolveDeps(ctx context.Context, requirements []string, pypiClient pypi.Client, noDeps bool, env *python.Environment, logger *slog.Logger) ([]resolver.ResolvedPackage, error) {
	fmt.Println("Resolving dependencies...")

	markerEnv := buildMarkerEnv(env)

	resolverSvc := resolver.New(pypiClient,
		resolver.WithNoDeps(noDeps),
		resolver.WithMarkerEnv(markerEnv),
	)

	resolved, err := resolverSvc.Resolve(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}

	resolvedMap := make(map[string]resolver.ResolvedPackage, len(resolved))
	for _, pkg := range resolved {
		resolvedMap[pkg.Name] = pkg
	}

	rootNames := make([]string, 0, len(requirements))
	for _, r := range requirements {
		rootNames = append(rootNames, resolver.NormalizeName(resolver.ParseRequirement(r).Name))
	}

	printDependencyTree(rootNames, resolvedMap)

	return resolved, nil
}

func printDryRun(plans []downloadPlan) {
	fmt.Printf("\nWould download %d packages:\n", len(plans))

	for _, p := range plans {
		fmt.Printf("  %s (%s)\n", p.wheelURL.Filename, formatSize(p.wheelURL.Size))
	}

	fmt.Println("\nDry run, no changes made.")
}

func printDownloadResults(results []downloader.Result) {
	for _, r := range results {
		fmt.Printf("  ✓ %s (%s)\n", filepath.Base(r.FilePath), formatSize(r.Size))
	}
}

type downloadPlan struct {
	pkg      resolver.ResolvedPackage
	wheelURL pypi.URL
}

// selectWheels finds a compatible wheel for each resolved package.
func selectWheels(ctx context.Context, resolved []resolver.ResolvedPackage, client pypi.Client, compatTags []downloader.WheelTag, env *python.Environment) ([]downloadPlan, error) {
	var plans []downloadPlan

	for _, pkg := range resolved {
		pkgInfo, err := client.GetPackageVersion(ctx, pkg.Name, pkg.Version)
		if err != nil {
			return nil, fmt.Errorf("fetching URLs for %s %s: %w", pkg.Name, pkg.Version, err)
		}

		wheel, err := downloader.SelectWheel(pkgInfo.URLs, compatTags)
		if err != nil {
			return nil, fmt.Errorf("no compatible wheel for %s %s (platform: %s, python: cp%s): %w",
				pkg.Name, pkg.Version, env.PlatformTag, env.PythonVersion, err)
		}

		plans = append(plans, downloadPlan{pkg: pkg, wheelURL: wheel})
	}

	return plans, nil
}

// downloadPackages downloads all planned packages concurrently, serving
// already-cached wheels from the local wheel cache and populating it with
// anything freshly downloaded. Caller is responsible for cleaning up tmpDir
// after installation.
func downloadPackages(ctx context.Context, plans []downloadPlan, jobs int, httpClient *http.Client, logger *slog.Logger) ([]downloader.Result, string, error) {
	tmpDir, err := os.MkdirTemp("", "flux-downloads-*")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp directory: %w", err)
	}

	wheelCache, err := cache.New(cache.WithLogger(logger))
	if err != nil {
		logger.Debug("wheel cache unavailable, downloading everything", "error", err.Error())
	}

	requests := buildDownloadRequests(plans)

	var cached []downloader.Result

	var toFetch []downloader.Request

	for _, req := range requests {
		if wheelCache != nil {
			if path, ok := wheelCache.Get(req.Filename, req.SHA256); ok {
				info, err := os.Stat(path)
				if err == nil {
					cached = append(cached, downloader.Result{
						Name: req.Name, Version: req.Version,
						FilePath: path, Size: info.Size(),
					})

					continue
				}
			}
		}

		toFetch = append(toFetch, req)
	}

	workers := runtime.GOMAXPROCS(0)
	if jobs > 0 {
		workers = jobs
	}

	fmt.Printf("\nDownloading %d packages (%d cached, %d workers)...\n", len(toFetch), len(cached), workers)

	dlManager := newDownloader(tmpDir, jobs, httpClient, logger)

	results, err := dlManager.Download(ctx, toFetch)
	if err != nil {
		_ = os.RemoveAll(tmpDir)

		return nil, "", fmt.Errorf("downloading packages: %w", err)
	}

	if wheelCache != nil {
		for _, r := range results {
			if err := wheelCache.Put(r.FilePath, filepath.Base(r.FilePath)); err != nil {
				logger.Debug("caching wheel failed", "file", r.FilePath, "error", err.Error())
			}
		}
	}

	return append(cached, results...), tmpDir, nil
}

func buildDownloadRequests(plans []downloadPlan) []downloader.Request {
	requests := make([]downloader.Request, len(plans))
	for i, p := range plans {
		requests[i] = downloader.Request{
			Name:     p.pkg.Name,
			Version:  p.pkg.Version,
			URL:      p.wheelURL.URL,
			SHA256:   p.wheelURL.Digests.SHA256,
			Filename: p.wheelURL.Filename,
		}
	}

	return requests
}

func newDownloader(tmpDir string, jobs int, httpClient *http.Client, logger *slog.Logger) *downloader.Manager {
	dlOpts := []downloader.Option{
		downloader.WithHTTPClient(httpClient),
		downloader.WithLogger(logger),
	}

	if jobs > 0 {
		dlOpts = append(dlOpts, downloader.WithMaxWorkers(jobs))
	}

	return downloader.New(tmpDir, dlOpts...)
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	var requirements []string

	requirements = append(requirements, args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file.
// Skips comments, empty lines, and pip options (lines starting with -).
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}

// buildMarkerEnv creates a PEP 508 marker environment from the detected Python env.
func buildMarkerEnv(env *python.Environment) resolver.MarkerEnv {
	pyVer := resolver.FormatPythonVersion(env.PythonVersion)

	var sysPlatform, osName string

	switch {
	case strings.HasPrefix(env.PlatformTag, "macosx"):
		sysPlatform = "darwin"
		osName = "posix"
	case strings.HasPrefix(env.PlatformTag, "linux"):
		sysPlatform = "linux"
		osName = "posix"
	default:
		sysPlatform = "linux"
		osName = "posix"
	}

	return resolver.MarkerEnv{
		PythonVersion: pyVer,
		SysPlatform:   sysPlatform,
		OsName:        osName,
	}
}

// printDependencyTree prints the resolved packages as a dependency tree.
func printDependencyTree(roots []string, resolved map[string]resolver.ResolvedPackage) {
	visited := make(map[string]bool)

	for _, root := range roots {
		pkg, ok := resolved[root]
		if !ok {
			continue
		}

		fmt.Printf("  %s %s\n", pkg.Name, pkg.Version)

		visited[root] = true

		printSubTree(pkg.Dependencies, resolved, "  ", visited)
	}
}

func printSubTree(deps []string, resolved map[string]resolver.ResolvedPackage, prefix string, visited map[string]bool) {
	for i, depName := range deps {
		pkg, ok := resolved[depName]
		if !ok {
			continue
		}

		isLast := i == len(deps)-1

		connector := "├── "
		childPrefix := "│   "

		if isLast {
			connector = "└── "
			childPrefix = "    "
		}

		fmt.Printf("%s%s%s %s\n", prefix, connector, pkg.Name, pkg.Version)

		if !visited[depName] && len(pkg.Dependencies) > 0 {
			visited[depName] = true
			printSubTree(pkg.Dependencies, resolved, prefix+childPrefix, visited)
		}
	}
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%d KB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
