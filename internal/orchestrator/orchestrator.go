// Package orchestrator drives a full environment solve: it resolves one
// workspace environment's conda-style and PyPI dependencies, for every
// platform the workspace declares, into a single combined lock file.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bilusteknoloji/flux/internal/condarepo"
	"github.com/bilusteknoloji/flux/internal/downloader"
	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/manifest"
	"github.com/bilusteknoloji/flux/internal/pypi"
	"github.com/bilusteknoloji/flux/internal/resolver"
	"github.com/bilusteknoloji/flux/internal/spec"
	"github.com/bilusteknoloji/flux/internal/system"
)

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// Solver composes the conda-style and PyPI resolvers into one full-workspace
// solve, producing a lock.LockFile covering every (environment, platform)
// pair requested.
type Solver struct {
	condaClient condarepo.Client
	pypiClient  pypi.Client
	logger      *slog.Logger
}

// New creates a Solver over the given repository clients.
func New(condaClient condarepo.Client, pypiClient pypi.Client, opts ...Option) *Solver {
	s := &Solver{condaClient: condaClient, pypiClient: pypiClient, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Solve resolves every named environment (all environments, if envNames is
// empty) across every platform the workspace declares, returning a single
// combined lock file.
func (s *Solver) Solve(ctx context.Context, ws *manifest.Workspace, envNames []string) (*lock.LockFile, error) {
	if len(envNames) == 0 {
		for name := range ws.Environments {
			envNames = append(envNames, name)
		}

		sort.Strings(envNames)
	}

	lf := lock.New()
	lf.Channels = ws.Channels

	for _, envName := range envNames {
		environment := &lock.Environment{Platforms: map[string]*lock.Platform{}}

		for _, platform := range ws.Platforms {
			platformLock, err := s.solveOne(ctx, ws, envName, platform)
			if err != nil {
				return nil, fmt.Errorf("solving environment %q on %s: %w", envName, platform, err)
			}

			environment.Platforms[platform] = platformLock
		}

		lf.Environments[envName] = environment
	}

	return lf, nil
}

func (s *Solver) solveOne(ctx context.Context, ws *manifest.Workspace, envName, platform string) (*lock.Platform, error) {
	target, err := ws.ResolveEnvironment(envName, platform)
	if err != nil {
		return nil, err
	}

	virtualPackages := ws.SystemRequirements.ToVirtualPackages()

	condaRoots := matchspecsFor(target.RunDependencies)
	condaRoots = append(condaRoots, matchspecsFor(target.HostDependencies)...)
	condaRoots = append(condaRoots, matchspecsFor(target.BuildDependencies)...)

	condaSvc := resolver.NewConda(s.condaClient, resolver.WithCondaLogger(s.logger))

	var condaPkgs []resolver.ResolvedCondaPackage
	if len(condaRoots) > 0 {
		condaPkgs, err = condaSvc.ResolveConda(ctx, ws.Channels, platform, condaRoots, virtualPackages)
		if err != nil {
			return nil, fmt.Errorf("resolving conda dependencies: %w", err)
		}
	}

	pypiRoots := pypiRequirementsFor(target.PypiDependencies)

	pypiRoots, satisfiedByConda := resolver.FilterAlreadySatisfiedByConda(pypiRoots, condaPkgs)
	for _, name := range satisfiedByConda {
		s.logger.Debug("pypi root already provided by conda solve",
			slog.String("environment", envName), slog.String("platform", platform), slog.String("name", name))
	}

	var pypiPkgs []resolver.ResolvedPackage
	if len(pypiRoots) > 0 {
		pySvc := resolver.New(s.pypiClient, resolver.WithLogger(s.logger))

		pypiPkgs, err = pySvc.Resolve(ctx, pypiRoots)
		if err != nil {
			return nil, fmt.Errorf("resolving pypi dependencies: %w", err)
		}
	}

	compatTags, haveInterpreter := s.interpreterTags(condaPkgs, platform)
	if len(pypiPkgs) > 0 && !haveInterpreter {
		return nil, &NoPythonInterpreter{Environment: envName, Platform: platform}
	}

	pypiLocations, err := s.locatePypiArtifacts(ctx, pypiPkgs, compatTags)
	if err != nil {
		return nil, fmt.Errorf("locating pypi artifacts: %w", err)
	}

	platformLock := &lock.Platform{}

	for _, p := range condaPkgs {
		platformLock.Packages = append(platformLock.Packages, lock.LockedPackage{
			Kind:       lock.KindConda,
			Name:       p.Name,
			Version:    p.Version,
			Build:      p.Build,
			Subdir:     p.Subdir,
			Depends:    p.Depends,
			Constrains: p.Constrains,
			SHA256:     p.SHA256,
			MD5:        p.MD5,
			Size:       p.Size,
			URL:        p.Channel + "/" + p.Subdir + "/" + p.Filename,
		})
	}

	for _, p := range pypiPkgs {
		loc := pypiLocations[p.Name]

		platformLock.Packages = append(platformLock.Packages, lock.LockedPackage{
			Kind:         lock.KindPypi,
			Name:         p.Name,
			Version:      p.Version,
			RequiresDist: p.Dependencies,
			Location:     loc.url,
			PypiHashes:   loc.hashes,
		})
	}

	lock.SortPackages(platformLock.Packages)

	return platformLock, nil
}

// NoPythonInterpreter is returned when a target has PyPI dependencies but
// its conda solve resolved no cpython/pypy interpreter package to derive
// wheel compatibility tags from.
type NoPythonInterpreter struct {
	Environment string
	Platform    string
}

func (e *NoPythonInterpreter) Error() string {
	return fmt.Sprintf("environment %q on %s: has pypi dependencies but no python interpreter was resolved from the conda solve", e.Environment, e.Platform)
}

// interpreterTags derives PEP 425 wheel-compatibility tags from the
// interpreter resolved by the conda solve (rather than the invoking host's
// own interpreter), mirroring how a pixi-style tool derives PyPI tags from
// the locked conda python record instead of asking the running machine.
func (s *Solver) interpreterTags(condaPkgs []resolver.ResolvedCondaPackage, platform string) ([]downloader.WheelTag, bool) {
	pyVersion, ok := resolver.ExtractInterpreter(condaPkgs)
	if !ok {
		return nil, false
	}

	return resolver.BuildCompatTags(pyVersion, platform), true
}

type pypiArtifact struct {
	url    string
	hashes map[string]string
}

// locatePypiArtifacts resolves a download URL + hash for each resolved PyPI
// package against the derived wheel-compat tags, so the lock file records a
// concrete, installable artifact rather than just a name/version pair.
// Packages for which no compatible wheel is published are recorded without
// a location; the installer falls back to treating them as unresolved.
func (s *Solver) locatePypiArtifacts(ctx context.Context, pkgs []resolver.ResolvedPackage, compatTags []downloader.WheelTag) (map[string]pypiArtifact, error) {
	out := make(map[string]pypiArtifact, len(pkgs))

	if len(compatTags) == 0 {
		return out, nil
	}

	for _, p := range pkgs {
		info, err := s.pypiClient.GetPackageVersion(ctx, p.Name, p.Version)
		if err != nil {
			return nil, fmt.Errorf("fetching artifact URLs for %s %s: %w", p.Name, p.Version, err)
		}

		wheel, err := downloader.SelectWheel(info.URLs, compatTags)
		if err != nil {
			s.logger.Debug("no compatible wheel found", slog.String("name", p.Name), slog.String("version", p.Version))

			continue
		}

		out[p.Name] = pypiArtifact{
			url:    wheel.URL,
			hashes: map[string]string{"sha256": wheel.Digests.SHA256},
		}
	}

	return out, nil
}

// matchspecsFor renders a dependency map's conda-style PackageSpecs into
// matchspec strings. Non-binary specs (url/path/git without an archive
// extension) are skipped: those are source builds outside the conda solve.
func matchspecsFor(deps map[string]spec.PackageSpec) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}

	sort.Strings(names)

	var out []string

	for _, name := range names {
		s := deps[name]
		if !s.IsBinary() {
			continue
		}

		ms := name

		switch s.Kind {
		case spec.KindVersion:
			if s.Version != "" && s.Version != "*" {
				ms += " " + s.Version
			}
		case spec.KindDetailedBinary:
			if s.Version != "" {
				ms += " " + s.Version
			}

			if s.BuildString != "" {
				ms += " " + s.BuildString
			}
		}

		out = append(out, ms)
	}

	return out
}

// pypiRequirementsFor renders a PyPI dependency map into PEP 508-ish
// requirement strings for the resolver, "extras" included.
func pypiRequirementsFor(deps map[string]manifest.PypiSpec) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}

	sort.Strings(names)

	var out []string

	for _, name := range names {
		s := deps[name]

		req := name

		if len(s.Extras) > 0 {
			req += "[" + joinComma(s.Extras) + "]"
		}

		if s.Version != "" && s.Version != "*" {
			req += s.Version
		}

		out = append(out, req)
	}

	return out
}

func joinComma(items []string) string {
	out := ""

	for i, it := range items {
		if i > 0 {
			out += ","
		}

		out += it
	}

	return out
}
