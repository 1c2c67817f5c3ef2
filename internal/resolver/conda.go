package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bilusteknoloji/flux/internal/condarepo"
	"github.com/bilusteknoloji/flux/internal/matchspec"
	"github.com/bilusteknoloji/flux/internal/system"
)

// CondaResolver solves conda-style matchspecs against one or more channels'
// repodata for a single platform.
type CondaResolver interface {
	ResolveConda(ctx context.Context, channels []string, subdir string, roots []string, virtualPackages []system.VirtualPackage) ([]ResolvedCondaPackage, error)
}

// ResolvedCondaPackage is one solved binary package build.
type ResolvedCondaPackage struct {
	Name       string
	Version    string
	Build      string
	Channel    string
	Subdir     string
	Filename   string
	Depends    []string
	Constrains []string
	SHA256     string
	MD5        string
	Size       int64
}

// CondaOption configures a CondaService.
type CondaOption func(*CondaService)

// WithCondaLogger sets the structured logger.
func WithCondaLogger(l *slog.Logger) CondaOption {
	return func(s *CondaService) {
		if l != nil {
			s.logger = l
		}
	}
}

// CondaService solves conda-style matchspecs by BFS over channel repodata,
// mirroring the PyPI Service's queue/resolved/constraints shape but keyed by
// matchspec instead of PEP 508 requirement, and checking virtual packages
// before reaching for repodata.
type CondaService struct {
	client condarepo.Client
	logger *slog.Logger
}

var _ CondaResolver = (*CondaService)(nil)

// NewConda creates a conda-style matchspec resolver.
func NewConda(client condarepo.Client, opts ...CondaOption) *CondaService {
	s := &CondaService{client: client, logger: slog.Default()}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ResolveConda walks the dependency tree of the root matchspecs using BFS
// over the given channels (searched in priority order) for one subdir,
// returning the full package set to install. Dependencies on virtual
// packages are checked against the host's capability set and otherwise
// elided from the result (they are never installed).
func (s *CondaService) ResolveConda(ctx context.Context, channels []string, subdir string, roots []string, virtualPackages []system.VirtualPackage) ([]ResolvedCondaPackage, error) {
	vpIndex := make(map[string]string, len(virtualPackages))
	for _, vp := range virtualPackages {
		vpIndex[vp.Name] = vp.Version
	}

	var queue []matchspec.MatchSpec

	for _, r := range roots {
		ms, err := matchspec.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("parsing matchspec %q: %w", r, err)
		}

		queue = append(queue, ms)
	}

	resolved := make(map[string]*ResolvedCondaPackage)
	constraints := make(map[string][]matchspec.MatchSpec)
	processing := make(map[string]bool)

	for len(queue) > 0 {
		ms := queue[0]
		queue = queue[1:]

		name := ms.Name

		if isVirtualPackage(name) {
			if err := checkVirtualPackageSatisfied(ms, vpIndex); err != nil {
				return nil, err
			}

			continue
		}

		constraints[name] = append(constraints[name], ms)

		if pkg, ok := resolved[name]; ok {
			ok, err := allMatchspecsSatisfied(constraints[name], pkg.Version, pkg.Build)
			if err != nil {
				return nil, fmt.Errorf("checking constraints for %s: %w", name, err)
			}

			if !ok {
				return nil, fmt.Errorf("version conflict for %s: %s (build %s) does not satisfy all of %v",
					name, pkg.Version, pkg.Build, constraints[name])
			}

			continue
		}

		if processing[name] {
			continue
		}

		processing[name] = true

		s.logger.Debug("resolving conda package", slog.String("name", name))

		record, channel, err := s.bestCandidate(ctx, channels, subdir, name, constraints[name])
		if err != nil {
			return nil, err
		}

		if record == nil {
			return nil, fmt.Errorf("no compatible build found for %s matching %v", name, constraints[name])
		}

		resolved[name] = &ResolvedCondaPackage{
			Name:       record.Record.Name,
			Version:    record.Record.Version,
			Build:      record.Record.Build,
			Channel:    channel,
			Subdir:     subdir,
			Filename:   record.Filename,
			Depends:    record.Record.Depends,
			Constrains: record.Record.Constrains,
			SHA256:     record.Record.SHA256,
			MD5:        record.Record.MD5,
			Size:       record.Record.Size,
		}

		for _, dep := range record.Record.Depends {
			depSpec, err := matchspec.Parse(dep)
			if err != nil {
				return nil, fmt.Errorf("package %s: parsing dependency %q: %w", name, dep, err)
			}

			queue = append(queue, depSpec)
		}
	}

	result := make([]ResolvedCondaPackage, 0, len(resolved))
	for _, pkg := range resolved {
		result = append(result, *pkg)
	}

	return result, nil
}

// bestCandidate searches channels in priority order and returns the
// highest-version, highest-build-number candidate satisfying every
// accumulated matchspec for name.
func (s *CondaService) bestCandidate(ctx context.Context, channels []string, subdir, name string, specs []matchspec.MatchSpec) (*condarepo.NamedRecord, string, error) {
	for _, channel := range channels {
		candidates, err := s.client.Candidates(ctx, channel, subdir, name)
		if err != nil {
			return nil, "", fmt.Errorf("listing candidates for %s in %s: %w", name, channel, err)
		}

		var best *condarepo.NamedRecord

		for i := range candidates {
			c := &candidates[i]

			ok, err := allMatchspecsSatisfied(specs, c.Record.Version, c.Record.Build)
			if err != nil {
				return nil, "", err
			}

			if !ok {
				continue
			}

			if best == nil || isBetterCandidate(*c, *best) {
				best = c
			}
		}

		if best != nil {
			return best, channel, nil
		}
	}

	return nil, "", nil
}

func isBetterCandidate(a, b condarepo.NamedRecord) bool {
	if a.Record.Version != b.Record.Version {
		ok, err := matchspec.Matches(matchspec.MatchSpec{VersionExpr: ">" + b.Record.Version}, a.Record.Version, "")
		if err == nil {
			return ok
		}
	}

	return a.Record.BuildNumber > b.Record.BuildNumber
}

func allMatchspecsSatisfied(specs []matchspec.MatchSpec, version, build string) (bool, error) {
	for _, ms := range specs {
		ok, err := matchspec.Matches(ms, version, build)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func isVirtualPackage(name string) bool {
	return len(name) > 2 && name[:2] == "__"
}

// checkVirtualPackageSatisfied reports a descriptive error (naming the
// CONDA_OVERRIDE_* escape hatch) when a dependency on a virtual package
// can't be satisfied by the host's declared capabilities.
func checkVirtualPackageSatisfied(ms matchspec.MatchSpec, vpIndex map[string]string) error {
	version, ok := vpIndex[ms.Name]
	if !ok {
		hint := ""
		if envVar, ok := system.OverrideEnvVar(ms.Name); ok {
			hint = fmt.Sprintf(" (set %s to override)", envVar)
		}

		return fmt.Errorf("missing virtual package %s%s", ms.Name, hint)
	}

	if ms.VersionExpr == "" {
		return nil
	}

	satisfied, err := matchspec.Matches(ms, version, "")
	if err != nil {
		return fmt.Errorf("checking virtual package %s: %w", ms.Name, err)
	}

	if !satisfied {
		hint := ""
		if envVar, ok := system.OverrideEnvVar(ms.Name); ok {
			hint = fmt.Sprintf(" (set %s to override)", envVar)
		}

		return fmt.Errorf("virtual package %s=%s does not satisfy %s%s", ms.Name, version, ms.VersionExpr, hint)
	}

	return nil
}
