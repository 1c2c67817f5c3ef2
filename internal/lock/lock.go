// Package lock models the lock file: a per-(environment, platform) ordered
// list of resolved packages from both the conda-style binary ecosystem and
// the PyPI ecosystem, its YAML on-disk form, and the structural differ used
// to report what a re-solve would change.
package lock

import (
	"fmt"
	"sort"
)

// Kind distinguishes which ecosystem a LockedPackage came from.
type Kind int

const (
	KindConda Kind = iota
	KindPypi
)

func (k Kind) String() string {
	switch k {
	case KindConda:
		return "conda"
	case KindPypi:
		return "pypi"
	default:
		return "unknown"
	}
}

// LockedPackage is a tagged variant over the two ecosystems' resolved
// package records.
type LockedPackage struct {
	Kind Kind
	Name string

	// Conda fields.
	Version     string
	Build       string
	Subdir      string
	Depends     []string
	Constrains  []string
	Size        int64
	SHA256      string
	MD5         string
	URL         string
	Timestamp   int64
	SitePackagesPath string

	// Pypi fields.
	Location        string // URL or local path
	Direct          bool   // true when Location is a direct url/path/git reference, not a registry-picked artifact
	RequiresPython  string
	RequiresDist    []string
	Extras          []string
	Editable        bool
	PypiHashes      map[string]string
}

// Identity returns the value Changed-detection compares: the URL (conda) or
// Location (pypi) when one is set; otherwise the sha256/md5/build string for
// conda packages and the version for pypi packages. Paths are compared as
// recorded, without canonicalization.
func (p LockedPackage) Identity() string {
	switch p.Kind {
	case KindConda:
		if p.URL != "" {
			return p.URL
		}

		return p.SHA256 + "||" + p.MD5 + "||" + p.Build
	case KindPypi:
		if p.Location != "" {
			return p.Location
		}

		return p.Version
	default:
		return ""
	}
}

// Platform is one platform's resolved package set within an environment.
type Platform struct {
	Packages []LockedPackage
}

// Environment is the per-platform resolved state for one manifest
// environment.
type Environment struct {
	Platforms map[string]*Platform
}

// LockFile is the top-level on-disk-shaped lock state.
type LockFile struct {
	Version      int
	Channels     []string
	Environments map[string]*Environment
	Indexes      map[string]string // channel -> index/etag used, for change detection
}

// New returns an empty lock file at the current version.
func New() *LockFile {
	return &LockFile{
		Version:      currentVersion,
		Environments: map[string]*Environment{},
		Indexes:      map[string]string{},
	}
}

const currentVersion = 6

// Validate checks the per-(environment,platform) invariants: no duplicate
// names, and every conda dependency resolves either to another conda
// package in the same list or to a virtual package (named "__*").
func (lf *LockFile) Validate() error {
	for envName, env := range lf.Environments {
		for platform, p := range env.Platforms {
			seen := map[string]bool{}
			condaNames := map[string]bool{}

			for _, pkg := range p.Packages {
				key := fmt.Sprintf("%s/%s", pkg.Kind, pkg.Name)
				if seen[key] {
					return fmt.Errorf("environment %q platform %q: duplicate package %q", envName, platform, pkg.Name)
				}

				seen[key] = true

				if pkg.Kind == KindConda {
					condaNames[pkg.Name] = true
				}
			}

			for _, pkg := range p.Packages {
				if pkg.Kind != KindConda {
					continue
				}

				for _, dep := range pkg.Depends {
					name := dependencyName(dep)
					if name == "" {
						continue
					}

					if len(name) > 2 && name[:2] == "__" {
						continue // virtual package, satisfied by the host
					}

					if !condaNames[name] {
						return fmt.Errorf("environment %q platform %q: package %q depends on unresolved %q", envName, platform, pkg.Name, name)
					}
				}
			}
		}
	}

	return nil
}

// dependencyName extracts the leading package name from a matchspec-shaped
// dependency string ("numpy >=1.20" -> "numpy").
func dependencyName(matchspec string) string {
	for i, r := range matchspec {
		if r == ' ' {
			return matchspec[:i]
		}
	}

	return matchspec
}

// SortPackages orders a package list by name then kind (conda before pypi),
// the canonical order used for stable diff display.
func SortPackages(pkgs []LockedPackage) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].Name != pkgs[j].Name {
			return pkgs[i].Name < pkgs[j].Name
		}

		return pkgs[i].Kind < pkgs[j].Kind
	})
}
