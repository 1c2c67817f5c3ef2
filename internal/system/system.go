// Package system models the host's virtual-package capabilities (libc
// family/version, OS version, CUDA, archspec) and the union/merge algebra
// the solver needs over them.
package system

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// LibcFamily distinguishes the two libc families pixi-style tools care about.
type LibcFamily string

const (
	LibcGlibc LibcFamily = "glibc"
	LibcMusl  LibcFamily = "musl"
)

// Libc carries the host's (or declared) libc family and version.
type Libc struct {
	Family  LibcFamily
	Version string // semver-shaped, e.g. "2.17"
}

// Requirements is a system-requirement record: the declared or detected
// capability set of a host.
type Requirements struct {
	MacosVersion string // semver-shaped, e.g. "10.15"
	LinuxVersion string // kernel version, e.g. "5.10"
	CudaVersion  string // e.g. "12.0"
	Libc         *Libc
	// Archspec is parsed and stored; Union rejects two differing non-empty
	// values and Merge lets the overlay replace it, but no solve path
	// consults it: upstream emits a warning that it's unused, and this
	// implementation preserves that behavior rather than inventing semantics
	// for it.
	Archspec string
}

// VirtualPackage is a synthetic dependency representing a host capability.
type VirtualPackage struct {
	Name    string // e.g. "__glibc"
	Version string
}

// ToVirtualPackages projects a Requirements record into the synthetic
// virtual packages solvers match against.
func (r Requirements) ToVirtualPackages() []VirtualPackage {
	var out []VirtualPackage

	if r.MacosVersion != "" {
		out = append(out, VirtualPackage{Name: "__osx", Version: r.MacosVersion})
	}

	if r.LinuxVersion != "" {
		out = append(out, VirtualPackage{Name: "__linux", Version: r.LinuxVersion})
		out = append(out, VirtualPackage{Name: "__unix", Version: r.LinuxVersion})
	}

	if r.CudaVersion != "" {
		out = append(out, VirtualPackage{Name: "__cuda", Version: r.CudaVersion})
	}

	if r.Libc != nil && r.Libc.Version != "" {
		name := "__glibc"
		if r.Libc.Family == LibcMusl {
			name = "__musl"
		}

		out = append(out, VirtualPackage{Name: name, Version: r.Libc.Version})
	}

	return out
}

// Union combines two requirement records by taking, per field, the max
// version; a libc family mismatch or an archspec mismatch between non-empty
// values is an error. Union(a, b) == Union(b, a) and Union(a, a) == a.
func Union(a, b Requirements) (Requirements, error) {
	out := Requirements{}

	var err error

	if out.MacosVersion, err = maxVersion(a.MacosVersion, b.MacosVersion); err != nil {
		return Requirements{}, fmt.Errorf("union macos: %w", err)
	}

	if out.LinuxVersion, err = maxVersion(a.LinuxVersion, b.LinuxVersion); err != nil {
		return Requirements{}, fmt.Errorf("union linux: %w", err)
	}

	if out.CudaVersion, err = maxVersion(a.CudaVersion, b.CudaVersion); err != nil {
		return Requirements{}, fmt.Errorf("union cuda: %w", err)
	}

	out.Libc, err = unionLibc(a.Libc, b.Libc)
	if err != nil {
		return Requirements{}, err
	}

	out.Archspec, err = unionArchspec(a.Archspec, b.Archspec)
	if err != nil {
		return Requirements{}, err
	}

	return out, nil
}

func unionLibc(a, b *Libc) (*Libc, error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil:
		return a, nil
	}

	if a.Family != b.Family {
		return nil, fmt.Errorf("incompatible libc families: %s vs %s", a.Family, b.Family)
	}

	v, err := maxVersion(a.Version, b.Version)
	if err != nil {
		return nil, fmt.Errorf("libc version: %w", err)
	}

	return &Libc{Family: a.Family, Version: v}, nil
}

func unionArchspec(a, b string) (string, error) {
	switch {
	case a == "":
		return b, nil
	case b == "":
		return a, nil
	case a == b:
		return a, nil
	default:
		return "", fmt.Errorf("incompatible archspec: %s vs %s", a, b)
	}
}

func maxVersion(a, b string) (string, error) {
	switch {
	case a == "":
		return b, nil
	case b == "":
		return a, nil
	}

	av, err := semver.NewVersion(padSemver(a))
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", a, err)
	}

	bv, err := semver.NewVersion(padSemver(b))
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", b, err)
	}

	if av.GreaterThan(bv) {
		return a, nil
	}

	return b, nil
}

// padSemver pads a dotted version like "12" or "12.0" out to three
// components so Masterminds/semver (which requires major.minor.patch) can
// parse system-requirement versions, which are often given as just
// "major" or "major.minor".
func padSemver(v string) string {
	dots := 0

	for _, r := range v {
		if r == '.' {
			dots++
		}
	}

	switch dots {
	case 0:
		return v + ".0.0"
	case 1:
		return v + ".0"
	default:
		return v
	}
}

// Merge overlays b onto a: per field, b's value wins when set. Used to
// overlay an environment's system-requirement overrides onto the workspace
// defaults.
func Merge(a, b Requirements) Requirements {
	out := a

	if b.MacosVersion != "" {
		out.MacosVersion = b.MacosVersion
	}

	if b.LinuxVersion != "" {
		out.LinuxVersion = b.LinuxVersion
	}

	if b.CudaVersion != "" {
		out.CudaVersion = b.CudaVersion
	}

	if b.Libc != nil {
		out.Libc = b.Libc
	}

	if b.Archspec != "" {
		out.Archspec = b.Archspec
	}

	return out
}

// OverrideEnvVar returns the CONDA_OVERRIDE_* environment variable name that
// would let a user satisfy a missing virtual package of the given name, for
// use in VirtualPackageMissing diagnostics.
func OverrideEnvVar(virtualPackageName string) (string, bool) {
	switch virtualPackageName {
	case "__glibc":
		return "CONDA_OVERRIDE_GLIBC", true
	case "__cuda":
		return "CONDA_OVERRIDE_CUDA", true
	case "__osx":
		return "CONDA_OVERRIDE_OSX", true
	default:
		return "", false
	}
}
