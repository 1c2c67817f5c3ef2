// Package matchspec parses and evaluates conda-style matchspecs: the
// name[version][build][channel::subdir] dependency strings used by the
// binary (conda-style) ecosystem, and the synthetic virtual-package
// requirement strings such as "__glibc >=2.28".
//
// Conda version/build strings are not PEP 440 — they use their own looser
// dotted/segmented comparison rules — so this package leans on
// aquasecurity/go-version rather than the PEP 440 parser the PyPI half of
// the resolver uses.
package matchspec

import (
	"fmt"
	"strings"

	gover "github.com/aquasecurity/go-version/pkg/version"
)

// MatchSpec is a parsed conda-style dependency requirement.
type MatchSpec struct {
	Name        string
	VersionExpr string // e.g. ">=2.28", may be empty (any version)
	Build       string // build string glob, may contain '*'
	Channel     string
	Subdir      string
}

// Parse parses a matchspec string such as:
//
//	numpy
//	numpy >=1.20,<2
//	numpy >=1.20 py312h*
//	conda-forge::numpy >=1.20
//	conda-forge/linux-64::numpy
func Parse(s string) (MatchSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MatchSpec{}, fmt.Errorf("empty matchspec")
	}

	ms := MatchSpec{}

	rest := s

	if idx := strings.Index(rest, "::"); idx >= 0 {
		channelSubdir := rest[:idx]
		rest = strings.TrimSpace(rest[idx+2:])

		if slash := strings.Index(channelSubdir, "/"); slash >= 0 {
			ms.Channel = channelSubdir[:slash]
			ms.Subdir = channelSubdir[slash+1:]
		} else {
			ms.Channel = channelSubdir
		}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return MatchSpec{}, fmt.Errorf("matchspec %q: missing package name", s)
	}

	ms.Name = fields[0]

	if len(fields) > 1 {
		ms.VersionExpr = fields[1]
	}

	if len(fields) > 2 {
		ms.Build = fields[2]
	}

	return ms, nil
}

// Matches reports whether the given (version, build) pair satisfies the
// matchspec's version expression and build glob.
func Matches(ms MatchSpec, version, build string) (bool, error) {
	if ms.VersionExpr != "" {
		ok, err := versionSatisfies(version, ms.VersionExpr)
		if err != nil {
			return false, fmt.Errorf("matchspec %q: %w", ms.Name, err)
		}

		if !ok {
			return false, nil
		}
	}

	if ms.Build != "" && !buildGlobMatches(ms.Build, build) {
		return false, nil
	}

	return true, nil
}

// versionSatisfies evaluates a comma-separated list of comparator clauses
// (">=2.28,<3") against a single conda-style version string.
func versionSatisfies(version, expr string) (bool, error) {
	v, err := gover.Parse(version)
	if err != nil {
		return false, fmt.Errorf("parsing version %q: %w", version, err)
	}

	for _, clause := range strings.Split(expr, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		op, rhs := splitOperator(clause)

		rv, err := gover.Parse(rhs)
		if err != nil {
			return false, fmt.Errorf("parsing version %q: %w", rhs, err)
		}

		cmp := v.Compare(rv)

		var ok bool

		switch op {
		case ">=":
			ok = cmp >= 0
		case "<=":
			ok = cmp <= 0
		case ">":
			ok = cmp > 0
		case "<":
			ok = cmp < 0
		case "==", "=":
			ok = cmp == 0
		case "!=":
			ok = cmp != 0
		default:
			// Bare version with no operator means exact/prefix match.
			ok = strings.HasPrefix(version, rhs)
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func splitOperator(clause string) (op, rhs string) {
	for _, candidate := range []string{">=", "<=", "==", "!=", ">", "<", "="} {
		if strings.HasPrefix(clause, candidate) {
			return candidate, strings.TrimSpace(clause[len(candidate):])
		}
	}

	return "", clause
}

// buildGlobMatches matches a build string against a glob containing '*'
// wildcards, conda's own convention for build-string matching.
func buildGlobMatches(glob, build string) bool {
	parts := strings.Split(glob, "*")
	if len(parts) == 1 {
		return glob == build
	}

	rest := build
	for i, part := range parts {
		if part == "" {
			continue
		}

		idx := strings.Index(rest, part)
		if idx == -1 {
			return false
		}

		if i == 0 && idx != 0 {
			return false
		}

		rest = rest[idx+len(part):]
	}

	if last := parts[len(parts)-1]; last != "" {
		return strings.HasSuffix(build, last)
	}

	return true
}

// String renders the matchspec back to its canonical string form.
func (ms MatchSpec) String() string {
	var b strings.Builder

	if ms.Channel != "" {
		b.WriteString(ms.Channel)

		if ms.Subdir != "" {
			b.WriteString("/")
			b.WriteString(ms.Subdir)
		}

		b.WriteString("::")
	}

	b.WriteString(ms.Name)

	if ms.VersionExpr != "" {
		b.WriteString(" ")
		b.WriteString(ms.VersionExpr)
	}

	if ms.Build != "" {
		b.WriteString(" ")
		b.WriteString(ms.Build)
	}

	return b.String()
}
