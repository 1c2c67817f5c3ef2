// Package spec models a single dependency specification as a tagged variant:
// a version matcher, a detailed binary matchspec, a URL, a local path, or a
// git reference. Exactly one form is ever populated on a given PackageSpec.
package spec

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind tags which variant of PackageSpec is populated.
type Kind int

const (
	// KindVersion is a bare version-matcher spec, e.g. ">=1.2,<2".
	KindVersion Kind = iota
	// KindDetailedBinary carries a matchspec-shaped conda binary spec.
	KindDetailedBinary
	// KindURL points at an absolute URL, binary or source depending on extension.
	KindURL
	// KindPath points at a local filesystem path.
	KindPath
	// KindGit points at a git repository reference. Always source.
	KindGit
)

func (k Kind) String() string {
	switch k {
	case KindVersion:
		return "version"
	case KindDetailedBinary:
		return "detailed-binary"
	case KindURL:
		return "url"
	case KindPath:
		return "path"
	case KindGit:
		return "git"
	default:
		return "unknown"
	}
}

// GitRefKind distinguishes which of branch/tag/rev/default was supplied.
type GitRefKind int

const (
	GitRefDefault GitRefKind = iota
	GitRefBranch
	GitRefTag
	GitRefRev
)

// GitRef is a single git reference selector.
type GitRef struct {
	Kind  GitRefKind
	Value string // empty when Kind == GitRefDefault
}

// PackageSpec is a tagged-variant dependency specification. Construct one via
// the New* constructors rather than populating fields directly, so the
// mutual-exclusion invariants below are always enforced.
type PackageSpec struct {
	Kind Kind

	// KindVersion / KindDetailedBinary
	Version     string // version-matcher string, e.g. ">=1.2,<2"
	BuildString string // optional build-string matcher (detailed binary only)
	BuildNumber string // optional build-number matcher (detailed binary only)
	Channel     string // optional channel (detailed binary only)
	Subdir      string // optional subdir (detailed binary only)

	// KindURL / KindPath
	Location string // URL or filesystem path

	// KindGit
	GitURL        string
	GitRef        GitRef
	GitSubdir     string

	// Shared across Version/DetailedBinary/URL/Path (never Git).
	MD5      string
	SHA256   string
	Filename string
}

// knownArchiveExts are the extensions that make a URL/Path spec binary rather
// than source. Mirrors the archive-extension heuristic.
var knownArchiveExts = []string{
	".conda", ".tar.bz2", ".whl", ".zip",
}

// NewVersion builds a bare version-matcher spec.
func NewVersion(versionMatcher string) PackageSpec {
	return PackageSpec{Kind: KindVersion, Version: versionMatcher}
}

// NewDetailedBinary builds a detailed conda-style binary matchspec.
func NewDetailedBinary(version, buildString, buildNumber, channel, subdir, md5, sha256, filename string) PackageSpec {
	return PackageSpec{
		Kind:        KindDetailedBinary,
		Version:     version,
		BuildString: buildString,
		BuildNumber: buildNumber,
		Channel:     channel,
		Subdir:      subdir,
		MD5:         md5,
		SHA256:      sha256,
		Filename:    filename,
	}
}

// NewURL builds a URL-based spec. Hashes are optional.
func NewURL(url, md5, sha256 string) PackageSpec {
	return PackageSpec{Kind: KindURL, Location: url, MD5: md5, SHA256: sha256}
}

// NewPath builds a local-path spec (absolute or manifest-relative).
func NewPath(path string) PackageSpec {
	return PackageSpec{Kind: KindPath, Location: path}
}

// NewGit builds a git-reference spec.
func NewGit(url string, ref GitRef, subdir string) PackageSpec {
	return PackageSpec{Kind: KindGit, GitURL: url, GitRef: ref, GitSubdir: subdir}
}

// IsBinary reports whether this spec resolves to a binary (conda-style)
// artifact rather than a source artifact. Version and DetailedBinary specs
// are always binary; URL/Path specs are binary iff their extension matches a
// known archive extension; Git specs are always source.
func (p PackageSpec) IsBinary() bool {
	switch p.Kind {
	case KindVersion, KindDetailedBinary:
		return true
	case KindURL, KindPath:
		return hasKnownArchiveExt(p.Location)
	case KindGit:
		return false
	default:
		return false
	}
}

func hasKnownArchiveExt(location string) bool {
	base := strings.ToLower(filepath.Base(location))
	for _, ext := range knownArchiveExts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}

	return false
}

// Validate checks the mutual-exclusion invariants that Kind alone does not
// guarantee:
//   - hashes are not compatible with path or git
//   - a git spec carries at most one of branch/tag/rev
//
// That exactly one of {version/detailed, url, path, git} is set is enforced
// by construction (New*, FromRaw) and is not re-checked here.
func (p PackageSpec) Validate() error {
	switch p.Kind {
	case KindPath:
		if p.MD5 != "" || p.SHA256 != "" {
			return fmt.Errorf("path spec %q cannot carry a hash; did you mean a url spec?", p.Location)
		}
	case KindGit:
		if p.MD5 != "" || p.SHA256 != "" {
			return fmt.Errorf("git spec %q cannot carry a hash", p.GitURL)
		}

		set := 0
		if p.GitRef.Kind == GitRefBranch {
			set++
		}
		if p.GitRef.Kind == GitRefTag {
			set++
		}
		if p.GitRef.Kind == GitRefRev {
			set++
		}

		if set > 1 {
			return fmt.Errorf("git spec %q: branch/tag/rev are mutually exclusive", p.GitURL)
		}
	}

	return nil
}

// AsBinary returns p unchanged if it is already a binary-only spec (per
// IsBinary), or a zero-value, false if it is not. A binary-only spec is the
// same variant set minus Git, minus Url/Path variants whose extension does
// not indicate an archive.
func (p PackageSpec) AsBinary() (PackageSpec, bool) {
	if p.Kind == KindGit {
		return PackageSpec{}, false
	}

	if !p.IsBinary() {
		return PackageSpec{}, false
	}

	return p, true
}

// String renders a human-readable form, mainly for diagnostics and logging.
func (p PackageSpec) String() string {
	switch p.Kind {
	case KindVersion:
		if p.Version == "" {
			return "*"
		}

		return p.Version
	case KindDetailedBinary:
		var b strings.Builder

		b.WriteString(p.Version)

		if p.BuildString != "" {
			b.WriteString(" ")
			b.WriteString(p.BuildString)
		}

		if p.Channel != "" {
			b.WriteString(" (")
			b.WriteString(p.Channel)

			if p.Subdir != "" {
				b.WriteString("/")
				b.WriteString(p.Subdir)
			}

			b.WriteString(")")
		}

		return b.String()
	case KindURL:
		return p.Location
	case KindPath:
		return "path:" + p.Location
	case KindGit:
		ref := ""

		switch p.GitRef.Kind {
		case GitRefBranch:
			ref = "@" + p.GitRef.Value
		case GitRefTag:
			ref = "@" + p.GitRef.Value
		case GitRefRev:
			ref = "#" + p.GitRef.Value
		}

		return p.GitURL + ref
	default:
		return "<invalid spec>"
	}
}
