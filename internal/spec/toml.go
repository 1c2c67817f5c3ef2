package spec

import (
	"fmt"
)

// RawTOML is the loosely-typed shape a dependency entry can take in the
// manifest TOML: a bare string (version matcher) or a table with one of
// url/path/git/version(+build/build-number/channel/subdir/md5/sha256).
//
// We deliberately do NOT use Go's untagged-enum unmarshalling tricks here
// (trying struct A, then struct B, …): instead we decode into this
// permissive struct once and dispatch explicitly in FromRaw, producing
// specific, actionable errors ("looks like a path, did you mean
// `{ path = … }`?") instead of a generic decode failure.
type RawTOML struct {
	asString *string

	Version     string `toml:"version"`
	Build       string `toml:"build"`
	BuildNumber string `toml:"build-number"`
	Channel     string `toml:"channel"`
	Subdir      string `toml:"subdir"`
	MD5         string `toml:"md5"`
	SHA256      string `toml:"sha256"`
	URL         string `toml:"url"`
	Path        string `toml:"path"`
	Git         string `toml:"git"`
	Branch      string `toml:"branch"`
	Tag         string `toml:"tag"`
	Rev         string `toml:"rev"`
	Subdirectory string `toml:"subdirectory"`
}

// UnmarshalTOML implements the toml.Unmarshaler hook so that a bare string
// value (`foo = ">=1.2"`) and a table value (`foo = { path = "../foo" }`)
// both decode into the same RawTOML shape.
func (r *RawTOML) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		r.asString = &v
		r.Version = v

		return nil
	case map[string]any:
		return decodeRawTable(r, v)
	default:
		return fmt.Errorf("unsupported dependency value %T", value)
	}
}

func decodeRawTable(r *RawTOML, m map[string]any) error {
	str := func(key string) string {
		v, _ := m[key].(string)
		return v
	}

	r.Version = str("version")
	r.Build = str("build")
	r.BuildNumber = str("build-number")
	r.Channel = str("channel")
	r.Subdir = str("subdir")
	r.MD5 = str("md5")
	r.SHA256 = str("sha256")
	r.URL = str("url")
	r.Path = str("path")
	r.Git = str("git")
	r.Branch = str("branch")
	r.Tag = str("tag")
	r.Rev = str("rev")
	r.Subdirectory = str("subdirectory")

	return nil
}

// FromRaw dispatches a decoded RawTOML into a concrete PackageSpec, enforcing
// the mutual-exclusion invariants and producing a helpful hint when a field
// combination looks like a typo for another variant.
func FromRaw(name string, r RawTOML) (PackageSpec, error) {
	set := 0
	if r.URL != "" {
		set++
	}
	if r.Path != "" {
		set++
	}
	if r.Git != "" {
		set++
	}

	if set > 1 {
		return PackageSpec{}, fmt.Errorf("dependency %q: url/path/git are mutually exclusive", name)
	}

	switch {
	case r.Git != "":
		return fromRawGit(name, r)
	case r.URL != "":
		return fromRawURL(name, r)
	case r.Path != "":
		return fromRawPath(name, r)
	default:
		return fromRawVersionOrDetailed(name, r)
	}
}

func fromRawGit(name string, r RawTOML) (PackageSpec, error) {
	if r.MD5 != "" || r.SHA256 != "" {
		return PackageSpec{}, fmt.Errorf("dependency %q: git specs cannot carry md5/sha256 hashes", name)
	}

	ref := GitRef{}

	set := 0
	if r.Branch != "" {
		ref = GitRef{Kind: GitRefBranch, Value: r.Branch}
		set++
	}
	if r.Tag != "" {
		ref = GitRef{Kind: GitRefTag, Value: r.Tag}
		set++
	}
	if r.Rev != "" {
		ref = GitRef{Kind: GitRefRev, Value: r.Rev}
		set++
	}

	if set > 1 {
		return PackageSpec{}, fmt.Errorf("dependency %q: branch/tag/rev are mutually exclusive", name)
	}

	s := NewGit(r.Git, ref, r.Subdirectory)

	return s, s.Validate()
}

func fromRawURL(name string, r RawTOML) (PackageSpec, error) {
	if looksLikeLocalPath(r.URL) {
		return PackageSpec{}, fmt.Errorf("dependency %q: %q looks like a path, did you mean `{ path = %q }`?", name, r.URL, r.URL)
	}

	s := NewURL(r.URL, r.MD5, r.SHA256)

	return s, s.Validate()
}

func fromRawPath(name string, r RawTOML) (PackageSpec, error) {
	if r.MD5 != "" || r.SHA256 != "" {
		return PackageSpec{}, fmt.Errorf("dependency %q: path specs cannot carry md5/sha256 hashes; did you mean `{ url = ... }`?", name)
	}

	s := NewPath(r.Path)

	return s, s.Validate()
}

func fromRawVersionOrDetailed(name string, r RawTOML) (PackageSpec, error) {
	if r.Build == "" && r.BuildNumber == "" && r.Channel == "" && r.Subdir == "" &&
		r.MD5 == "" && r.SHA256 == "" {
		return NewVersion(r.Version), nil
	}

	return NewDetailedBinary(r.Version, r.Build, r.BuildNumber, r.Channel, r.Subdir, r.MD5, r.SHA256, ""), nil
}

func looksLikeLocalPath(s string) bool {
	if s == "" {
		return false
	}

	for _, prefix := range []string{"http://", "https://", "ftp://", "git://", "git+"} {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			return false
		}
	}

	return s[0] == '.' || s[0] == '/' || (len(s) > 1 && s[1] == ':')
}
