// Package manifest models the in-memory workspace manifest: features,
// environments, targets, dependencies, tasks, and system requirements, and
// converts it to/from the on-disk TOML document.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bilusteknoloji/flux/internal/spec"
	"github.com/bilusteknoloji/flux/internal/system"
)

// SpecType selects which dependency table a dependency belongs to.
type SpecType string

const (
	SpecTypeRun   SpecType = "run"
	SpecTypeHost  SpecType = "host"
	SpecTypeBuild SpecType = "build"
)

// specTypePrecedence ranks build > host > run for name-collision resolution.
var specTypePrecedence = map[SpecType]int{
	SpecTypeBuild: 2,
	SpecTypeHost:  1,
	SpecTypeRun:   0,
}

// Selector is a platform selector on a [target.*] table: a concrete platform
// string, or one of the classes unix/linux/win/osx.
type Selector string

// Matches reports whether the selector applies to the given concrete
// platform (e.g. "linux-64", "osx-arm64", "win-64").
func (s Selector) Matches(platform string) bool {
	switch string(s) {
	case "unix":
		return strings.HasPrefix(platform, "linux-") || strings.HasPrefix(platform, "osx-")
	case "linux":
		return strings.HasPrefix(platform, "linux-")
	case "osx":
		return strings.HasPrefix(platform, "osx-")
	case "win":
		return strings.HasPrefix(platform, "win-")
	default:
		return string(s) == platform
	}
}

// PypiSpec is a dependency on the PyPI ecosystem: a version string, or a
// {version,extras}/{url}/{path,editable}/{git,...} table.
type PypiSpec struct {
	Version   string
	Extras    []string
	URL       string
	Path      string
	Editable  bool
	Git       string
	GitRef    spec.GitRef
	Subdirectory string
}

// Task is one of {plain command, structured, alias}.
type Task struct {
	// Cmd is the plain command string form, or the structured "cmd" field.
	Cmd string
	Cwd string
	Env map[string]string
	// DependsOn lists task names this task depends on.
	DependsOn   []string
	Inputs      []string
	Outputs     []string
	Description string
	CleanEnv    bool
	Args        []TaskArg
}

// IsAlias reports whether this task contributes only graph edges (empty
// command).
func (t Task) IsAlias() bool {
	return strings.TrimSpace(t.Cmd) == ""
}

// TaskArg is one positional argument declaration for a task.
type TaskArg struct {
	Name     string
	Default  string
	HasDefault bool
}

// Target is a (feature, platform-selector) cell.
type Target struct {
	Selector Selector

	RunDependencies   map[string]spec.PackageSpec
	HostDependencies  map[string]spec.PackageSpec
	BuildDependencies map[string]spec.PackageSpec
	PypiDependencies  map[string]PypiSpec

	Tasks      map[string]Task
	Activation []string // activation script paths
}

// Feature is a named bag of dependencies, tasks, and settings.
type Feature struct {
	Name string

	// Targets is keyed by selector string (the literal [target.<selector>]
	// table name, or "" for the feature-level, platform-unselected table).
	Targets map[string]*Target

	SystemRequirements *system.Requirements
	Channels           []string // overrides workspace channels when non-empty
	PypiOptions        map[string]string
}

// defaultTarget returns (creating if absent) the platform-unselected target.
func (f *Feature) defaultTarget() *Target {
	return f.target("")
}

func (f *Feature) target(selector string) *Target {
	if f.Targets == nil {
		f.Targets = map[string]*Target{}
	}

	t, ok := f.Targets[selector]
	if !ok {
		t = &Target{
			Selector:          Selector(selector),
			RunDependencies:   map[string]spec.PackageSpec{},
			HostDependencies:  map[string]spec.PackageSpec{},
			BuildDependencies: map[string]spec.PackageSpec{},
			PypiDependencies:  map[string]PypiSpec{},
			Tasks:             map[string]Task{},
		}
		f.Targets[selector] = t
	}

	return t
}

// Environment is a named composition of features.
type Environment struct {
	Name          string
	Features      []string // ordered; later features override earlier
	SolveGroup    string   // empty means "no shared solve group"
	NoDefaultFeature bool
}

// Workspace is the top-level in-memory manifest.
type Workspace struct {
	Name        string
	Version     string
	Channels    []string // ordered, priority-bearing
	Platforms   []string

	Features     map[string]*Feature
	Environments map[string]*Environment

	SystemRequirements system.Requirements
	PypiOptions        map[string]string
}

const defaultFeatureName = "default"
const defaultEnvironmentName = "default"

// NewWorkspace returns an empty workspace with the implicit default feature
// and default environment already present.
func NewWorkspace(name string) *Workspace {
	w := &Workspace{
		Name:         name,
		Features:     map[string]*Feature{},
		Environments: map[string]*Environment{},
	}

	w.Features[defaultFeatureName] = &Feature{Name: defaultFeatureName, Targets: map[string]*Target{}}
	w.Environments[defaultEnvironmentName] = &Environment{Name: defaultEnvironmentName, Features: []string{defaultFeatureName}}

	return w
}

// FeatureNames returns a deterministically sorted list of feature names.
func (w *Workspace) FeatureNames() []string {
	names := make([]string, 0, len(w.Features))
	for n := range w.Features {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// ResolveEnvironment composes an environment's features (in order, later
// overrides earlier) into one effective Target for the given concrete
// platform, applying build>host>run precedence on name collisions within
// each feature and across the override chain.
func (w *Workspace) ResolveEnvironment(envName, platform string) (*Target, error) {
	env, ok := w.Environments[envName]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", envName)
	}

	effective := &Target{
		RunDependencies:   map[string]spec.PackageSpec{},
		HostDependencies:  map[string]spec.PackageSpec{},
		BuildDependencies: map[string]spec.PackageSpec{},
		PypiDependencies:  map[string]PypiSpec{},
		Tasks:             map[string]Task{},
	}

	features := env.Features
	if !env.NoDefaultFeature {
		features = append([]string{defaultFeatureName}, features...)
	}

	for _, fname := range features {
		feature, ok := w.Features[fname]
		if !ok {
			return nil, fmt.Errorf("environment %q references unknown feature %q", envName, fname)
		}

		if err := mergeFeatureInto(effective, feature, platform); err != nil {
			return nil, fmt.Errorf("environment %q: %w", envName, err)
		}
	}

	return effective, nil
}

// mergeFeatureInto merges all of a feature's platform-matching targets into
// dst, applying build>host>run precedence.
func mergeFeatureInto(dst *Target, f *Feature, platform string) error {
	selectors := make([]string, 0, len(f.Targets))
	for sel := range f.Targets {
		selectors = append(selectors, sel)
	}

	sort.Strings(selectors) // deterministic application order; "" (unselected) sorts first

	for _, sel := range selectors {
		t := f.Targets[sel]
		if sel != "" && !Selector(sel).Matches(platform) {
			continue
		}

		mergeDeps(dst.BuildDependencies, t.BuildDependencies)
		mergeDeps(dst.HostDependencies, t.HostDependencies)
		mergeDeps(dst.RunDependencies, t.RunDependencies)

		for name, s := range t.PypiDependencies {
			dst.PypiDependencies[name] = s
		}

		for name, task := range t.Tasks {
			dst.Tasks[name] = task
		}

		dst.Activation = append(dst.Activation, t.Activation...)
	}

	return applyPrecedence(dst)
}

func mergeDeps(dst, src map[string]spec.PackageSpec) {
	for name, s := range src {
		dst[name] = s
	}
}

// applyPrecedence removes lower-precedence duplicates: when a name appears
// in more than one of build/host/run, only the highest-precedence (build >
// host > run) entry survives.
func applyPrecedence(t *Target) error {
	for name := range t.RunDependencies {
		if _, ok := t.HostDependencies[name]; ok {
			delete(t.RunDependencies, name)
			continue
		}

		if _, ok := t.BuildDependencies[name]; ok {
			delete(t.RunDependencies, name)
		}
	}

	for name := range t.HostDependencies {
		if _, ok := t.BuildDependencies[name]; ok {
			delete(t.HostDependencies, name)
		}
	}

	return nil
}

// NormalizeName lowercases and hyphenizes a dependency name the way PEP 503
// does, used uniformly for both ecosystems' name maps so case-variant
// duplicates are caught.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}
