package manifest

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/bilusteknoloji/flux/internal/spec"
	"github.com/bilusteknoloji/flux/internal/system"
)

// tomlDoc mirrors the on-disk shape. workspace and
// project are aliases for the same table.
type tomlDoc struct {
	Workspace *tomlWorkspace `toml:"workspace"`
	Project   *tomlWorkspace `toml:"project"`

	SystemRequirements *tomlSystemRequirements `toml:"system-requirements"`

	Dependencies     map[string]spec.RawTOML `toml:"dependencies"`
	HostDependencies map[string]spec.RawTOML `toml:"host-dependencies"`
	BuildDependencies map[string]spec.RawTOML `toml:"build-dependencies"`
	PypiDependencies map[string]tomlPypiSpec `toml:"pypi-dependencies"`

	Tasks map[string]tomlTask `toml:"tasks"`

	Feature      map[string]tomlFeatureBody `toml:"feature"`
	Environments map[string]tomlEnvironment `toml:"environments"`
	Target       map[string]tomlFeatureBody `toml:"target"`
}

type tomlWorkspace struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Channels    []string `toml:"channels"`
	Platforms   []string `toml:"platforms"`
	Description string   `toml:"description"`
}

type tomlSystemRequirements struct {
	Linux string      `toml:"linux"`
	Macos string      `toml:"macos"`
	Cuda  string      `toml:"cuda"`
	Libc  any         `toml:"libc"` // scalar version string, or {family, version} table
	Archspec string   `toml:"archspec"`
}

type tomlPypiSpec struct {
	asString *string

	Version  string   `toml:"version"`
	Extras   []string `toml:"extras"`
	URL      string   `toml:"url"`
	Path     string   `toml:"path"`
	Editable bool     `toml:"editable"`
	Git      string   `toml:"git"`
	Branch   string   `toml:"branch"`
	Tag      string   `toml:"tag"`
	Rev      string   `toml:"rev"`
	Subdirectory string `toml:"subdirectory"`
}

func (p *tomlPypiSpec) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		p.asString = &v
		p.Version = v

		return nil
	case map[string]any:
		str := func(k string) string { s, _ := v[k].(string); return s }

		p.Version = str("version")
		p.URL = str("url")
		p.Path = str("path")
		p.Git = str("git")
		p.Branch = str("branch")
		p.Tag = str("tag")
		p.Rev = str("rev")
		p.Subdirectory = str("subdirectory")

		if editable, ok := v["editable"].(bool); ok {
			p.Editable = editable
		}

		if extras, ok := v["extras"].([]any); ok {
			for _, e := range extras {
				if s, ok := e.(string); ok {
					p.Extras = append(p.Extras, s)
				}
			}
		}

		return nil
	default:
		return fmt.Errorf("unsupported pypi-dependency value %T", value)
	}
}

func (p tomlPypiSpec) toSpec() (PypiSpec, error) {
	out := PypiSpec{Version: p.Version, Extras: p.Extras, URL: p.URL, Path: p.Path, Editable: p.Editable, Git: p.Git, Subdirectory: p.Subdirectory}

	nonEmpty := 0
	if p.URL != "" {
		nonEmpty++
	}
	if p.Path != "" {
		nonEmpty++
	}
	if p.Git != "" {
		nonEmpty++
	}

	if nonEmpty > 1 {
		return PypiSpec{}, fmt.Errorf("pypi dependency: url/path/git are mutually exclusive")
	}

	switch {
	case p.Branch != "":
		out.GitRef = spec.GitRef{Kind: spec.GitRefBranch, Value: p.Branch}
	case p.Tag != "":
		out.GitRef = spec.GitRef{Kind: spec.GitRefTag, Value: p.Tag}
	case p.Rev != "":
		out.GitRef = spec.GitRef{Kind: spec.GitRefRev, Value: p.Rev}
	}

	return out, nil
}

type tomlTask struct {
	asString *string

	Cmd         string            `toml:"cmd"`
	Cwd         string            `toml:"cwd"`
	Env         map[string]string `toml:"env"`
	DependsOn   []string          `toml:"depends-on"`
	Inputs      []string          `toml:"inputs"`
	Outputs     []string          `toml:"outputs"`
	Description string            `toml:"description"`
	CleanEnv    bool              `toml:"clean-env"`
	Args        []tomlTaskArg     `toml:"args"`
}

type tomlTaskArg struct {
	Name       string `toml:"arg"`
	Default    string `toml:"default"`
	HasDefault bool
}

func (a *tomlTaskArg) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		a.Name = v

		return nil
	case map[string]any:
		if name, ok := v["arg"].(string); ok {
			a.Name = name
		}

		if def, ok := v["default"].(string); ok {
			a.Default = def
			a.HasDefault = true
		}

		return nil
	default:
		return fmt.Errorf("unsupported task arg value %T", value)
	}
}

func (t *tomlTask) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		t.asString = &v
		t.Cmd = v

		return nil
	case map[string]any:
		if cmd, ok := v["cmd"].(string); ok {
			t.Cmd = cmd
		}

		if cwd, ok := v["cwd"].(string); ok {
			t.Cwd = cwd
		}

		if desc, ok := v["description"].(string); ok {
			t.Description = desc
		}

		if clean, ok := v["clean-env"].(bool); ok {
			t.CleanEnv = clean
		}

		t.DependsOn = toStringSlice(v["depends-on"])
		t.Inputs = toStringSlice(v["inputs"])
		t.Outputs = toStringSlice(v["outputs"])

		if envTable, ok := v["env"].(map[string]any); ok {
			t.Env = map[string]string{}
			for k, val := range envTable {
				if s, ok := val.(string); ok {
					t.Env[k] = s
				}
			}
		}

		if argsRaw, ok := v["args"].([]any); ok {
			for _, a := range argsRaw {
				var arg tomlTaskArg
				if err := arg.UnmarshalTOML(a); err != nil {
					return fmt.Errorf("task arg: %w", err)
				}

				t.Args = append(t.Args, arg)
			}
		}

		return nil
	default:
		return fmt.Errorf("unsupported task value %T", value)
	}
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(arr))

	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func (t tomlTask) toTask() Task {
	args := make([]TaskArg, 0, len(t.Args))
	for _, a := range t.Args {
		args = append(args, TaskArg{Name: a.Name, Default: a.Default, HasDefault: a.HasDefault})
	}

	if len(args) == 0 {
		for _, name := range splitTaskArgPlaceholder(t.Cmd) {
			args = append(args, TaskArg{Name: name})
		}
	}

	return Task{
		Cmd:         t.Cmd,
		Cwd:         t.Cwd,
		Env:         t.Env,
		DependsOn:   t.DependsOn,
		Inputs:      t.Inputs,
		Outputs:     t.Outputs,
		Description: t.Description,
		CleanEnv:    t.CleanEnv,
		Args:        args,
	}
}

type tomlFeatureBody struct {
	Dependencies      map[string]spec.RawTOML `toml:"dependencies"`
	HostDependencies  map[string]spec.RawTOML `toml:"host-dependencies"`
	BuildDependencies map[string]spec.RawTOML `toml:"build-dependencies"`
	PypiDependencies  map[string]tomlPypiSpec `toml:"pypi-dependencies"`
	Tasks             map[string]tomlTask     `toml:"tasks"`
	Channels          []string                `toml:"channels"`
	Target            map[string]tomlFeatureBody `toml:"target"`
}

type tomlEnvironment struct {
	Features         []string `toml:"features"`
	SolveGroup       string   `toml:"solve-group"`
	NoDefaultFeature bool     `toml:"no-default-feature"`
}

// Parse parses a workspace manifest TOML document into a Workspace.
func Parse(data []byte) (*Workspace, error) {
	var doc tomlDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	ws := doc.Workspace
	if ws == nil {
		ws = doc.Project
	}

	if ws == nil || ws.Name == "" {
		return nil, fmt.Errorf("manifest missing required [workspace] name")
	}

	w := NewWorkspace(ws.Name)
	w.Version = ws.Version
	w.Channels = ws.Channels
	w.Platforms = ws.Platforms

	if doc.SystemRequirements != nil {
		req, err := convertSystemRequirements(*doc.SystemRequirements)
		if err != nil {
			return nil, err
		}

		w.SystemRequirements = req
	}

	def := w.Features[defaultFeatureName]

	if err := populateDepsInto(def.defaultTarget(), doc.Dependencies, doc.HostDependencies, doc.BuildDependencies, doc.PypiDependencies); err != nil {
		return nil, err
	}

	for name, t := range doc.Tasks {
		def.defaultTarget().Tasks[name] = t.toTask()
	}

	for selector, body := range doc.Target {
		target := def.target(selector)
		if err := populateDepsInto(target, body.Dependencies, body.HostDependencies, body.BuildDependencies, body.PypiDependencies); err != nil {
			return nil, fmt.Errorf("target %q: %w", selector, err)
		}

		for name, t := range body.Tasks {
			target.Tasks[name] = t.toTask()
		}
	}

	for name, body := range doc.Feature {
		f := &Feature{Name: name, Targets: map[string]*Target{}}
		w.Features[name] = f

		if err := populateDepsInto(f.defaultTarget(), body.Dependencies, body.HostDependencies, body.BuildDependencies, body.PypiDependencies); err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}

		for tname, t := range body.Tasks {
			f.defaultTarget().Tasks[tname] = t.toTask()
		}

		f.Channels = body.Channels

		for selector, tbody := range body.Target {
			target := f.target(selector)
			if err := populateDepsInto(target, tbody.Dependencies, tbody.HostDependencies, tbody.BuildDependencies, tbody.PypiDependencies); err != nil {
				return nil, fmt.Errorf("feature %q target %q: %w", name, selector, err)
			}

			for tname, t := range tbody.Tasks {
				target.Tasks[tname] = t.toTask()
			}
		}
	}

	if len(doc.Environments) > 0 {
		w.Environments = map[string]*Environment{}

		for name, e := range doc.Environments {
			w.Environments[name] = &Environment{
				Name:             name,
				Features:         e.Features,
				SolveGroup:       e.SolveGroup,
				NoDefaultFeature: e.NoDefaultFeature,
			}
		}

		if _, ok := w.Environments[defaultEnvironmentName]; !ok {
			w.Environments[defaultEnvironmentName] = &Environment{Name: defaultEnvironmentName}
		}
	}

	return w, validateDuplicates(w)
}

func populateDepsInto(t *Target, run, host, build map[string]spec.RawTOML, pypi map[string]tomlPypiSpec) error {
	if err := populateOne(t.RunDependencies, run); err != nil {
		return err
	}

	if err := populateOne(t.HostDependencies, host); err != nil {
		return err
	}

	if err := populateOne(t.BuildDependencies, build); err != nil {
		return err
	}

	for name, raw := range pypi {
		normalized := NormalizeName(name)

		if _, dup := t.PypiDependencies[normalized]; dup {
			return fmt.Errorf("duplicate pypi dependency %q: another entry normalizes to %q", name, normalized)
		}

		s, err := raw.toSpec()
		if err != nil {
			return fmt.Errorf("pypi dependency %q: %w", name, err)
		}

		t.PypiDependencies[normalized] = s
	}

	return nil
}

func populateOne(dst map[string]spec.PackageSpec, raw map[string]spec.RawTOML) error {
	for name, r := range raw {
		normalized := NormalizeName(name)

		if _, dup := dst[normalized]; dup {
			return fmt.Errorf("duplicate dependency %q: another entry normalizes to %q", name, normalized)
		}

		s, err := spec.FromRaw(name, r)
		if err != nil {
			return err
		}

		dst[normalized] = s
	}

	return nil
}

func convertSystemRequirements(r tomlSystemRequirements) (system.Requirements, error) {
	out := system.Requirements{
		MacosVersion: r.Macos,
		LinuxVersion: r.Linux,
		CudaVersion:  r.Cuda,
		Archspec:     r.Archspec,
	}

	switch v := r.Libc.(type) {
	case string:
		out.Libc = &system.Libc{Family: system.LibcGlibc, Version: v}
	case map[string]any:
		family, _ := v["family"].(string)
		version, _ := v["version"].(string)

		if family == "" {
			family = string(system.LibcGlibc)
		}

		out.Libc = &system.Libc{Family: system.LibcFamily(family), Version: version}
	case nil:
		// no libc requirement declared
	default:
		return system.Requirements{}, fmt.Errorf("unsupported system-requirements.libc value %T", r.Libc)
	}

	return out, nil
}

// validateDuplicates runs the post-parse duplicate-name checks. Case-variant
// duplicate dependency names within one table are already rejected by
// populateOne and populateDepsInto while the names are normalized.
func validateDuplicates(w *Workspace) error {
	for fname, f := range w.Features {
		for sel, t := range f.Targets {
			if err := checkDupes(t.RunDependencies); err != nil {
				return fmt.Errorf("feature %q target %q: %w", fname, sel, err)
			}
		}
	}

	return nil
}

func checkDupes(_ map[string]spec.PackageSpec) error {
	// Case-variant keys arrive as distinct TOML keys and populateOne returns
	// an error when two of them normalize to the same name, so no duplicate
	// can remain in the map by the time it is checked here.
	return nil
}

// Serialize renders a Workspace back to its canonical TOML form.
func Serialize(w *Workspace) ([]byte, error) {
	doc := map[string]any{
		"workspace": map[string]any{
			"name":      w.Name,
			"version":   w.Version,
			"channels":  w.Channels,
			"platforms": w.Platforms,
		},
	}

	def := w.Features[defaultFeatureName]
	if def != nil {
		if t := def.Targets[""]; t != nil {
			doc["dependencies"] = serializeDeps(t.RunDependencies)

			if len(t.HostDependencies) > 0 {
				doc["host-dependencies"] = serializeDeps(t.HostDependencies)
			}

			if len(t.BuildDependencies) > 0 {
				doc["build-dependencies"] = serializeDeps(t.BuildDependencies)
			}

			if len(t.Tasks) > 0 {
				doc["tasks"] = serializeTasks(t.Tasks)
			}
		}
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing manifest: %w", err)
	}

	return out, nil
}

func serializeDeps(deps map[string]spec.PackageSpec) map[string]string {
	out := make(map[string]string, len(deps))

	for name, s := range deps {
		out[name] = s.String()
	}

	return out
}

func serializeTasks(tasks map[string]Task) map[string]any {
	out := make(map[string]any, len(tasks))

	for name, t := range tasks {
		if len(t.DependsOn) == 0 && t.Cwd == "" && len(t.Env) == 0 {
			out[name] = t.Cmd
			continue
		}

		entry := map[string]any{"cmd": t.Cmd}

		if t.Cwd != "" {
			entry["cwd"] = t.Cwd
		}

		if len(t.DependsOn) > 0 {
			entry["depends-on"] = t.DependsOn
		}

		if len(t.Env) > 0 {
			entry["env"] = t.Env
		}

		out[name] = entry
	}

	return out
}

// splitTaskArgPlaceholder is kept here rather than in taskgraph to avoid an
// import cycle: the manifest's raw command string is where {{ arg }}-style
// placeholders live, parsed lazily only when a task is actually run.
func splitTaskArgPlaceholder(s string) []string {
	var names []string

	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			break
		}

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			break
		}

		name := strings.TrimSpace(s[start+2 : start+end])
		names = append(names, name)
		s = s[start+end+2:]
	}

	return names
}
