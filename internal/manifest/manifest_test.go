package manifest

import (
	"testing"

	"github.com/bilusteknoloji/flux/internal/spec"
)

func TestParseBasicWorkspace(t *testing.T) {
	data := []byte(`
[workspace]
name = "demo"
version = "0.1.0"
channels = ["conda-forge"]
platforms = ["linux-64", "osx-arm64"]

[dependencies]
python = ">=3.10"
numpy = { version = ">=1.20", channel = "conda-forge" }

[pypi-dependencies]
requests = ">=2.0"

[tasks]
build = "make build"
test = { cmd = "pytest", depends-on = ["build"] }
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if w.Name != "demo" || w.Version != "0.1.0" {
		t.Fatalf("unexpected workspace: %+v", w)
	}

	def := w.Features[defaultFeatureName]
	target := def.defaultTarget()

	if _, ok := target.RunDependencies["python"]; !ok {
		t.Errorf("expected python dependency, got %+v", target.RunDependencies)
	}

	if _, ok := target.RunDependencies["numpy"]; !ok {
		t.Errorf("expected numpy dependency, got %+v", target.RunDependencies)
	}

	if _, ok := target.PypiDependencies["requests"]; !ok {
		t.Errorf("expected requests pypi dependency, got %+v", target.PypiDependencies)
	}

	build, ok := target.Tasks["build"]
	if !ok || build.Cmd != "make build" {
		t.Fatalf("unexpected build task: %+v", target.Tasks)
	}

	test, ok := target.Tasks["test"]
	if !ok || len(test.DependsOn) != 1 || test.DependsOn[0] != "build" {
		t.Fatalf("unexpected test task: %+v", test)
	}
}

func TestParseCaseVariantNamesNormalize(t *testing.T) {
	data := []byte(`
[workspace]
name = "demo"

[dependencies]
NumPy = "*"
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	target := w.Features[defaultFeatureName].defaultTarget()

	if _, ok := target.RunDependencies["numpy"]; !ok {
		t.Fatalf("expected normalized name 'numpy', got %+v", target.RunDependencies)
	}
}

func TestParseTargetSelector(t *testing.T) {
	data := []byte(`
[workspace]
name = "demo"

[target.linux.dependencies]
libgcc = "*"
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	target, ok := w.Features[defaultFeatureName].Targets["linux"]
	if !ok {
		t.Fatalf("expected a linux target, got %+v", w.Features[defaultFeatureName].Targets)
	}

	if _, ok := target.RunDependencies["libgcc"]; !ok {
		t.Errorf("expected libgcc dependency on linux target")
	}
}

func TestParseFeatureAndEnvironment(t *testing.T) {
	data := []byte(`
[workspace]
name = "demo"

[feature.test.dependencies]
pytest = "*"

[environments]
default = { features = [], solve-group = "default" }
test = { features = ["test"], solve-group = "default" }
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, ok := w.Features["test"]; !ok {
		t.Fatalf("expected feature 'test', got %+v", w.Features)
	}

	env, ok := w.Environments["test"]
	if !ok {
		t.Fatalf("expected environment 'test', got %+v", w.Environments)
	}

	if len(env.Features) != 1 || env.Features[0] != "test" {
		t.Errorf("unexpected environment features: %+v", env.Features)
	}
}

func TestResolveEnvironmentPrecedence(t *testing.T) {
	w := NewWorkspace("demo")

	def := w.Features[defaultFeatureName]
	def.defaultTarget().RunDependencies["zlib"] = spec.NewVersion("*")
	def.defaultTarget().HostDependencies["zlib"] = spec.NewVersion(">=1.2")

	target, err := w.ResolveEnvironment(defaultEnvironmentName, "linux-64")
	if err != nil {
		t.Fatalf("ResolveEnvironment: %v", err)
	}

	if _, ok := target.RunDependencies["zlib"]; ok {
		t.Errorf("expected zlib to be removed from run deps in favor of host, got %+v", target.RunDependencies)
	}

	if _, ok := target.HostDependencies["zlib"]; !ok {
		t.Errorf("expected zlib to remain in host deps")
	}
}

func TestSelectorMatches(t *testing.T) {
	cases := []struct {
		selector Selector
		platform string
		want     bool
	}{
		{"unix", "linux-64", true},
		{"unix", "osx-arm64", true},
		{"unix", "win-64", false},
		{"linux", "linux-64", true},
		{"win", "win-64", true},
		{"linux-64", "linux-64", true},
		{"linux-64", "linux-aarch64", false},
	}

	for _, c := range cases {
		if got := c.selector.Matches(c.platform); got != c.want {
			t.Errorf("Selector(%q).Matches(%q) = %v, want %v", c.selector, c.platform, got, c.want)
		}
	}
}

func TestSerializeRoundTripsDependencies(t *testing.T) {
	data := []byte(`
[workspace]
name = "demo"
version = "1.0.0"

[dependencies]
python = ">=3.10"

[tasks]
build = "make build"
`)

	w, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := Serialize(w)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Serialize(w)): %v\n%s", err, out)
	}

	if reparsed.Name != w.Name {
		t.Errorf("round trip lost workspace name: got %q want %q", reparsed.Name, w.Name)
	}

	target := reparsed.Features[defaultFeatureName].defaultTarget()
	if _, ok := target.RunDependencies["python"]; !ok {
		t.Errorf("round trip lost python dependency")
	}
}
