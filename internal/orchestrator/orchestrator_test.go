package orchestrator_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/bilusteknoloji/flux/internal/condarepo"
	"github.com/bilusteknoloji/flux/internal/lock"
	"github.com/bilusteknoloji/flux/internal/manifest"
	"github.com/bilusteknoloji/flux/internal/orchestrator"
	"github.com/bilusteknoloji/flux/internal/pypi"
	"github.com/bilusteknoloji/flux/internal/spec"
)

type fakeCondaClient struct {
	records map[string][]condarepo.NamedRecord
}

func (f *fakeCondaClient) FetchRepodata(ctx context.Context, channel, subdir string) (*condarepo.Repodata, error) {
	return nil, nil
}

func (f *fakeCondaClient) Candidates(ctx context.Context, channel, subdir, name string) ([]condarepo.NamedRecord, error) {
	return f.records[channel+"/"+subdir+"/"+name], nil
}

func newFakeCondaClient() *fakeCondaClient {
	return &fakeCondaClient{
		records: map[string][]condarepo.NamedRecord{
			"conda-forge/linux-64/python": {
				{
					Filename: "python-3.11.5-h1.conda",
					Record:   condarepo.Record{Name: "python", Version: "3.11.5", Build: "h1"},
				},
			},
		},
	}
}

type fakePypiClient struct {
	packages map[string]*pypi.PackageInfo
}

func (f *fakePypiClient) GetPackage(_ context.Context, name string) (*pypi.PackageInfo, error) {
	info, ok := f.packages[name]
	if !ok {
		return nil, fmt.Errorf("package not found: %s", name)
	}

	return info, nil
}

func (f *fakePypiClient) GetPackageVersion(ctx context.Context, name, version string) (*pypi.PackageInfo, error) {
	return f.GetPackage(ctx, name)
}

func newFakePypiClient() *fakePypiClient {
	return &fakePypiClient{
		packages: map[string]*pypi.PackageInfo{
			"requests": {
				Info: pypi.Info{Name: "requests", Version: "2.31.0"},
				Releases: map[string][]pypi.URL{
					"2.31.0": {{Filename: "requests-2.31.0-py3-none-any.whl"}},
				},
			},
		},
	}
}

func testWorkspace() *manifest.Workspace {
	ws := manifest.NewWorkspace("demo")
	ws.Channels = []string{"conda-forge"}
	ws.Platforms = []string{"linux-64"}

	ws.Features["default"].Targets[""] = &manifest.Target{
		RunDependencies: map[string]spec.PackageSpec{
			"python": spec.NewVersion("*"),
		},
		PypiDependencies: map[string]manifest.PypiSpec{
			"requests": {Version: "==2.31.0"},
		},
	}

	return ws
}

func TestSolveProducesCombinedCondaAndPypiLock(t *testing.T) {
	solver := orchestrator.New(newFakeCondaClient(), newFakePypiClient())

	lf, err := solver.Solve(context.Background(), testWorkspace(), nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	env, ok := lf.Environments["default"]
	if !ok {
		t.Fatal("expected a default environment in the lock file")
	}

	platform, ok := env.Platforms["linux-64"]
	if !ok {
		t.Fatal("expected a linux-64 platform in the lock file")
	}

	var sawConda, sawPypi bool

	for _, p := range platform.Packages {
		switch {
		case p.Kind == lock.KindConda && p.Name == "python":
			sawConda = true
		case p.Kind == lock.KindPypi && p.Name == "requests":
			sawPypi = true
		}
	}

	if !sawConda {
		t.Error("expected python to be locked as a conda package")
	}

	if !sawPypi {
		t.Error("expected requests to be locked as a pypi package")
	}
}

func TestSolveRespectsExplicitEnvironmentList(t *testing.T) {
	ws := testWorkspace()
	ws.Environments["extra"] = &manifest.Environment{Name: "extra", Features: []string{}}

	solver := orchestrator.New(newFakeCondaClient(), newFakePypiClient())

	lf, err := solver.Solve(context.Background(), ws, []string{"default"})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	if _, ok := lf.Environments["extra"]; ok {
		t.Error("expected 'extra' to be excluded when envNames is explicit")
	}

	if _, ok := lf.Environments["default"]; !ok {
		t.Error("expected 'default' to be solved")
	}
}

func TestSolveFailsOnUnresolvableConstraint(t *testing.T) {
	ws := manifest.NewWorkspace("demo")
	ws.Channels = []string{"conda-forge"}
	ws.Platforms = []string{"linux-64"}
	ws.Features["default"].Targets[""] = &manifest.Target{
		RunDependencies: map[string]spec.PackageSpec{
			"python": spec.NewVersion(">=99"),
		},
	}

	solver := orchestrator.New(newFakeCondaClient(), newFakePypiClient())

	if _, err := solver.Solve(context.Background(), ws, nil); err == nil {
		t.Fatal("expected an error when no candidate satisfies the constraint")
	}
}
