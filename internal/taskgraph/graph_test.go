package taskgraph

import (
	"testing"

	"github.com/bilusteknoloji/flux/internal/manifest"
)

func tasks() map[string]manifest.Task {
	return map[string]manifest.Task{
		"build": {Cmd: "make build", DependsOn: []string{"generate"}},
		"generate": {Cmd: "make generate", DependsOn: []string{"fetch-deps"}},
		"fetch-deps": {Cmd: "make deps"},
		"test": {Cmd: "make test", DependsOn: []string{"build"}},
	}
}

func TestBuildOrdersDependenciesBeforeDependents(t *testing.T) {
	g, err := Build(tasks(), "test", ArgValues{Kind: ArgBound})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n.TaskName] = i
	}

	if pos["fetch-deps"] >= pos["generate"] {
		t.Errorf("fetch-deps must come before generate: %v", pos)
	}

	if pos["generate"] >= pos["build"] {
		t.Errorf("generate must come before build: %v", pos)
	}

	if pos["build"] >= pos["test"] {
		t.Errorf("build must come before test: %v", pos)
	}

	if len(order) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(order))
	}
}

func TestBuildOnlyIncludesReachableTasks(t *testing.T) {
	g, err := Build(tasks(), "fetch-deps", ArgValues{Kind: ArgBound})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}

	if len(order) != 1 {
		t.Fatalf("expected 1 node, got %d: %v", len(order), order)
	}

	if order[0].TaskName != "fetch-deps" {
		t.Errorf("expected fetch-deps, got %s", order[0].TaskName)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	cyclic := map[string]manifest.Task{
		"a": {Cmd: "echo a", DependsOn: []string{"b"}},
		"b": {Cmd: "echo b", DependsOn: []string{"c"}},
		"c": {Cmd: "echo c", DependsOn: []string{"a"}},
	}

	_, err := Build(cyclic, "a", ArgValues{Kind: ArgBound})
	if err == nil {
		t.Fatal("expected a cycle error, got nil")
	}

	var cycleErr *TaskCycle
	if !asTaskCycle(err, &cycleErr) {
		t.Fatalf("expected *TaskCycle, got %T: %v", err, err)
	}
}

func asTaskCycle(err error, target **TaskCycle) bool {
	tc, ok := err.(*TaskCycle)
	if !ok {
		return false
	}

	*target = tc

	return true
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	broken := map[string]manifest.Task{
		"a": {Cmd: "echo a", DependsOn: []string{"missing"}},
	}

	_, err := Build(broken, "a", ArgValues{Kind: ArgBound})
	if err == nil {
		t.Fatal("expected an error for unknown task, got nil")
	}
}

func TestSuggestTaskNameFindsCloseMatch(t *testing.T) {
	got := SuggestTaskName(tasks(), "buid")
	if got != "build" {
		t.Errorf("SuggestTaskName(%q) = %q, want build", "buid", got)
	}
}

func TestSuggestTaskNameReturnsEmptyWhenTooFar(t *testing.T) {
	got := SuggestTaskName(tasks(), "xyzxyzxyz")
	if got != "" {
		t.Errorf("SuggestTaskName(%q) = %q, want empty", "xyzxyzxyz", got)
	}
}
