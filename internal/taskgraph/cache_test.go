package taskgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bilusteknoloji/flux/internal/manifest"
)

func TestArgsHashIsDeterministicAndOrderIndependent(t *testing.T) {
	a := ArgValues{Kind: ArgBound, Bound: map[string]string{"x": "1", "y": "2"}}
	b := ArgValues{Kind: ArgBound, Bound: map[string]string{"y": "2", "x": "1"}}

	if ArgsHash(a) != ArgsHash(b) {
		t.Error("ArgsHash should be insensitive to map iteration order")
	}

	c := ArgValues{Kind: ArgBound, Bound: map[string]string{"x": "1", "y": "3"}}
	if ArgsHash(a) == ArgsHash(c) {
		t.Error("ArgsHash should differ for different bound values")
	}
}

func TestCombinedHashChangesWithInputFileContent(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	n := Node{
		TaskName: "build",
		Task:     manifest.Task{Cmd: "make build", Inputs: []string{"in.txt"}},
		Args:     ArgValues{Kind: ArgBound, Bound: map[string]string{}},
	}

	h1, err := CombinedHash(n, dir, "lock-abc")
	if err != nil {
		t.Fatalf("CombinedHash: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	h2, err := CombinedHash(n, dir, "lock-abc")
	if err != nil {
		t.Fatalf("CombinedHash: %v", err)
	}

	if h1 == h2 {
		t.Error("CombinedHash should change when input file content changes")
	}
}

func TestCombinedHashChangesWithLockHash(t *testing.T) {
	dir := t.TempDir()

	n := Node{
		TaskName: "build",
		Task:     manifest.Task{Cmd: "make build"},
		Args:     ArgValues{Kind: ArgBound, Bound: map[string]string{}},
	}

	h1, err := CombinedHash(n, dir, "lock-a")
	if err != nil {
		t.Fatalf("CombinedHash: %v", err)
	}

	h2, err := CombinedHash(n, dir, "lock-b")
	if err != nil {
		t.Fatalf("CombinedHash: %v", err)
	}

	if h1 == h2 {
		t.Error("CombinedHash should change when lock hash changes")
	}
}

func TestSaveAndLoadCacheEntryRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.json")

	if err := SaveCacheEntry(path, CacheEntry{CombinedHash: "deadbeef"}); err != nil {
		t.Fatalf("SaveCacheEntry: %v", err)
	}

	entry, err := LoadCacheEntry(path)
	if err != nil {
		t.Fatalf("LoadCacheEntry: %v", err)
	}

	if entry == nil || entry.CombinedHash != "deadbeef" {
		t.Errorf("LoadCacheEntry = %+v, want CombinedHash=deadbeef", entry)
	}
}

func TestLoadCacheEntryMissingReturnsNil(t *testing.T) {
	entry, err := LoadCacheEntry(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadCacheEntry: %v", err)
	}

	if entry != nil {
		t.Errorf("expected nil entry for missing file, got %+v", entry)
	}
}

func TestCacheKeyFileName(t *testing.T) {
	k := CacheKey{Environment: "default", TaskName: "build", ArgsHash: "abc123"}

	got := k.FileName()
	want := "default-build-abc123.json"

	if got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}
}
