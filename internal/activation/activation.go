// Package activation computes the environment-variable delta that
// activating a prefix's activation scripts produces: run them in a real
// POSIX shell, diff the resulting environment against a clean baseline,
// and cache the result by a hash of the scripts' contents so repeated
// activations of an unchanged environment skip the subprocess entirely.
package activation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Diff is the set of environment-variable changes activation produces,
// split into plain assignments and an ordered list of PATH entries to
// prepend, so a caller can apply it either to a subprocess's environment
// or print it as POSIX export statements.
type Diff struct {
	Vars        map[string]string `json:"vars"`
	PathPrepend []string          `json:"path_prepend"`
}

// Apply returns env with d's assignments applied and its PathPrepend
// entries prepended to PATH.
func (d Diff) Apply(env []string) []string {
	out := make([]string, 0, len(env)+len(d.Vars)+1)

	pathIdx := -1

	for i, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if ok && name == "PATH" {
			pathIdx = i
		}
	}

	seen := make(map[string]bool, len(d.Vars))

	for i, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)

			continue
		}

		if i == pathIdx {
			out = append(out, "PATH="+d.prependedPath(value))

			continue
		}

		if v, overridden := d.Vars[name]; overridden {
			out = append(out, name+"="+v)
			seen[name] = true

			continue
		}

		out = append(out, kv)
	}

	if pathIdx == -1 {
		out = append(out, "PATH="+d.prependedPath(""))
	}

	names := make([]string, 0, len(d.Vars))
	for name := range d.Vars {
		if !seen[name] {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	for _, name := range names {
		out = append(out, name+"="+d.Vars[name])
	}

	return out
}

func (d Diff) prependedPath(existing string) string {
	parts := append(append([]string{}, d.PathPrepend...), nonEmpty(strings.Split(existing, string(os.PathListSeparator)))...)

	return strings.Join(parts, string(os.PathListSeparator))
}

func nonEmpty(parts []string) []string {
	out := parts[:0]

	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Run runs a prefix's activation scripts in a POSIX shell, diffs the
// resulting environment against baseEnv, and reports the delta -- the
// same strategy a real shell activator uses instead of re-implementing
// every shell's assignment and expansion rules.
func Run(ctx context.Context, prefix string, scriptPaths []string, baseEnv []string) (Diff, error) {
	before := parseEnvList(baseEnv)

	after, err := dumpEnvAfter(ctx, scriptPaths, baseEnv)
	if err != nil {
		return Diff{}, fmt.Errorf("running activation scripts: %w", err)
	}

	diff := diffEnv(before, after)

	binDir := filepath.Join(prefix, "bin")
	diff.Vars["CONDA_PREFIX"] = prefix

	alreadyOnPath := false

	for _, p := range diff.PathPrepend {
		if p == binDir {
			alreadyOnPath = true

			break
		}
	}

	if !alreadyOnPath {
		diff.PathPrepend = append([]string{binDir}, diff.PathPrepend...)
	}

	return diff, nil
}

// dumpEnvAfter parses and runs `. "<script>"` for every script path followed
// by `env`, returning the resulting environment.
func dumpEnvAfter(ctx context.Context, scriptPaths []string, baseEnv []string) (map[string]string, error) {
	var b strings.Builder

	for _, p := range scriptPaths {
		fmt.Fprintf(&b, ". %q\n", p)
	}

	b.WriteString("env\n")

	file, err := syntax.NewParser().Parse(strings.NewReader(b.String()), "activation")
	if err != nil {
		return nil, fmt.Errorf("parsing activation scripts: %w", err)
	}

	var out bytes.Buffer

	runner, err := interp.New(
		interp.StdIO(nil, &out, &out),
		interp.Env(expand.ListEnviron(baseEnv...)),
	)
	if err != nil {
		return nil, fmt.Errorf("building activation shell: %w", err)
	}

	if err := runner.Run(ctx, file); err != nil {
		return nil, err
	}

	return parseEnvList(strings.Split(strings.TrimRight(out.String(), "\n"), "\n")), nil
}

func parseEnvList(list []string) map[string]string {
	m := make(map[string]string, len(list))

	for _, kv := range list {
		if name, value, ok := strings.Cut(kv, "="); ok {
			m[name] = value
		}
	}

	return m
}

func diffEnv(before, after map[string]string) Diff {
	diff := Diff{Vars: map[string]string{}}

	for name, value := range after {
		if before[name] == value {
			continue
		}

		if name == "PATH" {
			diff.PathPrepend = newPathEntries(before[name], value)

			continue
		}

		diff.Vars[name] = value
	}

	return diff
}

// newPathEntries returns the PATH entries present in after but absent
// from before, in after's order.
func newPathEntries(before, after string) []string {
	sep := string(os.PathListSeparator)

	beforeSet := make(map[string]bool)
	for _, p := range strings.Split(before, sep) {
		beforeSet[p] = true
	}

	var added []string

	for _, p := range strings.Split(after, sep) {
		if p != "" && !beforeSet[p] {
			added = append(added, p)
		}
	}

	return added
}

// Cache persists a Diff keyed by the content hash of (prefix, scripts), so
// unchanged activation scripts never re-pay the subprocess cost.
type Cache struct {
	dir string
}

// NewCache opens a cache rooted at dir (created if absent).
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating activation cache %s: %w", dir, err)
	}

	return &Cache{dir: dir}, nil
}

// Key hashes a prefix path together with every script's contents, so a
// cache entry is invalidated the moment any activation script changes.
func Key(prefix string, scriptPaths []string) (string, error) {
	h := sha256.New()
	_, _ = h.Write([]byte(prefix))

	for _, p := range scriptPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("hashing activation script %s: %w", p, err)
		}

		_, _ = h.Write([]byte(p))
		_, _ = h.Write(data)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached Diff for key, if present.
func (c *Cache) Get(key string) (Diff, bool) {
	data, err := os.ReadFile(filepath.Join(c.dir, key+".json"))
	if err != nil {
		return Diff{}, false
	}

	var diff Diff
	if json.Unmarshal(data, &diff) != nil {
		return Diff{}, false
	}

	return diff, true
}

// Put stores diff under key.
func (c *Cache) Put(key string, diff Diff) error {
	data, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding activation diff: %w", err)
	}

	return os.WriteFile(filepath.Join(c.dir, key+".json"), data, 0o644)
}

// RunCached is Run with Cache lookup/population around it.
func RunCached(ctx context.Context, cache *Cache, prefix string, scriptPaths []string, baseEnv []string) (Diff, error) {
	key, err := Key(prefix, scriptPaths)
	if err != nil {
		return Diff{}, err
	}

	if cache != nil {
		if diff, ok := cache.Get(key); ok {
			return diff, nil
		}
	}

	diff, err := Run(ctx, prefix, scriptPaths, baseEnv)
	if err != nil {
		return Diff{}, err
	}

	if cache != nil {
		_ = cache.Put(key, diff)
	}

	return diff, nil
}
