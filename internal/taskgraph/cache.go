package taskgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// CacheKey identifies one cached task execution: (environment, task,
// args-hash). Value is a combined hash over the resolved command, input
// glob file contents, output glob file contents, and the environment's lock
// hash, so any of those changing invalidates the cache entry.
type CacheKey struct {
	Environment string
	TaskName    string
	ArgsHash    string
}

// FileName returns the on-disk cache entry name for this key.
func (k CacheKey) FileName() string {
	return fmt.Sprintf("%s-%s-%s.json", k.Environment, k.TaskName, k.ArgsHash)
}

// CacheEntry is the persisted value for one CacheKey.
type CacheEntry struct {
	CombinedHash string `json:"combined_hash"`
}

// ArgsHash deterministically hashes a node's bound/free-form arguments.
func ArgsHash(args ArgValues) string {
	h := sha256.New()

	switch args.Kind {
	case ArgBound:
		keys := make([]string, 0, len(args.Bound))
		for k := range args.Bound {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(h, "%s=%s;", k, args.Bound[k])
		}
	case ArgFreeForm:
		for _, a := range args.FreeForm {
			fmt.Fprintf(h, "%s;", a)
		}
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// CombinedHash mixes the resolved command string, the hashes of every file
// matched by the task's input globs, the hashes of every file matched by
// its output globs, and the environment's lock-file hash, rooted at dir.
func CombinedHash(n Node, dir, lockHash string) (string, error) {
	h := sha256.New()

	fmt.Fprintf(h, "cmd:%s\n", ComposeCommand(n))
	fmt.Fprintf(h, "lock:%s\n", lockHash)

	if err := hashGlobs(h, dir, "in", n.Task.Inputs); err != nil {
		return "", err
	}

	if err := hashGlobs(h, dir, "out", n.Task.Outputs); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashGlobs(h interface{ Write([]byte) (int, error) }, dir, label string, globs []string) error {
	var files []string

	for _, g := range globs {
		matches, err := doublestar.Glob(os.DirFS(dir), g)
		if err != nil {
			return fmt.Errorf("expanding glob %q: %w", g, err)
		}

		files = append(files, matches...)
	}

	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(dir + string(os.PathSeparator) + f)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(h, "%s:%s:missing\n", label, f)
				continue
			}

			return fmt.Errorf("reading %s for cache key: %w", f, err)
		}

		sum := sha256.Sum256(data)
		fmt.Fprintf(h, "%s:%s:%s\n", label, f, hex.EncodeToString(sum[:]))
	}

	return nil
}

// LoadCacheEntry reads a cache entry from path, returning (nil, nil) if
// absent.
func LoadCacheEntry(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading cache entry %s: %w", path, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cache entry %s: %w", path, err)
	}

	return &entry, nil
}

// SaveCacheEntry writes a cache entry to path.
func SaveCacheEntry(path string, entry CacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", path, err)
	}

	return nil
}
