package installer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bilusteknoloji/flux/internal/lock"
)

// CondaMetaRecord is the installed-state record this implementation writes
// to <prefix>/conda-meta/<name>-<version>-<build>.json for every linked
// conda-style package — the conda ecosystem's equivalent of a dist-info
// RECORD, read back to compute future transaction diffs.
type CondaMetaRecord struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Build   string   `json:"build"`
	Channel string   `json:"channel"`
	Subdir  string   `json:"subdir"`
	SHA256  string   `json:"sha256,omitempty"`
	MD5     string   `json:"md5,omitempty"`
	Depends []string `json:"depends,omitempty"`
	Files   []string `json:"files"`
}

func condaMetaDir(prefix string) string {
	return filepath.Join(prefix, "conda-meta")
}

func condaMetaFilename(name, version, build string) string {
	return fmt.Sprintf("%s-%s-%s.json", name, version, build)
}

// WriteCondaMeta records an installed conda package so future plans can
// diff against it.
func WriteCondaMeta(prefix string, rec CondaMetaRecord) error {
	dir := condaMetaDir(prefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating conda-meta: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conda-meta record for %s: %w", rec.Name, err)
	}

	path := filepath.Join(dir, condaMetaFilename(rec.Name, rec.Version, rec.Build))

	return os.WriteFile(path, data, 0o644)
}

// ReadCondaMetaRecords lists every conda-meta record in a prefix, the
// installed-state half of the conda transaction diff.
func ReadCondaMetaRecords(prefix string) ([]CondaMetaRecord, error) {
	dir := condaMetaDir(prefix)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var records []CondaMetaRecord

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		var rec CondaMetaRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	return records, nil
}

// RemoveCondaMeta deletes every file a conda-meta record tracked, plus the
// record itself, so an unlink leaves no trace in the prefix.
func RemoveCondaMeta(prefix string, rec CondaMetaRecord) error {
	for _, f := range rec.Files {
		path := filepath.Join(prefix, f)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	metaPath := filepath.Join(condaMetaDir(prefix), condaMetaFilename(rec.Name, rec.Version, rec.Build))

	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing conda-meta record for %s: %w", rec.Name, err)
	}

	return nil
}

// CondaMetaFromLocked builds the record that will be written for a resolved
// conda package once its archive has been extracted into the prefix.
func CondaMetaFromLocked(p lock.LockedPackage, files []string) CondaMetaRecord {
	channel := p.URL
	if idx := strings.LastIndex(channel, "/"+p.Subdir+"/"); idx >= 0 {
		channel = channel[:idx]
	}

	return CondaMetaRecord{
		Name:    p.Name,
		Version: p.Version,
		Build:   p.Build,
		Channel: channel,
		Subdir:  p.Subdir,
		SHA256:  p.SHA256,
		MD5:     p.MD5,
		Depends: p.Depends,
		Files:   files,
	}
}
