// Package condarepo fetches and parses conda-style channel repodata: the
// per-(channel,subdir) package index the binary ecosystem half of the
// resolver matches matchspecs against.
package condarepo

// Repodata is one channel+subdir's package index, as served at
// "<channel>/<subdir>/repodata.json".
type Repodata struct {
	Info     RepodataInfo        `json:"info"`
	Packages map[string]Record   `json:"packages"`      // legacy .tar.bz2 records
	Conda    map[string]Record   `json:"packages.conda"` // .conda records
}

// RepodataInfo carries the subdir this index describes.
type RepodataInfo struct {
	Subdir string `json:"subdir"`
}

// Record is a single package build's metadata, keyed by filename
// ("numpy-1.26.0-py312h_0.conda") in the Repodata maps.
type Record struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Build      string   `json:"build"`
	BuildNumber int64    `json:"build_number"`
	Depends    []string `json:"depends"`
	Constrains []string `json:"constrains"`
	Size       int64    `json:"size"`
	SHA256     string   `json:"sha256"`
	MD5        string   `json:"md5"`
	Subdir     string   `json:"subdir"`
	Timestamp  int64    `json:"timestamp"`
	License    string   `json:"license"`
}
