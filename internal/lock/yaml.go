package lock

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// yamlDoc mirrors the v6 on-disk lock file shape: a flat per-platform
// package list under each environment, each entry carrying either a
// "conda:" or "pypi:" key.
type yamlDoc struct {
	Version      int                          `yaml:"version"`
	Environments map[string]yamlEnvironment   `yaml:"environments"`
	Packages     []yamlPackage                `yaml:"packages"`
}

type yamlEnvironment struct {
	Channels []string                     `yaml:"channels"`
	Packages map[string][]yamlPackageRef  `yaml:"packages"` // platform -> ordered refs
}

type yamlPackageRef struct {
	Conda string `yaml:"conda,omitempty"`
	Pypi  string `yaml:"pypi,omitempty"`
}

type yamlPackage struct {
	Conda string `yaml:"conda,omitempty"`
	Pypi  string `yaml:"pypi,omitempty"`

	Name       string   `yaml:"name,omitempty"`
	Version    string   `yaml:"version,omitempty"`
	Build      string   `yaml:"build,omitempty"`
	Subdir     string   `yaml:"subdir,omitempty"`
	Depends    []string `yaml:"depends,omitempty"`
	Constrains []string `yaml:"constrains,omitempty"`
	Size       int64    `yaml:"size,omitempty"`
	Sha256     string   `yaml:"sha256,omitempty"`
	Md5        string   `yaml:"md5,omitempty"`
	Timestamp  int64    `yaml:"timestamp,omitempty"`

	RequiresPython string            `yaml:"requires_python,omitempty"`
	RequiresDist   []string          `yaml:"requires_dist,omitempty"`
	Extras         []string          `yaml:"extras,omitempty"`
	Editable       bool              `yaml:"editable,omitempty"`
	Hashes         map[string]string `yaml:"hashes,omitempty"`
}

// key returns the (kind, location) identity used to dedupe the flat
// packages list against per-platform refs.
func (p yamlPackage) key() string {
	if p.Conda != "" {
		return "conda:" + p.Conda
	}

	return "pypi:" + p.Pypi
}

// Marshal renders a LockFile to its canonical v6 YAML form.
func Marshal(lf *LockFile) ([]byte, error) {
	doc := yamlDoc{
		Version:      currentVersion,
		Environments: map[string]yamlEnvironment{},
	}

	seen := map[string]bool{}

	envNames := sortedKeys(lf.Environments)
	for _, envName := range envNames {
		env := lf.Environments[envName]

		ye := yamlEnvironment{Channels: lf.Channels, Packages: map[string][]yamlPackageRef{}}

		platforms := sortedKeys(env.Platforms)
		for _, platform := range platforms {
			p := env.Platforms[platform]

			refs := make([]yamlPackageRef, 0, len(p.Packages))

			for _, pkg := range p.Packages {
				yp := toYAMLPackage(pkg)

				if !seen[yp.key()] {
					doc.Packages = append(doc.Packages, yp)
					seen[yp.key()] = true
				}

				if pkg.Kind == KindConda {
					refs = append(refs, yamlPackageRef{Conda: yp.Conda})
				} else {
					refs = append(refs, yamlPackageRef{Pypi: yp.Pypi})
				}
			}

			ye.Packages[platform] = refs
		}

		doc.Environments[envName] = ye
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling lock file: %w", err)
	}

	return out, nil
}

func toYAMLPackage(pkg LockedPackage) yamlPackage {
	if pkg.Kind == KindConda {
		return yamlPackage{
			Conda:      pkg.URL,
			Name:       pkg.Name,
			Version:    pkg.Version,
			Build:      pkg.Build,
			Subdir:     pkg.Subdir,
			Depends:    pkg.Depends,
			Constrains: pkg.Constrains,
			Size:       pkg.Size,
			Sha256:     pkg.SHA256,
			Md5:        pkg.MD5,
			Timestamp:  pkg.Timestamp,
		}
	}

	return yamlPackage{
		Pypi:           pkg.Location,
		Name:           pkg.Name,
		Version:        pkg.Version,
		RequiresPython: pkg.RequiresPython,
		RequiresDist:   pkg.RequiresDist,
		Extras:         pkg.Extras,
		Editable:       pkg.Editable,
		Hashes:         pkg.PypiHashes,
	}
}

// Unmarshal parses a v6 lock file document.
func Unmarshal(data []byte) (*LockFile, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}

	byKey := make(map[string]yamlPackage, len(doc.Packages))
	for _, p := range doc.Packages {
		byKey[p.key()] = p
	}

	lf := &LockFile{
		Version:      doc.Version,
		Environments: map[string]*Environment{},
	}

	for envName, ye := range doc.Environments {
		if lf.Channels == nil {
			lf.Channels = ye.Channels
		}

		env := &Environment{Platforms: map[string]*Platform{}}

		for platform, refs := range ye.Packages {
			pl := &Platform{}

			for _, ref := range refs {
				var key string
				if ref.Conda != "" {
					key = "conda:" + ref.Conda
				} else {
					key = "pypi:" + ref.Pypi
				}

				yp, ok := byKey[key]
				if !ok {
					return nil, fmt.Errorf("environment %q platform %q: dangling package reference %q", envName, platform, key)
				}

				pl.Packages = append(pl.Packages, fromYAMLPackage(yp))
			}

			env.Platforms[platform] = pl
		}

		lf.Environments[envName] = env
	}

	return lf, nil
}

func fromYAMLPackage(p yamlPackage) LockedPackage {
	if p.Conda != "" {
		return LockedPackage{
			Kind:       KindConda,
			Name:       p.Name,
			Version:    p.Version,
			Build:      p.Build,
			Subdir:     p.Subdir,
			Depends:    p.Depends,
			Constrains: p.Constrains,
			Size:       p.Size,
			SHA256:     p.Sha256,
			MD5:        p.Md5,
			URL:        p.Conda,
			Timestamp:  p.Timestamp,
		}
	}

	return LockedPackage{
		Kind:           KindPypi,
		Name:           p.Name,
		Version:        p.Version,
		Location:       p.Pypi,
		RequiresPython: p.RequiresPython,
		RequiresDist:   p.RequiresDist,
		Extras:         p.Extras,
		Editable:       p.Editable,
		PypiHashes:     p.Hashes,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
