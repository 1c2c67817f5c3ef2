package resolver

import "strings"

// condaToPypiName maps conda-forge package names to their PyPI project name
// where the two ecosystems disagree on naming. Entries absent from this
// table fall back to a direct normalized-name comparison in
// CondaSatisfiesPypi, which covers the common case where both ecosystems
// happen to agree (numpy, requests, click, ...).
//
// This is deliberately small and best-effort: the real package databases
// publish no canonical cross-ecosystem mapping, so conda-forge feedstocks
// and the pixi project itself maintain similar hand-curated tables rather
// than attempting to derive one.
var condaToPypiName = map[string]string{
	"pytorch":          "torch",
	"pytorch-cpu":      "torch",
	"pytorch-gpu":      "torch",
	"tensorflow":       "tensorflow",
	"pillow":           "Pillow",
	"msgpack-python":   "msgpack",
	"pyyaml":           "PyYAML",
	"beautifulsoup4":   "beautifulsoup4",
	"scikit-learn":     "scikit-learn",
	"protobuf":         "protobuf",
	"grpcio":           "grpcio",
	"python-dateutil":  "python-dateutil",
	"jupyter_core":     "jupyter-core",
	"matplotlib-base":  "matplotlib",
	"opencv":           "opencv-python",
	"py-opencv":        "opencv-python",
	"ruamel.yaml":      "ruamel.yaml",
	"typing_extensions": "typing-extensions",
}

// CondaSatisfiesPypi reports whether a resolved conda package named
// condaName already provides the PyPI project pypiName, so the PyPI solve
// does not need to (re-)install it from a wheel. Both names are compared
// after PEP 503 normalization.
func CondaSatisfiesPypi(condaName, pypiName string) bool {
	target := NormalizeName(pypiName)

	if mapped, ok := condaToPypiName[condaName]; ok {
		return NormalizeName(mapped) == target
	}

	return NormalizeName(condaName) == target
}

// FilterAlreadySatisfiedByConda removes PyPI root requirements whose project
// name is already provided by one of the resolved conda packages, returning
// the remaining requirement strings and the root names that were skipped
// (for logging — this is the §9 "conda packages already satisfy some PyPI
// roots" open question, resolved by never asking the PyPI resolver about a
// name the conda solve already settled).
func FilterAlreadySatisfiedByConda(roots []string, condaPkgs []ResolvedCondaPackage) (kept, skipped []string) {
	for _, r := range roots {
		req := ParseRequirement(r)

		satisfied := false

		for _, c := range condaPkgs {
			if CondaSatisfiesPypi(c.Name, req.Name) {
				satisfied = true

				break
			}
		}

		if satisfied {
			skipped = append(skipped, req.Name)

			continue
		}

		kept = append(kept, r)
	}

	return kept, skipped
}

// ParsePurl does a best-effort parse of a "pkg:ecosystem/name[@version]"
// purl string, as referenced by §9 for conda records that carry a `purl`
// field pointing at their PyPI equivalent. Only the ecosystem and bare name
// are extracted; qualifiers and subpaths are ignored.
func ParsePurl(purl string) (ecosystem, name string, ok bool) {
	const prefix = "pkg:"

	if !strings.HasPrefix(purl, prefix) {
		return "", "", false
	}

	rest := purl[len(prefix):]

	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", "", false
	}

	ecosystem = rest[:slash]
	name = rest[slash+1:]

	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}

	if q := strings.Index(name, "?"); q >= 0 {
		name = name[:q]
	}

	if hash := strings.Index(name, "#"); hash >= 0 {
		name = name[:hash]
	}

	return ecosystem, name, name != ""
}
