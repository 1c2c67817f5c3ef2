package lock

import "sort"

// Change records a same-(kind,name) package whose identity differs between
// two lock files.
type Change struct {
	Name string
	Kind Kind
	Old  LockedPackage
	New  LockedPackage
}

// PlatformDiff is the added/removed/changed partition for one platform.
type PlatformDiff struct {
	Added   []LockedPackage
	Removed []LockedPackage
	Changed []Change
}

// IsEmpty reports whether this platform has no differences.
func (d PlatformDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// EnvironmentDiff maps platform name to its diff.
type EnvironmentDiff map[string]PlatformDiff

// Summary is the full structural diff between two lock files.
type Summary map[string]EnvironmentDiff

// IsEmpty reports whether every environment/platform is unchanged; this is
// the `diff(L, L) == empty` invariant a lock file must satisfy against
// itself.
func (s Summary) IsEmpty() bool {
	for _, env := range s {
		for _, pd := range env {
			if !pd.IsEmpty() {
				return false
			}
		}
	}

	return true
}

// Diff computes, for every environment name present in either side and
// every platform present in either side, the partition of packages into
// added/removed/changed. Conda and PyPI packages are diffed separately and
// never cross-promoted: a name that moves ecosystem looks like one removed
// and one added.
func Diff(old, new *LockFile) Summary {
	summary := Summary{}

	for _, envName := range unionEnvNames(old, new) {
		oldEnv := envOrNil(old, envName)
		newEnv := envOrNil(new, envName)

		envDiff := EnvironmentDiff{}

		for _, platform := range unionPlatformNames(oldEnv, newEnv) {
			oldPkgs := platformPackages(oldEnv, platform)
			newPkgs := platformPackages(newEnv, platform)

			envDiff[platform] = diffPlatform(oldPkgs, newPkgs)
		}

		summary[envName] = envDiff
	}

	return summary
}

func diffPlatform(oldPkgs, newPkgs []LockedPackage) PlatformDiff {
	type key struct {
		kind Kind
		name string
	}

	oldByKey := make(map[key]LockedPackage, len(oldPkgs))
	for _, p := range oldPkgs {
		oldByKey[key{p.Kind, p.Name}] = p
	}

	newByKey := make(map[key]LockedPackage, len(newPkgs))
	for _, p := range newPkgs {
		newByKey[key{p.Kind, p.Name}] = p
	}

	var diff PlatformDiff

	for k, oldPkg := range oldByKey {
		newPkg, ok := newByKey[k]
		if !ok {
			diff.Removed = append(diff.Removed, oldPkg)
			continue
		}

		if oldPkg.Identity() != newPkg.Identity() {
			diff.Changed = append(diff.Changed, Change{Name: k.name, Kind: k.kind, Old: oldPkg, New: newPkg})
		}
	}

	for k, newPkg := range newByKey {
		if _, ok := oldByKey[k]; !ok {
			diff.Added = append(diff.Added, newPkg)
		}
	}

	SortPackages(diff.Added)
	SortPackages(diff.Removed)

	sort.SliceStable(diff.Changed, func(i, j int) bool {
		if diff.Changed[i].Name != diff.Changed[j].Name {
			return diff.Changed[i].Name < diff.Changed[j].Name
		}

		return diff.Changed[i].Kind < diff.Changed[j].Kind
	})

	return diff
}

func envOrNil(lf *LockFile, name string) *Environment {
	if lf == nil {
		return nil
	}

	return lf.Environments[name]
}

func unionEnvNames(old, new *LockFile) []string {
	seen := map[string]bool{}

	var names []string

	if old != nil {
		for n := range old.Environments {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	if new != nil {
		for n := range new.Environments {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	sort.Strings(names)

	return names
}

func unionPlatformNames(old, new *Environment) []string {
	seen := map[string]bool{}

	var names []string

	if old != nil {
		for n := range old.Platforms {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	if new != nil {
		for n := range new.Platforms {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	sort.Strings(names)

	return names
}

func platformPackages(env *Environment, platform string) []LockedPackage {
	if env == nil {
		return nil
	}

	p, ok := env.Platforms[platform]
	if !ok || p == nil {
		return nil
	}

	return p.Packages
}
