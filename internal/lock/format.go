package lock

import (
	"fmt"
	"sort"
	"strings"
)

// FormatText renders a Summary as a unified-diff-style report, one @@
// section per environment/platform with changes.
func FormatText(s Summary) string {
	if s.IsEmpty() {
		return "no package changes\n"
	}

	envNames := make([]string, 0, len(s))
	for n := range s {
		envNames = append(envNames, n)
	}

	sort.Strings(envNames)

	var b strings.Builder

	for _, envName := range envNames {
		platforms := make([]string, 0, len(s[envName]))
		for p := range s[envName] {
			platforms = append(platforms, p)
		}

		sort.Strings(platforms)

		for _, platform := range platforms {
			pd := s[envName][platform]
			if pd.IsEmpty() {
				continue
			}

			fmt.Fprintf(&b, "@@ %s (%s) @@\n", envName, platform)

			for _, p := range pd.Added {
				fmt.Fprintf(&b, "+%s %s\n", p.Name, displayVersion(p))
			}

			for _, p := range pd.Removed {
				fmt.Fprintf(&b, "-%s %s\n", p.Name, displayVersion(p))
			}

			for _, c := range pd.Changed {
				fmt.Fprintf(&b, "-%s %s\n", c.Name, displayVersion(c.Old))
				fmt.Fprintf(&b, "+%s %s\n", c.Name, displayVersion(c.New))
			}

			b.WriteString("\n")
		}
	}

	return b.String()
}

func displayVersion(p LockedPackage) string {
	if p.Kind == KindConda {
		return strings.TrimSpace(p.Version + " " + p.Build)
	}

	return p.Version
}
