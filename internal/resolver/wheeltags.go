package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bilusteknoloji/flux/internal/downloader"
)

// BuildCompatTags generates PEP 425 compatible wheel tags ordered by
// priority for a given (python version, platform) pair, independent of any
// single host: the caller derives pythonVersion/platformTag per-environment
// (typically from the conda-resolved cpython build for that environment)
// rather than from the invoking machine's own interpreter.
func BuildCompatTags(pythonVersion, platformTag string) []downloader.WheelTag {
	platform := wheelPlatform(platformTag)
	cp := "cp" + pythonVersion
	pyMajor := "py" + pythonVersion[:1]

	var tags []downloader.WheelTag

	platforms := ExpandPlatform(platform)

	for _, plat := range platforms {
		tags = append(tags, downloader.WheelTag{Python: cp, ABI: cp, Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, downloader.WheelTag{Python: cp, ABI: "abi3", Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, downloader.WheelTag{Python: cp, ABI: "none", Platform: plat})
	}

	for _, plat := range platforms {
		tags = append(tags, downloader.WheelTag{Python: pyMajor, ABI: "none", Platform: plat})
	}

	tags = append(tags, downloader.WheelTag{Python: cp, ABI: "none", Platform: "any"})
	tags = append(tags, downloader.WheelTag{Python: pyMajor, ABI: "none", Platform: "any"})

	return tags
}

// ExtractInterpreter scans a conda solve's resolved packages for the
// interpreter package (cpython under the "python" name, or pypy) and
// derives the compact "311"-style version BuildCompatTags expects, so the
// orchestrator can derive wheel tags from what was actually resolved for an
// environment instead of the invoking host's own interpreter.
func ExtractInterpreter(condaPkgs []ResolvedCondaPackage) (pythonVersion string, ok bool) {
	for _, p := range condaPkgs {
		if p.Name != "python" && p.Name != "pypy" && p.Name != "pypy3" {
			continue
		}

		v := majorMinorDigits(p.Version)
		if v == "" {
			continue
		}

		return v, true
	}

	return "", false
}

// majorMinorDigits compacts a dotted version's first two components into
// BuildCompatTags' "cp311"-style digit string; it returns "" if version
// doesn't have at least two numeric components.
func majorMinorDigits(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return ""
	}

	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])

	if err1 != nil || err2 != nil {
		return ""
	}

	return fmt.Sprintf("%d%d", major, minor)
}

// ExpandPlatform expands a wheel platform tag into a priority-ordered list
// including manylinux variants (Linux) and lower macOS version variants.
func ExpandPlatform(platform string) []string {
	platforms := []string{platform}

	if strings.HasPrefix(platform, "linux_") {
		arch := strings.TrimPrefix(platform, "linux_")

		for _, ml := range []string{
			"manylinux_2_35", "manylinux_2_34", "manylinux_2_31",
			"manylinux_2_28", "manylinux_2_17", "manylinux2014",
		} {
			platforms = append(platforms, ml+"_"+arch)
		}
	}

	if strings.HasPrefix(platform, "macosx_") {
		parts := strings.SplitN(platform, "_", 4)
		if len(parts) == 4 {
			arch := parts[3]
			major, _ := strconv.Atoi(parts[1])

			platforms = append(platforms,
				fmt.Sprintf("macosx_%s_%s_universal2", parts[1], parts[2]),
			)

			minMajor := 10
			if arch == "arm64" {
				minMajor = 11
			}

			for v := major - 1; v >= minMajor; v-- {
				minor := "0"
				if v == 10 {
					minor = "9"
				}

				platforms = append(platforms,
					fmt.Sprintf("macosx_%d_%s_%s", v, minor, arch),
					fmt.Sprintf("macosx_%d_%s_universal2", v, minor),
				)
			}
		}
	}

	return platforms
}

// wheelPlatform converts a conda-style subdir or sysconfig platform tag to
// wheel format: "linux-64" -> "linux_x86_64", "osx-arm64" -> "macosx_11_0_arm64".
func wheelPlatform(tag string) string {
	if mapped, ok := condaSubdirToWheelPlatform[tag]; ok {
		return mapped
	}

	s := strings.ReplaceAll(tag, "-", "_")

	return strings.ReplaceAll(s, ".", "_")
}

// condaSubdirToWheelPlatform maps the conda-style subdir identifiers used
// throughout the manifest/lock file to their nearest wheel-platform-tag
// equivalent, since the two ecosystems' platform naming schemes diverge.
var condaSubdirToWheelPlatform = map[string]string{
	"linux-64":      "linux_x86_64",
	"linux-aarch64": "linux_aarch64",
	"linux-ppc64le": "linux_ppc64le",
	"osx-64":        "macosx_10_9_x86_64",
	"osx-arm64":     "macosx_11_0_arm64",
	"win-64":        "win_amd64",
	"win-arm64":     "win_arm64",
}
