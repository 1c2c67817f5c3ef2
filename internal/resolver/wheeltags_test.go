package resolver

import (
	"strings"
	"testing"
)

func TestWheelPlatformMapsCondaSubdirs(t *testing.T) {
	cases := map[string]string{
		"linux-64":  "linux_x86_64",
		"osx-arm64": "macosx_11_0_arm64",
		"win-64":    "win_amd64",
	}

	for subdir, want := range cases {
		if got := wheelPlatform(subdir); got != want {
			t.Errorf("wheelPlatform(%q) = %q, want %q", subdir, got, want)
		}
	}
}

func TestWheelPlatformFallsBackForUnknownTag(t *testing.T) {
	got := wheelPlatform("some.weird-tag")
	want := "some_weird_tag"

	if got != want {
		t.Errorf("wheelPlatform(%q) = %q, want %q", "some.weird-tag", got, want)
	}
}

func TestExpandPlatformIncludesManylinuxVariants(t *testing.T) {
	platforms := ExpandPlatform("linux_x86_64")

	found := false
	for _, p := range platforms {
		if p == "manylinux2014_x86_64" {
			found = true
		}
	}

	if !found {
		t.Errorf("ExpandPlatform(linux_x86_64) = %v, want manylinux2014_x86_64 present", platforms)
	}
}

func TestExpandPlatformIncludesMacUniversal2(t *testing.T) {
	platforms := ExpandPlatform("macosx_11_0_arm64")

	found := false
	for _, p := range platforms {
		if strings.Contains(p, "universal2") {
			found = true
		}
	}

	if !found {
		t.Errorf("ExpandPlatform(macosx_11_0_arm64) = %v, want a universal2 variant present", platforms)
	}
}

func TestBuildCompatTagsOrdersExactAbiBeforeNone(t *testing.T) {
	tags := BuildCompatTags("311", "linux-64")

	if len(tags) == 0 {
		t.Fatal("expected at least one tag")
	}

	first := tags[0]
	if first.Python != "cp311" || first.ABI != "cp311" {
		t.Errorf("first tag = %+v, want cp311/cp311 abi", first)
	}

	lastTag := tags[len(tags)-1]
	if lastTag.Platform != "any" {
		t.Errorf("last tag platform = %q, want any", lastTag.Platform)
	}
}
