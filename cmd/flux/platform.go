package main

import "runtime"

// hostSubdir maps the running host's GOOS/GOARCH to a conda-style subdir.
func hostSubdir() string {
	switch runtime.GOOS {
	case "linux":
		switch runtime.GOARCH {
		case "arm64":
			return "linux-aarch64"
		case "ppc64le":
			return "linux-ppc64le"
		default:
			return "linux-64"
		}
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "osx-arm64"
		}

		return "osx-64"
	case "windows":
		if runtime.GOARCH == "arm64" {
			return "win-arm64"
		}

		return "win-64"
	default:
		return "linux-64"
	}
}
