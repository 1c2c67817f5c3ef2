package system

import "testing"

func TestUnionCommutativeAndIdempotent(t *testing.T) {
	a := Requirements{MacosVersion: "10.15", Libc: &Libc{Family: LibcGlibc, Version: "2.17"}}
	b := Requirements{MacosVersion: "11.0", CudaVersion: "12.0"}

	ab, err := Union(a, b)
	if err != nil {
		t.Fatalf("union(a,b): %v", err)
	}

	ba, err := Union(b, a)
	if err != nil {
		t.Fatalf("union(b,a): %v", err)
	}

	if ab.MacosVersion != ba.MacosVersion || ab.CudaVersion != ba.CudaVersion {
		t.Fatalf("union not commutative: %+v vs %+v", ab, ba)
	}

	if ab.MacosVersion != "11.0" {
		t.Errorf("want max macos version 11.0, got %s", ab.MacosVersion)
	}

	aa, err := Union(a, a)
	if err != nil {
		t.Fatalf("union(a,a): %v", err)
	}

	if aa.MacosVersion != a.MacosVersion || aa.Libc.Version != a.Libc.Version {
		t.Errorf("union(a,a) != a: %+v vs %+v", aa, a)
	}
}

func TestUnionLibcFamilyMismatch(t *testing.T) {
	a := Requirements{Libc: &Libc{Family: LibcGlibc, Version: "2.17"}}
	b := Requirements{Libc: &Libc{Family: LibcMusl, Version: "1.2"}}

	if _, err := Union(a, b); err == nil {
		t.Fatal("expected error for mismatched libc families")
	}
}

func TestMergeOverridesOnlySetFields(t *testing.T) {
	base := Requirements{MacosVersion: "10.15", CudaVersion: "11.0"}
	override := Requirements{CudaVersion: "12.0"}

	merged := Merge(base, override)

	if merged.MacosVersion != "10.15" {
		t.Errorf("macos should be unchanged, got %s", merged.MacosVersion)
	}

	if merged.CudaVersion != "12.0" {
		t.Errorf("cuda should be overridden, got %s", merged.CudaVersion)
	}
}

func TestToVirtualPackages(t *testing.T) {
	r := Requirements{Libc: &Libc{Family: LibcGlibc, Version: "2.28"}}

	vps := r.ToVirtualPackages()
	if len(vps) != 1 || vps[0].Name != "__glibc" || vps[0].Version != "2.28" {
		t.Fatalf("unexpected virtual packages: %+v", vps)
	}
}

func TestOverrideEnvVar(t *testing.T) {
	name, ok := OverrideEnvVar("__glibc")
	if !ok || name != "CONDA_OVERRIDE_GLIBC" {
		t.Fatalf("got %s, %v", name, ok)
	}

	if _, ok := OverrideEnvVar("__unix"); ok {
		t.Fatal("expected no override var for __unix")
	}
}
