package condapkg_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/bilusteknoloji/flux/internal/condapkg"
)

// buildFakeCondaPackage writes a minimal .conda archive containing one
// pkg-*.tar.zst stream with a single regular file, and one info-*.tar.zst
// stream (package metadata, expected to be skipped by Extract).
func buildFakeCondaPackage(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)

	writeZstdTarEntry(t, zw, "pkg-demo-1.0-0.tar.zst", map[string]string{
		"lib/demo/__init__.py": "print('hi')\n",
	})
	writeZstdTarEntry(t, zw, "info-demo-1.0-0.tar.zst", map[string]string{
		"info/index.json": `{"name":"demo"}`,
	})

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeZstdTarEntry(t *testing.T, zw *zip.Writer, name string, files map[string]string) {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	for path, content := range files {
		hdr := &tar.Header{Name: path, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}

		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var zstdBuf bytes.Buffer

	enc, err := zstd.NewWriter(&zstdBuf)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := enc.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}

	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Write(zstdBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
}

func TestExtractWritesPkgFilesNotInfoFiles(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "demo-1.0-0.conda")
	buildFakeCondaPackage(t, archivePath)

	prefix := filepath.Join(dir, "prefix")
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := condapkg.Extract(archivePath, prefix)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(result.Files) != 1 || result.Files[0] != filepath.Join("lib", "demo", "__init__.py") {
		t.Fatalf("unexpected files: %+v", result.Files)
	}

	data, err := os.ReadFile(filepath.Join(prefix, "lib", "demo", "__init__.py"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}

	if string(data) != "print('hi')\n" {
		t.Errorf("unexpected content: %q", data)
	}

	if _, err := os.Stat(filepath.Join(prefix, "info")); !os.IsNotExist(err) {
		t.Error("info/ files from info-*.tar.zst should not be extracted")
	}
}

func TestExtractRejectsLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo-1.0-0.tar.bz2")

	if err := os.WriteFile(path, []byte("not a real bz2"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := condapkg.Extract(path, dir)
	if err == nil {
		t.Fatal("expected an error for legacy .tar.bz2 format")
	}
}
