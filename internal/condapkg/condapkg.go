// Package condapkg extracts conda-style binary package archives. The
// modern `.conda` format is a zip archive holding two zstd-compressed tar
// streams — `info-<pkg>.tar.zst` (package metadata: about.json, index.json,
// the paths/files lists) and `pkg-<pkg>.tar.zst` (the actual installed
// files, laid out relative to a prefix root). The legacy `.tar.bz2` format
// is detected and rejected with a clear error: decoding bzip2 tarballs is
// out of scope for this package.
package condapkg

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrLegacyFormat is returned when asked to extract a .tar.bz2 package.
var ErrLegacyFormat = errors.New("condapkg: legacy .tar.bz2 conda packages are an unsupported format")

// Extracted describes the result of extracting one package archive into a
// prefix: every file path written, relative to prefix.
type Extracted struct {
	Files []string
}

// Extract unpacks a `.conda` package archive into prefix, returning the
// prefix-relative paths of every file it wrote. `.tar.bz2` archives return
// ErrLegacyFormat without writing anything.
func Extract(archivePath, prefix string) (*Extracted, error) {
	if strings.HasSuffix(archivePath, ".tar.bz2") {
		return nil, fmt.Errorf("%w: %s", ErrLegacyFormat, filepath.Base(archivePath))
	}

	if !strings.HasSuffix(archivePath, ".conda") {
		return nil, fmt.Errorf("condapkg: unrecognized package archive extension: %s", filepath.Base(archivePath))
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer func() { _ = zr.Close() }()

	var files []string

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "pkg-") || !strings.HasSuffix(f.Name, ".tar.zst") {
			continue // skip info-*.tar.zst (package metadata, not installed files)
		}

		written, err := extractZstdTar(f, prefix)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		files = append(files, written...)
	}

	return &Extracted{Files: files}, nil
}

func extractZstdTar(f *zip.File, prefix string) ([]string, error) {
	src, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("initializing zstd decoder: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	var files []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading tar stream: %w", err)
		}

		// info/ holds package metadata, not installed files.
		if strings.HasPrefix(hdr.Name, "info/") {
			continue
		}

		destPath := filepath.Join(prefix, hdr.Name)

		if !isInsidePrefix(destPath, prefix) {
			return nil, fmt.Errorf("zip slip detected: %s resolves outside %s", hdr.Name, prefix)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return nil, err
			}

			out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return nil, err
			}

			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // size bounded by the archive we just opened
				_ = out.Close()

				return nil, err
			}

			if err := out.Close(); err != nil {
				return nil, err
			}

			rel, err := filepath.Rel(prefix, destPath)
			if err != nil {
				rel = hdr.Name
			}

			files = append(files, rel)
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return nil, err
			}

			_ = os.Remove(destPath)

			if err := os.Symlink(hdr.Linkname, destPath); err != nil {
				return nil, err
			}

			rel, err := filepath.Rel(prefix, destPath)
			if err != nil {
				rel = hdr.Name
			}

			files = append(files, rel)
		}
	}

	return files, nil
}

func isInsidePrefix(path, prefix string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absPrefix, err := filepath.Abs(prefix)
	if err != nil {
		return false
	}

	return strings.HasPrefix(absPath, absPrefix+string(filepath.Separator)) || absPath == absPrefix
}
