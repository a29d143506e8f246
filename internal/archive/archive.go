// Package archive unpacks .crate gzip-tar archives from a local cache
// directory on demand, idempotently: a directory that already exists is
// never re-extracted.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
)

// Store unpacks crate archives into a cache directory.
type Store struct {
	CacheDir string
}

// New returns a Store rooted at cacheDir.
func New(cacheDir string) *Store {
	return &Store{CacheDir: cacheDir}
}

// Unpack returns the unpacked source directory for (name, version),
// extracting <cache>/<name>-<version>.crate on first use.
func (s *Store) Unpack(name, version string) (string, error) {
	namever := fmt.Sprintf("%s-%s", name, version)
	destPath := filepath.Join(s.CacheDir, namever)

	if fi, err := os.Stat(destPath); err == nil && fi.IsDir() {
		return destPath, nil
	}

	archivePath := filepath.Join(s.CacheDir, namever+".crate")
	file, err := os.Open(archivePath)
	if err != nil {
		return "", bootstraperr.Wrap(bootstraperr.ArchiveMissing, namever, "crate archive not found in cache", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return "", bootstraperr.Wrap(bootstraperr.ArchiveCorrupt, namever, "failed to open gzip stream", err)
	}
	defer gzr.Close()

	if err := extractTar(tar.NewReader(gzr), s.CacheDir, namever); err != nil {
		return "", bootstraperr.Wrap(bootstraperr.ArchiveCorrupt, namever, "failed to extract crate archive", err)
	}

	return destPath, nil
}

// extractTar unpacks entries from tr into cacheDir, rejecting any entry
// that would escape cacheDir via path traversal or a symlink pointing
// outside it.
func extractTar(tr *tar.Reader, cacheDir, namever string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		target := filepath.Join(cacheDir, cleanPath)
		if !isPathWithinDirectory(target, cacheDir) {
			return fmt.Errorf("archive entry escapes cache directory: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink:
			if err := validateSymlinkTarget(header.Linkname, target, cacheDir); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func isPathWithinDirectory(targetPath, basePath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

func validateSymlinkTarget(linkTarget, linkLocation, cacheDir string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("absolute symlink targets are not allowed: %s -> %s", linkLocation, linkTarget)
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isPathWithinDirectory(resolved, cacheDir) {
		return fmt.Errorf("symlink target escapes cache directory: %s -> %s", linkLocation, linkTarget)
	}
	return nil
}
