package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func writeCrateArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestUnpackExtractsArchive(t *testing.T) {
	cacheDir := t.TempDir()
	writeCrateArchive(t, filepath.Join(cacheDir, "leaf-0.1.0.crate"), map[string]string{
		"leaf-0.1.0/src/lib.rs": "// empty",
		"leaf-0.1.0/Cargo.toml": "[package]\nname=\"leaf\"",
	})

	s := New(cacheDir)
	dir, err := s.Unpack("leaf", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cacheDir, "leaf-0.1.0"), dir)

	content, err := os.ReadFile(filepath.Join(dir, "src", "lib.rs"))
	require.NoError(t, err)
	require.Equal(t, "// empty", string(content))
}

func TestUnpackIsIdempotent(t *testing.T) {
	cacheDir := t.TempDir()
	destPath := filepath.Join(cacheDir, "leaf-0.1.0")
	require.NoError(t, os.MkdirAll(destPath, 0o755))
	marker := filepath.Join(destPath, "marker")
	require.NoError(t, os.WriteFile(marker, []byte("already here"), 0o644))

	// No .crate file exists, proving Unpack short-circuits on the
	// directory already being present rather than attempting extraction.
	s := New(cacheDir)
	dir, err := s.Unpack("leaf", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, destPath, dir)

	content, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, "already here", string(content))
}

func TestUnpackMissingArchiveFails(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Unpack("leaf", "0.1.0")
	require.Error(t, err)
}

func TestUnpackCorruptArchiveFails(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "leaf-0.1.0.crate"), []byte("not a gzip stream"), 0o644))

	s := New(cacheDir)
	_, err := s.Unpack("leaf", "0.1.0")
	require.Error(t, err)
}

func TestUnpackRejectsPathTraversal(t *testing.T) {
	cacheDir := t.TempDir()
	writeCrateArchive(t, filepath.Join(cacheDir, "leaf-0.1.0.crate"), map[string]string{
		"../escape.txt": "malicious",
	})

	s := New(cacheDir)
	_, err := s.Unpack("leaf", "0.1.0")
	require.Error(t, err)
}

func TestIsPathWithinDirectory(t *testing.T) {
	require.True(t, isPathWithinDirectory("/tmp/base/sub", "/tmp/base"))
	require.False(t, isPathWithinDirectory("/tmp/basefoo", "/tmp/base"))
	require.False(t, isPathWithinDirectory("/tmp/other", "/tmp/base"))
}
