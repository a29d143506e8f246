package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	t.Setenv(EnvTargetTriple, "")
	t.Setenv(EnvHostTriple, "")
	t.Setenv(EnvCacheDir, "")
	t.Setenv(EnvOutDir, "")
	t.Setenv(EnvRustcPath, "")
	t.Setenv(EnvJobs, "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.TargetTriple)
	require.Equal(t, cfg.TargetTriple, cfg.HostTriple)
	require.Equal(t, DefaultRustcPath, cfg.RustcPath)
	require.Equal(t, DefaultJobs, cfg.Jobs)
}

func TestLoadHonorsOverrides(t *testing.T) {
	t.Setenv(EnvTargetTriple, "x86_64-unknown-linux-gnu")
	t.Setenv(EnvHostTriple, "aarch64-apple-darwin")
	t.Setenv(EnvRustcPath, "/usr/local/bin/rustc")
	t.Setenv(EnvJobs, "4")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "x86_64-unknown-linux-gnu", cfg.TargetTriple)
	require.Equal(t, "aarch64-apple-darwin", cfg.HostTriple)
	require.Equal(t, "/usr/local/bin/rustc", cfg.RustcPath)
	require.Equal(t, 4, cfg.Jobs)
}

func TestGetJobsClampsOutOfRangeValues(t *testing.T) {
	t.Setenv(EnvJobs, "0")
	require.Equal(t, 1, getJobs())

	t.Setenv(EnvJobs, "1000")
	require.Equal(t, MaxJobs, getJobs())

	t.Setenv(EnvJobs, "not-a-number")
	require.Equal(t, DefaultJobs, getJobs())
}

func TestHostTripleDefaultsToTargetWhenUnset(t *testing.T) {
	t.Setenv(EnvTargetTriple, "riscv64-unknown-linux-gnu")
	t.Setenv(EnvHostTriple, "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "riscv64-unknown-linux-gnu", cfg.HostTriple)
}
