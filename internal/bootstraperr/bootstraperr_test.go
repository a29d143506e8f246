package bootstraperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesCrateAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ArchiveCorrupt, "leaf-0.1.0", "failed to extract", cause)
	require.Contains(t, err.Error(), "ArchiveCorrupt")
	require.Contains(t, err.Error(), "leaf-0.1.0")
	require.Contains(t, err.Error(), "failed to extract")
	require.Contains(t, err.Error(), "boom")
}

func TestErrorMessageOmitsCrateWhenEmpty(t *testing.T) {
	err := New(InvalidVersion, "", "bad version")
	require.Equal(t, "InvalidVersion: bad version", err.Error())
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(BuildFailed, "leaf", "rustc failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorsAsMatchesKind(t *testing.T) {
	var target *Error
	err := error(New(UnresolvedDependency, "leaf", "no matching version"))
	require.True(t, errors.As(err, &target))
	require.Equal(t, UnresolvedDependency, target.Kind)
}

func TestSuggestionPerKind(t *testing.T) {
	require.NotEmpty(t, New(ArchiveMissing, "leaf", "").Suggestion())
	require.NotEmpty(t, New(UnresolvedDependency, "leaf", "").Suggestion())
	require.NotEmpty(t, New(InvalidManifest, "leaf", "").Suggestion())
	require.NotEmpty(t, New(BuildFailed, "leaf", "").Suggestion())
	require.Empty(t, New(InvalidVersion, "leaf", "").Suggestion())
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "Unknown", Kind(999).String())
}
