// Package lockfile loads Cargo.lock into a flat list of pinned records.
// Dependency entries are free-form "name version (source)" strings; only
// the name and version are meaningful to the resolver.
package lockfile

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
)

// PinnedDependency is one entry of a LockEntry's dependency list: the name
// and (when present) version parsed out of the free-form lock string.
// Version is empty when the lockfile omits it (single-version crates may
// list only the name).
type PinnedDependency struct {
	Name    string
	Version string
}

// LockEntry is a single pinned package record.
type LockEntry struct {
	Name         string
	Version      string
	Dependencies []PinnedDependency
}

// Lockfile is the parsed root + package list from Cargo.lock.
type Lockfile struct {
	Root     LockEntry
	Packages []LockEntry
}

// rawLockfile mirrors Cargo.lock's TOML grammar. The top-level "version"
// field is a format marker (e.g. 3), parsed and otherwise ignored.
type rawLockfile struct {
	Version int              `toml:"version"`
	Root    rawPackageRecord `toml:"root"`
	Package []rawPackageRecord `toml:"package"`
}

type rawPackageRecord struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Dependencies []string `toml:"dependencies"`
}

// depStringPattern matches "name", "name version", and
// "name version (source)" forms.
var depStringPattern = regexp.MustCompile(`^(\S+)(?:\s+(\S+))?(?:\s+\(([^)]*)\))?$`)

// Load reads and parses the lockfile found at dir/Cargo.lock.
func Load(dir string) (*Lockfile, error) {
	path := filepath.Join(dir, "Cargo.lock")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to read Cargo.lock", err)
	}

	var raw rawLockfile
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to parse Cargo.lock", err)
	}

	lf := &Lockfile{
		Root: normalizeRecord(raw.Root),
	}
	for _, p := range raw.Package {
		lf.Packages = append(lf.Packages, normalizeRecord(p))
	}
	return lf, nil
}

func normalizeRecord(r rawPackageRecord) LockEntry {
	entry := LockEntry{Name: r.Name, Version: r.Version}
	for _, d := range r.Dependencies {
		entry.Dependencies = append(entry.Dependencies, parseDependencyString(d))
	}
	return entry
}

func parseDependencyString(s string) PinnedDependency {
	m := depStringPattern.FindStringSubmatch(s)
	if m == nil {
		return PinnedDependency{Name: s}
	}
	return PinnedDependency{Name: m[1], Version: m[2]}
}

// FindEntry returns the package record matching name and version, and
// whether it was found. Used by the resolver to locate a dependency's
// own lock record once its pinned version has been selected.
func (lf *Lockfile) FindEntry(name, version string) (LockEntry, bool) {
	if lf.Root.Name == name && lf.Root.Version == version {
		return lf.Root, true
	}
	for _, p := range lf.Packages {
		if p.Name == name && p.Version == version {
			return p, true
		}
	}
	return LockEntry{}, false
}
