// Package manifest loads a crate's Cargo.toml into a normalized
// CrateManifest: identity, targets (lib/bin/build-script), dependencies,
// and features.
package manifest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
	"github.com/tsukumogami/cargo-bootstrap/internal/semver"
)

// DependencyKind classifies a dependency edge.
type DependencyKind int

const (
	KindNormal DependencyKind = iota
	KindBuild
	KindDev
)

// Dependency is a normalized dependency descriptor.
type Dependency struct {
	Name            string
	Requirement     *semver.VersionRange
	Features        []string
	Optional        bool
	DefaultFeatures bool
	Kind            DependencyKind
	LocalPath       string // non-empty when this is a path dependency
}

// TargetKind classifies a build target.
type TargetKind int

const (
	TargetLib TargetKind = iota
	TargetBin
	TargetBuildScript
)

// Target is a normalized build target: a library, a binary, or the
// crate's build script. SourcePath is resolved by ResolvePaths against
// the crate's source directory before the builder consumes it.
type Target struct {
	Kind       TargetKind
	Name       string
	candidates []string // relative candidate paths, in probe order
	SourcePath string    // populated by ResolvePaths
	Links      []string
}

// CrateManifest is the normalized form of Cargo.toml.
type CrateManifest struct {
	Name            string
	Version         *semver.Version
	Edition         string // informational; passed to rustc as --edition when set
	Dependencies    []Dependency
	Targets         []Target
	Features        map[string][]string
	EnabledFeatures map[string]bool
}

// rawManifest mirrors the subset of Cargo.toml's grammar this bootstrapper
// understands. BurntSushi/toml decodes directly into it; normalization
// into CrateManifest happens afterward.
type rawManifest struct {
	Package rawPackage `toml:"package"`
	Project rawPackage `toml:"project"` // legacy table name

	Lib []rawLib `toml:"lib"`
	Bin []rawBin `toml:"bin"`

	Dependencies      map[string]toml.Primitive `toml:"dependencies"`
	BuildDependencies map[string]toml.Primitive `toml:"build-dependencies"`
	DevDependencies   map[string]toml.Primitive `toml:"dev-dependencies"`
	Target            map[string]rawTargetTable `toml:"target"`

	Features map[string][]string `toml:"features"`
}

type rawTargetTable struct {
	Dependencies map[string]toml.Primitive `toml:"dependencies"`
}

type rawPackage struct {
	Name    string      `toml:"name"`
	Version string      `toml:"version"`
	Edition string      `toml:"edition"`
	Links   interface{} `toml:"links"` // scalar or list
	Build   string      `toml:"build"`
}

type rawLib struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

type rawBin struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

type rawDependencyTable struct {
	Version         string   `toml:"version"`
	Path            string   `toml:"path"`
	Features        []string `toml:"features"`
	Optional        bool     `toml:"optional"`
	DefaultFeatures *bool    `toml:"default-features"`
}

// Load reads and normalizes the Cargo.toml found at dir/Cargo.toml.
func Load(dir string, targetTriple string) (*CrateManifest, error) {
	path := filepath.Join(dir, "Cargo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to read Cargo.toml", err)
	}

	var raw rawManifest
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to parse Cargo.toml", err)
	}

	pkg := raw.Package
	if pkg.Name == "" {
		pkg = raw.Project
	}
	if pkg.Name == "" || pkg.Version == "" {
		return nil, bootstraperr.New(bootstraperr.InvalidManifest, "", "Cargo.toml is missing package.name or package.version")
	}

	version, err := semver.Parse(pkg.Version)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, pkg.Name, "package.version is not a valid version", err)
	}

	links := normalizeStringList(pkg.Links)
	if len(links) > 0 && pkg.Build == "" {
		return nil, bootstraperr.New(bootstraperr.InvalidManifest, pkg.Name, "package.links requires package.build to be set")
	}

	m := &CrateManifest{
		Name:            pkg.Name,
		Version:         version,
		Edition:         pkg.Edition,
		Features:        raw.Features,
		EnabledFeatures: map[string]bool{},
	}

	var targets []Target
	if pkg.Build != "" {
		targets = append(targets, Target{
			Kind:       TargetBuildScript,
			Name:       semver.FlatName(pkg.Name),
			candidates: []string{pkg.Build},
			Links:      links,
		})
	}

	hasMainTarget := false
	for _, l := range raw.Lib {
		path := l.Path
		if path == "" {
			path = "lib.rs"
		}
		name := l.Name
		if name == "" {
			name = semver.FlatName(pkg.Name)
		}
		targets = append(targets, Target{Kind: TargetLib, Name: name, candidates: []string{path}, Links: links})
		hasMainTarget = true
	}
	for _, b := range raw.Bin {
		candidates := []string{b.Path}
		if b.Path == "" {
			candidates = []string{
				filepath.Join("bin", b.Name+".rs"),
				filepath.Join("bin", "main.rs"),
				b.Name + ".rs",
				"main.rs",
			}
		}
		targets = append(targets, Target{Kind: TargetBin, Name: b.Name, candidates: candidates, Links: links})
		hasMainTarget = true
	}
	if !hasMainTarget {
		targets = append(targets, Target{
			Kind:       TargetLib,
			Name:       semver.FlatName(pkg.Name),
			candidates: []string{"lib.rs"},
			Links:      links,
		})
	}
	m.Targets = targets

	deps, err := normalizeDependencies(md, raw, targetTriple)
	if err != nil {
		return nil, err
	}
	m.Dependencies = deps

	enableDefaultFeatures(m)

	return m, nil
}

// normalizeStringList normalizes a TOML scalar-or-list value into a slice.
func normalizeStringList(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}

// normalizeDependencies merges build-dependencies, dependencies, and
// target.<triple>.dependencies, later tables overriding earlier ones by
// name, per §4.2.
func normalizeDependencies(md toml.MetaData, raw rawManifest, targetTriple string) ([]Dependency, error) {
	merged := map[string]toml.Primitive{}
	order := []string{}

	merge := func(tbl map[string]toml.Primitive) {
		for name, prim := range tbl {
			if _, exists := merged[name]; !exists {
				order = append(order, name)
			}
			merged[name] = prim
		}
	}

	merge(raw.BuildDependencies)
	merge(raw.Dependencies)
	if tt, ok := raw.Target[targetTriple]; ok {
		merge(tt.Dependencies)
	}

	sort.Strings(order) // deterministic iteration order for reproducible builds

	deps := make([]Dependency, 0, len(order))
	for _, name := range order {
		prim := merged[name]

		var scalar string
		if err := md.PrimitiveDecode(prim, &scalar); err == nil && scalar != "" {
			req, err := semver.ParseRange(scalar)
			if err != nil {
				return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, name, "invalid dependency requirement", err)
			}
			deps = append(deps, Dependency{
				Name:            name,
				Requirement:     req,
				DefaultFeatures: true,
				Kind:            KindNormal,
			})
			continue
		}

		var tbl rawDependencyTable
		if err := md.PrimitiveDecode(prim, &tbl); err != nil {
			return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, name, "invalid dependency table", err)
		}

		if tbl.Path != "" && tbl.Version == "" {
			deps = append(deps, Dependency{
				Name:      name,
				LocalPath: tbl.Path,
				Kind:      KindNormal,
				// local deps always satisfy resolution per §4.5/§9 Open Question 4.
			})
			continue
		}

		req, err := semver.ParseRange(tbl.Version)
		if err != nil {
			return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, name, "invalid dependency requirement", err)
		}
		defaultFeatures := true
		if tbl.DefaultFeatures != nil {
			defaultFeatures = *tbl.DefaultFeatures
		}
		deps = append(deps, Dependency{
			Name:            name,
			Requirement:     req,
			Features:        tbl.Features,
			Optional:        tbl.Optional,
			DefaultFeatures: defaultFeatures,
			Kind:            KindNormal,
		})
	}

	// dev-dependencies never participate in the build graph (the resolver
	// skips any dependency whose kind isn't normal/build per §4.5 step 2),
	// but are still parsed so a manifest inspector sees the full picture.
	devOrder := make([]string, 0, len(raw.DevDependencies))
	for name := range raw.DevDependencies {
		devOrder = append(devOrder, name)
	}
	sort.Strings(devOrder)
	for _, name := range devOrder {
		prim := raw.DevDependencies[name]
		var scalar string
		if err := md.PrimitiveDecode(prim, &scalar); err == nil && scalar != "" {
			req, err := semver.ParseRange(scalar)
			if err != nil {
				return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, name, "invalid dev-dependency requirement", err)
			}
			deps = append(deps, Dependency{Name: name, Requirement: req, DefaultFeatures: true, Kind: KindDev})
			continue
		}
		var tbl rawDependencyTable
		if err := md.PrimitiveDecode(prim, &tbl); err != nil {
			return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, name, "invalid dev-dependency table", err)
		}
		if tbl.Path != "" && tbl.Version == "" {
			deps = append(deps, Dependency{Name: name, LocalPath: tbl.Path, Kind: KindDev})
			continue
		}
		req, err := semver.ParseRange(tbl.Version)
		if err != nil {
			return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, name, "invalid dev-dependency requirement", err)
		}
		defaultFeatures := true
		if tbl.DefaultFeatures != nil {
			defaultFeatures = *tbl.DefaultFeatures
		}
		deps = append(deps, Dependency{
			Name: name, Requirement: req, Features: tbl.Features, Optional: tbl.Optional,
			DefaultFeatures: defaultFeatures, Kind: KindDev,
		})
	}

	return deps, nil
}

// enableDefaultFeatures expands the `default` feature entry plus every
// feature it transitively lists, per the canonical (fully recursive)
// resolution of §9 Open Question 2.
func enableDefaultFeatures(m *CrateManifest) {
	defaults, ok := m.Features["default"]
	if !ok {
		return
	}
	m.EnabledFeatures["default"] = true
	var enable func(string)
	enable = func(f string) {
		if m.EnabledFeatures[f] {
			return
		}
		m.EnabledFeatures[f] = true
		for _, sub := range m.Features[f] {
			enable(sub)
		}
	}
	for _, f := range defaults {
		enable(f)
	}
}

// ResolvePaths probes each target's candidate relative paths against
// dir and dir/src, in order, and sets SourcePath to the first hit.
// Absence of any candidate is fatal per §4.2.
func ResolvePaths(m *CrateManifest, dir string) error {
	for i := range m.Targets {
		t := &m.Targets[i]
		var found string
		for _, c := range t.candidates {
			for _, probe := range []string{filepath.Join(dir, c), filepath.Join(dir, "src", c)} {
				if fi, err := os.Stat(probe); err == nil && !fi.IsDir() {
					found = probe
					break
				}
			}
			if found != "" {
				break
			}
		}
		if found == "" {
			return bootstraperr.New(bootstraperr.MissingSource, m.Name, "no candidate source path found for target "+t.Name)
		}
		t.SourcePath = found
	}
	return nil
}
