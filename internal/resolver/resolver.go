// Package resolver walks declared dependencies from the root crate,
// cross-references each against the lockfile, and produces a DAG of
// crate nodes keyed by (name, version).
package resolver

import (
	"fmt"

	"github.com/tsukumogami/cargo-bootstrap/internal/archive"
	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
	"github.com/tsukumogami/cargo-bootstrap/internal/lockfile"
	"github.com/tsukumogami/cargo-bootstrap/internal/manifest"
	"github.com/tsukumogami/cargo-bootstrap/internal/semver"
)

// Edge is a resolved dependency edge from a CrateNode to another, carrying
// the feature set enabled on the dependency side.
type Edge struct {
	To       *CrateNode
	Features map[string]bool
}

// CrateNode is the resolver/builder unit: one concrete (name, version)
// instantiation of a crate, reachable from the root through some chain of
// dependency requirements.
type CrateNode struct {
	Manifest   *manifest.CrateManifest
	SourceDir  string
	LockEntry  lockfile.LockEntry
	Deps       []Edge
	resolved   bool
	// Built and OutputPath are set by the builder once the node is
	// compiled; the resolver only ever produces nodes in the
	// Declared/Resolved states.
	Built      bool
	OutputPath string
}

// Namever returns the "<name>-<version>" key this node is registered
// under in the shared registry.
func (n *CrateNode) Namever() string {
	return fmt.Sprintf("%s-%s", n.Manifest.Name, n.Manifest.Version.String())
}

// Context is the process-wide mutable state shared by the resolver and
// builder: the crate registry, the lockfile, and the knobs that control
// optional-dependency and feature resolution. A build invocation
// constructs exactly one Context and threads it by reference; nothing in
// this package or the builder uses package-level globals.
type Context struct {
	TargetTriple     string
	HostTriple       string
	Archive          *archive.Store
	Lockfile         *lockfile.Lockfile
	EnabledOptionals map[string]bool

	crates map[string]*CrateNode
	queue  []*CrateNode
}

// NewContext constructs a resolution context. enabledOptionals names
// optional dependencies the caller wants turned on regardless of feature
// propagation (mirrors a top-level --features flag).
func NewContext(targetTriple, hostTriple string, store *archive.Store, lf *lockfile.Lockfile, enabledOptionals []string) *Context {
	optionals := make(map[string]bool, len(enabledOptionals))
	for _, o := range enabledOptionals {
		optionals[o] = true
	}
	return &Context{
		TargetTriple:     targetTriple,
		HostTriple:       hostTriple,
		Archive:          store,
		Lockfile:         lf,
		EnabledOptionals: optionals,
		crates:           map[string]*CrateNode{},
	}
}

// Resolve builds the root crate node from rootDir's manifest and walks
// the full dependency graph to completion, returning the root node.
func (c *Context) Resolve(rootDir string) (*CrateNode, error) {
	m, err := manifest.Load(rootDir, c.TargetTriple)
	if err != nil {
		return nil, err
	}
	if err := manifest.ResolvePaths(m, rootDir); err != nil {
		return nil, err
	}

	root := &CrateNode{
		Manifest:  m,
		SourceDir: rootDir,
		LockEntry: c.Lockfile.Root,
	}
	c.crates[root.Namever()] = root
	c.queue = append(c.queue, root)

	for len(c.queue) > 0 {
		n := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.resolveNode(n); err != nil {
			return nil, err
		}
	}

	return root, nil
}

// resolveNode implements the per-node resolution steps: skip dev
// dependencies, pin a version against the lockfile, locate the source
// directory, load the dependency's manifest, apply optional-dependency
// gating, compute the effective feature set, and register or reuse the
// shared CrateNode for the edge target.
func (c *Context) resolveNode(n *CrateNode) error {
	if n.resolved {
		return nil
	}

	for _, d := range n.Manifest.Dependencies {
		if d.Kind != manifest.KindNormal && d.Kind != manifest.KindBuild {
			continue
		}

		if !isEnabled(d, n, c) {
			continue
		}

		var sourceDir, pinnedVersion string
		if d.LocalPath != "" {
			sourceDir = d.LocalPath
			pinnedVersion = "" // local deps carry no pinned version
		} else {
			pinned, err := pinVersion(d, n.LockEntry)
			if err != nil {
				return err
			}
			pinnedVersion = pinned
			dir, err := c.Archive.Unpack(d.Name, pinnedVersion)
			if err != nil {
				return err
			}
			sourceDir = dir
		}

		depManifest, err := manifest.Load(sourceDir, c.TargetTriple)
		if err != nil {
			return err
		}
		if err := manifest.ResolvePaths(depManifest, sourceDir); err != nil {
			return err
		}

		features := effectiveFeatures(d, depManifest)

		key := fmt.Sprintf("%s-%s", d.Name, depManifest.Version.String())
		target, existed := c.crates[key]
		if !existed {
			lockEntry, _ := c.Lockfile.FindEntry(d.Name, depManifest.Version.String())
			target = &CrateNode{
				Manifest:  depManifest,
				SourceDir: sourceDir,
				LockEntry: lockEntry,
			}
			c.crates[key] = target
			c.queue = append(c.queue, target)
		}

		n.Deps = append(n.Deps, Edge{To: target, Features: features})
	}

	n.resolved = true
	return nil
}

// isEnabled implements the single predicate blending an externally
// provided "enabled optionals" set with the parent's own enabled
// features: a dependency that isn't optional is always enabled; an
// optional one needs either a matching global override or a
// same-named feature enabled on the parent.
func isEnabled(d manifest.Dependency, parent *CrateNode, c *Context) bool {
	if !d.Optional {
		return true
	}
	if c.EnabledOptionals[d.Name] {
		return true
	}
	return parent.Manifest.EnabledFeatures[d.Name]
}

// pinVersion scans the parent's lockfile record for a dependency entry
// whose name matches and whose version satisfies the requirement. The
// first satisfying match wins; lockfile order is authoritative.
func pinVersion(d manifest.Dependency, parentLock lockfile.LockEntry) (string, error) {
	for _, pd := range parentLock.Dependencies {
		if pd.Name != d.Name {
			continue
		}
		v, err := semver.Parse(pd.Version)
		if err != nil {
			continue
		}
		if d.Requirement == nil || d.Requirement.Satisfies(v) {
			return pd.Version, nil
		}
	}
	return "", bootstraperr.New(bootstraperr.UnresolvedDependency, d.Name, fmt.Sprintf("no lockfile entry satisfies requirement %q", requirementString(d)))
}

func requirementString(d manifest.Dependency) string {
	if d.Requirement == nil {
		return "*"
	}
	return d.Requirement.String()
}

// effectiveFeatures computes the feature set enabled on a dependency
// edge: the dependency descriptor's explicit feature list, plus, when
// default_features is true (the manifest default), "default" and every
// feature the dependency's own manifest enables through it.
func effectiveFeatures(d manifest.Dependency, depManifest *manifest.CrateManifest) map[string]bool {
	features := map[string]bool{}
	for _, f := range d.Features {
		features[f] = true
	}
	if d.DefaultFeatures {
		features["default"] = true
		for f := range depManifest.EnabledFeatures {
			features[f] = true
		}
	}
	return features
}
