// Package builder topologically compiles a resolved crate graph: for
// each node it builds dependencies first, then runs the node's build
// script (if any) and collects its directives, then invokes the
// compiler for library/binary targets with the aggregated flags and
// extern references.
package builder

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
	"github.com/tsukumogami/cargo-bootstrap/internal/log"
	"github.com/tsukumogami/cargo-bootstrap/internal/manifest"
	"github.com/tsukumogami/cargo-bootstrap/internal/resolver"
	"github.com/tsukumogami/cargo-bootstrap/internal/semver"
)

// ExternDescriptor names a compiled crate's library output, the form a
// dependent's --extern flag binds against.
type ExternDescriptor struct {
	Name    string
	LibPath string
}

// BuildOutcome is the tagged-variant result of building one crate node:
// its own extern descriptor (if it has a lib target), the environment it
// exports to dependents (its dependencies' exported environment merged
// with its own build script's metadata directives), and the rustc flags
// it exports to dependents (from its build script's link/search/cfg
// directives).
type BuildOutcome struct {
	Extern     *ExternDescriptor
	DepEnv     map[string]string
	ExtraFlags []string
}

// Builder compiles a resolved crate DAG, memoizing completed nodes by
// namever so re-entrant Build calls are free.
type Builder struct {
	TargetTriple string
	HostTriple   string
	OutDir       string
	RustcPath    string
	Jobs         int
	Logger       log.Logger

	built map[string]*BuildOutcome
}

// New constructs a Builder targeting outDir, invoking rustcPath for
// every compile step.
func New(targetTriple, hostTriple, outDir, rustcPath string, jobs int, logger log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		TargetTriple: targetTriple,
		HostTriple:   hostTriple,
		OutDir:       outDir,
		RustcPath:    rustcPath,
		Jobs:         jobs,
		Logger:       logger,
		built:        map[string]*BuildOutcome{},
	}
}

var directivePattern = regexp.MustCompile(`^cargo:([A-Za-z0-9_-]+)(?:=(.*))?$`)

// Build compiles n and everything it transitively depends on, returning
// n's outcome. Re-entrant calls for an already-built node return the
// cached outcome without touching the filesystem or spawning processes.
func (b *Builder) Build(n *resolver.CrateNode) (*BuildOutcome, error) {
	key := n.Namever()
	if cached, ok := b.built[key]; ok {
		return cached, nil
	}

	externs := []ExternDescriptor{}
	depEnv := map[string]string{}
	var extraFlags []string

	for _, edge := range n.Deps {
		outcome, err := b.Build(edge.To)
		if err != nil {
			return nil, err
		}
		if outcome.Extern != nil {
			externs = append(externs, *outcome.Extern)
		}
		for k, v := range outcome.DepEnv {
			depEnv[k] = v
		}
		extraFlags = append(extraFlags, outcome.ExtraFlags...)
	}

	libOutputPath := b.libOutputPath(n.Manifest)
	if libOutputPath != "" {
		if _, err := os.Stat(libOutputPath); err == nil {
			outcome := &BuildOutcome{
				Extern:     &ExternDescriptor{Name: semver.FlatName(n.Manifest.Name), LibPath: libOutputPath},
				DepEnv:     depEnv,
				ExtraFlags: extraFlags,
			}
			b.built[key] = outcome
			n.Built = true
			n.OutputPath = libOutputPath
			return outcome, nil
		}
	}

	env := b.baseEnvironment(n.Manifest, depEnv)

	ownFlags := append([]string{}, extraFlags...)

	var finalExtern *ExternDescriptor
	var ownDepEnv map[string]string
	var ownExtraFlags []string

	for _, target := range orderedTargets(n.Manifest.Targets) {
		switch target.Kind {
		case manifest.TargetBuildScript:
			scriptBin, err := b.compile(n, target, env, externs, ownFlags)
			if err != nil {
				return nil, err
			}
			directives, err := b.runBuildScript(n, scriptBin, env)
			if err != nil {
				return nil, err
			}
			pkgKey := pkgKeyFromTargetName(target.Name)
			ownDepEnv = map[string]string{}
			for k, v := range directives.metadata {
				ownDepEnv[fmt.Sprintf("DEP_%s_%s", strings.ToUpper(pkgKey), strings.ToUpper(k))] = v
			}
			ownExtraFlags = directives.flags
			ownFlags = append(ownFlags, directives.flags...)
			for k, v := range directives.cfgEnv {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
		case manifest.TargetLib:
			outPath, err := b.compile(n, target, env, externs, ownFlags)
			if err != nil {
				return nil, err
			}
			finalExtern = &ExternDescriptor{Name: semver.FlatName(target.Name), LibPath: outPath}
		case manifest.TargetBin:
			if _, err := b.compile(n, target, env, externs, ownFlags); err != nil {
				return nil, err
			}
		}
	}

	outcome := &BuildOutcome{
		Extern:     finalExtern,
		DepEnv:     mergeEnv(depEnv, ownDepEnv),
		ExtraFlags: ownExtraFlags,
	}
	b.built[key] = outcome
	n.Built = true
	if finalExtern != nil {
		n.OutputPath = finalExtern.LibPath
	}
	return outcome, nil
}

func mergeEnv(a, b map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// orderedTargets enforces build_script, then lib, then bin, preserving
// declaration order within each kind.
func orderedTargets(targets []manifest.Target) []manifest.Target {
	var scripts, libs, bins []manifest.Target
	for _, t := range targets {
		switch t.Kind {
		case manifest.TargetBuildScript:
			scripts = append(scripts, t)
		case manifest.TargetLib:
			libs = append(libs, t)
		case manifest.TargetBin:
			bins = append(bins, t)
		}
	}
	out := make([]manifest.Target, 0, len(targets))
	out = append(out, scripts...)
	out = append(out, libs...)
	out = append(out, bins...)
	return out
}

// libOutputPath returns the expected output path for a crate's lib
// target, or "" if it has none.
func (b *Builder) libOutputPath(m *manifest.CrateManifest) string {
	for _, t := range m.Targets {
		if t.Kind == manifest.TargetLib {
			return filepath.Join(b.OutDir, fmt.Sprintf("lib%s-%s.rlib", semver.FlatName(t.Name), semver.FlatName(m.Version.String())))
		}
	}
	return ""
}

// baseEnvironment assembles the environment every compile/build-script
// invocation for n starts from, per §4.6 step 4.
func (b *Builder) baseEnvironment(m *manifest.CrateManifest, depEnv map[string]string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"OUT_DIR=" + b.OutDir,
		"TARGET=" + b.TargetTriple,
		"HOST=" + b.HostTriple,
		"NUM_JOBS=" + strconv.Itoa(b.jobsOrDefault()),
		"OPT_LEVEL=0",
		"DEBUG=0",
		"PROFILE=release",
		"CARGO_MANIFEST_DIR=" + b.sourceDirHint(m),
		"CARGO_PKG_VERSION=" + m.Version.String(),
		fmt.Sprintf("CARGO_PKG_VERSION_MAJOR=%d", m.Version.Major),
		fmt.Sprintf("CARGO_PKG_VERSION_MINOR=%d", m.Version.Minor),
		fmt.Sprintf("CARGO_PKG_VERSION_PATCH=%d", m.Version.Patch),
		"CARGO_PKG_VERSION_PRE=" + strings.Join(m.Version.Prerelease, "."),
	}
	for f := range m.EnabledFeatures {
		env = append(env, fmt.Sprintf("CARGO_FEATURE_%s=1", upperSnake(f)))
	}
	for k, v := range depEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// sourceDirHint is a best-effort CARGO_MANIFEST_DIR; the builder doesn't
// separately track source_dir per manifest here because targets already
// carry resolved absolute SourcePaths.
func (b *Builder) sourceDirHint(m *manifest.CrateManifest) string {
	for _, t := range m.Targets {
		if t.SourcePath != "" {
			return filepath.Dir(filepath.Dir(t.SourcePath))
		}
	}
	return ""
}

func (b *Builder) jobsOrDefault() int {
	if b.Jobs > 0 {
		return b.Jobs
	}
	return 1
}

func upperSnake(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ToUpper(s)
}

// pkgKeyFromTargetName strips a leading "lib" prefix, then takes the
// substring up to the first underscore, per §4.6's pkg_key derivation.
func pkgKeyFromTargetName(name string) string {
	name = strings.TrimPrefix(name, "lib")
	if idx := strings.Index(name, "_"); idx >= 0 {
		return name[:idx]
	}
	return name
}

// compile synthesizes a compiler invocation for one target and runs it.
// Returns the output path for lib targets (used as the extern
// descriptor); bin and build-script targets return their binary path.
func (b *Builder) compile(n *resolver.CrateNode, t manifest.Target, env []string, externs []ExternDescriptor, extraFlags []string) (string, error) {
	flatVersion := semver.FlatName(n.Manifest.Version.String())

	crateName := semver.FlatName(t.Name)
	if t.Kind == manifest.TargetBuildScript {
		crateName = "build_script_" + crateName
	}

	args := []string{t.SourcePath, "--crate-name", crateName}
	if t.Kind == manifest.TargetLib {
		args = append(args, "--crate-type", "lib")
	} else {
		args = append(args, "--crate-type", "bin")
	}

	for f := range n.Manifest.EnabledFeatures {
		args = append(args, "--cfg", fmt.Sprintf("feature=%q", f))
	}

	if n.Manifest.Edition != "" {
		args = append(args, "--edition", n.Manifest.Edition)
	}

	args = append(args,
		"-C", fmt.Sprintf("extra-filename=-%s", flatVersion),
		"--out-dir", b.OutDir,
		"--emit=dep-info,link",
		"--target", b.TargetTriple,
		"-L", b.OutDir,
		"-L", filepath.Join(b.OutDir, "lib"),
	)
	args = append(args, extraFlags...)

	for _, e := range externs {
		args = append(args, "--extern", fmt.Sprintf("%s=%s", e.Name, e.LibPath))
	}

	var outputPath string
	switch t.Kind {
	case manifest.TargetLib:
		outputPath = filepath.Join(b.OutDir, fmt.Sprintf("lib%s-%s.rlib", crateName, flatVersion))
	case manifest.TargetBuildScript:
		outputPath = filepath.Join(b.OutDir, fmt.Sprintf("%s-%s", crateName, flatVersion))
	default:
		outputPath = filepath.Join(b.OutDir, fmt.Sprintf("%s-%s", crateName, flatVersion))
	}

	b.Logger.Debug("compiling target", "crate", n.Manifest.Name, "target", t.Name, "kind", int(t.Kind))

	if err := runSubprocess(b.RustcPath, args, env, ""); err != nil {
		return "", bootstraperr.Wrap(bootstraperr.BuildFailed, n.Namever(), fmt.Sprintf("failed to compile target %q", t.Name), err)
	}

	return outputPath, nil
}

type buildScriptDirectives struct {
	flags    []string
	metadata map[string]string
	cfgEnv   map[string]string
}

// runBuildScript executes a compiled build-script binary and parses its
// stdout against the cargo: directive protocol.
func (b *Builder) runBuildScript(n *resolver.CrateNode, binPath string, env []string) (*buildScriptDirectives, error) {
	cmd := exec.Command(binPath)
	cmd.Env = env
	cmd.Dir = n.SourceDir
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.BuildFailed, n.Namever(), "failed to attach build script stdout", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.BuildFailed, n.Namever(), "failed to start build script", err)
	}

	directives := &buildScriptDirectives{metadata: map[string]string{}, cfgEnv: map[string]string{}}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		m := directivePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], m[2]
		switch key {
		case "rerun-if-changed", "rerun-if-env-changed":
			// Affects cargo's incremental rebuild cache, which this
			// bootstrapper doesn't model; recognized and dropped rather
			// than falling into the generic metadata bucket.
		case "rustc-link-lib":
			directives.flags = append(directives.flags, "-l", value)
		case "rustc-link-search":
			directives.flags = append(directives.flags, "-L", value)
		case "rustc-cfg":
			directives.flags = append(directives.flags, "--cfg", value)
			directives.cfgEnv[fmt.Sprintf("CARGO_FEATURE_%s", upperSnake(value))] = "1"
		default:
			directives.metadata[key] = value
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.BuildFailed, n.Namever(), "build script exited non-zero", err)
	}

	return directives, nil
}

// runSubprocess runs a single blocking subprocess, inheriting stdout and
// stderr, with a process group set so a future cancellation path (not
// yet modeled, per the no-cancellation concurrency note) could kill the
// whole group rather than leaking children.
func runSubprocess(path string, args []string, env []string, dir string) error {
	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	configureProcessGroup(cmd)
	return cmd.Run()
}

// configureProcessGroup places the child in its own process group on
// unix so a killed child doesn't orphan grandchildren.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
