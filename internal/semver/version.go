// Package semver implements the version grammar and range algebra this
// bootstrapper uses to resolve Cargo dependency requirements against a
// lockfile. It deliberately does not reuse a general-purpose semver
// library: Cargo's caret-range defaults diverge from npm-style semver
// (notably for 0.x versions), and getting that table right is the core
// contract of the whole system.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
)

var versionPattern = regexp.MustCompile(
	`^(?P<major>0|[1-9][0-9]*)` +
		`(\.(?P<minor>0|[1-9][0-9]*))?` +
		`(\.(?P<patch>0|[1-9][0-9]*))?` +
		`(-(?P<prerelease>[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*))?` +
		`(\+(?P<build>[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*))?$`,
)

// Version is a parsed semantic version. Major/minor/patch are normalized
// to 0 when absent from the source string for comparison purposes, while
// the hasMinor/hasPatch flags record what was actually parsed so String
// can reproduce the original shape.
type Version struct {
	Major, Minor, Patch int
	Prerelease          []string // dot-separated identifiers, nil if none
	Build               string   // opaque build metadata, "" if none

	hasMinor bool
	hasPatch bool
}

// Parse parses a version string of the form M[.m[.p]][-pre][+build].
// Missing minor/patch default to 0 for comparison; String reproduces the
// original shape via the hasMinor/hasPatch flags.
func Parse(s string) (*Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, bootstraperr.New(bootstraperr.InvalidVersion, "", fmt.Sprintf("%q is not a valid version", s))
	}
	groups := namedGroups(versionPattern, m)

	v := &Version{}
	var err error
	v.Major, err = strconv.Atoi(groups["major"])
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidVersion, "", fmt.Sprintf("%q has an invalid major component", s), err)
	}

	if minor := groups["minor"]; minor != "" {
		v.hasMinor = true
		v.Minor, err = strconv.Atoi(minor)
		if err != nil {
			return nil, bootstraperr.Wrap(bootstraperr.InvalidVersion, "", fmt.Sprintf("%q has an invalid minor component", s), err)
		}
	}

	if patch := groups["patch"]; patch != "" {
		v.hasPatch = true
		v.Patch, err = strconv.Atoi(patch)
		if err != nil {
			return nil, bootstraperr.Wrap(bootstraperr.InvalidVersion, "", fmt.Sprintf("%q has an invalid patch component", s), err)
		}
	}

	if pre := groups["prerelease"]; pre != "" {
		v.Prerelease = strings.Split(pre, ".")
	}
	v.Build = groups["build"]

	return v, nil
}

// MustParse parses s and panics on failure. Intended for literals known to
// be valid (tests, constants), never for untrusted input.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// namedGroups maps submatch groups by the regex's named capture groups.
func namedGroups(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out
}

// String reproduces the version in its originally parsed shape: missing
// minor/patch components are omitted, not normalized to zero.
func (v *Version) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", v.Major)
	if v.hasMinor || v.hasPatch {
		fmt.Fprintf(&sb, ".%d", v.Minor)
	}
	if v.hasPatch {
		fmt.Fprintf(&sb, ".%d", v.Patch)
	}
	if len(v.Prerelease) > 0 {
		sb.WriteString("-")
		sb.WriteString(strings.Join(v.Prerelease, "."))
	}
	if v.Build != "" {
		sb.WriteString("+")
		sb.WriteString(v.Build)
	}
	return sb.String()
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other. Build metadata is ignored for ordering (but is considered by
// Equal). Once major/minor/patch tie, a version with a prerelease is
// always less than one without, per the canonical rule adopted for the
// contradiction noted in the design doc's Open Question 1.
func (v *Version) Compare(other *Version) int {
	if v.Major != other.Major {
		return cmpInt(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmpInt(v.Minor, other.Minor)
	}
	if v.Patch != other.Patch {
		return cmpInt(v.Patch, other.Patch)
	}

	hasPre, otherHasPre := len(v.Prerelease) > 0, len(other.Prerelease) > 0
	switch {
	case !hasPre && !otherHasPre:
		return 0
	case !hasPre && otherHasPre:
		return 1 // no prerelease outranks any prerelease
	case hasPre && !otherHasPre:
		return -1
	default:
		return comparePrerelease(v.Prerelease, other.Prerelease)
	}
}

// Equal reports whether v and other are equal, including build metadata.
func (v *Version) Equal(other *Version) bool {
	return v.Compare(other) == 0 && v.Build == other.Build
}

// LessThan reports whether v orders strictly before other.
func (v *Version) LessThan(other *Version) bool {
	return v.Compare(other) < 0
}

// comparePrerelease implements semver precedence for two non-empty
// prerelease identifier lists: shorter is less than a longer list sharing
// its prefix; otherwise compared element-wise, with numeric identifiers
// always less than non-numeric ones, numeric-numeric compared numerically,
// and non-numeric-non-numeric compared lexicographically.
func comparePrerelease(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareIdentifier(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func compareIdentifier(a, b string) int {
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	aIsNum, bIsNum := aErr == nil, bErr == nil

	switch {
	case aIsNum && bIsNum:
		return cmpInt(an, bn)
	case aIsNum && !bIsNum:
		return -1
	case !aIsNum && bIsNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FlatName replaces '-' and '.' with '_', matching the flat_name transform
// used for output filenames and rustc crate names throughout the builder.
func FlatName(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	return s
}
