package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
)

// Operator identifies a single-clause range's comparator, or one of the
// expandable forms (caret, tilde, wildcard).
type Operator int

const (
	OpCaret Operator = iota
	OpTilde
	OpWildcard
	OpEQ
	OpLT
	OpLE
	OpGT
	OpGE
)

var rangeClausePattern = regexp.MustCompile(
	`^\s*(?P<op><=|>=|<|>|=|\^|~)?\s*` +
		`(?P<major>\*|0|[1-9][0-9]*)` +
		`(\.(?P<minor>\*|0|[1-9][0-9]*))?` +
		`(\.(?P<patch>\*|0|[1-9][0-9]*))?` +
		`(-(?P<prerelease>[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*))?` +
		`(\+(?P<build>[0-9A-Za-z-]+(\.[0-9A-Za-z-]+)*))?\s*$`,
)

// clause is a single parsed range clause, prior to conjunction merging.
type clause struct {
	op       Operator
	lower    *Version // inclusive
	upper    *Version // exclusive, nil = unbounded
	operand  *Version // reference version for comparator ops
}

// VersionRange is a (possibly conjoined) set of clauses. Satisfies reports
// whether a version falls within the intersection of all clause bounds.
type VersionRange struct {
	raw     string
	clauses []clause
}

// String returns the originally parsed range text.
func (r *VersionRange) String() string {
	return r.raw
}

// ParseRange parses a version-range expression: an optional operator prefix
// from {<=, >=, <, >, =, ^, ~}, a bare version (implicit caret), a
// wildcard form, or a comma-separated conjunction of any of the above.
func ParseRange(s string) (*VersionRange, error) {
	raw := s
	parts := strings.Split(s, ",")
	r := &VersionRange{raw: raw}
	for _, p := range parts {
		c, err := parseClause(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		r.clauses = append(r.clauses, c)
	}
	if len(r.clauses) == 0 {
		return nil, bootstraperr.New(bootstraperr.InvalidRange, "", fmt.Sprintf("%q is not a valid version range", s))
	}
	return r, nil
}

func parseClause(s string) (clause, error) {
	m := rangeClausePattern.FindStringSubmatch(s)
	if m == nil {
		return clause{}, bootstraperr.New(bootstraperr.InvalidRange, "", fmt.Sprintf("%q is not a valid version range clause", s))
	}
	g := namedGroups(rangeClausePattern, m)

	opStr, major, minor, patch := g["op"], g["major"], g["minor"], g["patch"]

	var op Operator
	switch opStr {
	case "<=":
		op = OpLE
	case ">=":
		op = OpGE
	case "<":
		op = OpLT
	case ">":
		op = OpGT
	case "=":
		op = OpEQ
	case "^":
		op = OpCaret
	case "~":
		op = OpTilde
	case "":
		if major == "*" || minor == "*" || patch == "*" {
			op = OpWildcard
		} else {
			op = OpCaret // bare version defaults to caret
		}
	default:
		return clause{}, bootstraperr.New(bootstraperr.InvalidRange, "", fmt.Sprintf("%q has an unrecognized operator %q", s, opStr))
	}

	c := clause{op: op}

	switch op {
	case OpEQ, OpLT, OpLE, OpGT, OpGE:
		operand, err := parseComparatorVersion(major, minor, patch, g["prerelease"], g["build"])
		if err != nil {
			return clause{}, err
		}
		c.operand = operand
	case OpWildcard:
		c.lower, c.upper = wildcardBounds(major, minor, patch)
	case OpCaret:
		base, err := parseComparatorVersion(major, minor, patch, g["prerelease"], g["build"])
		if err != nil {
			return clause{}, err
		}
		c.lower, c.upper = caretBounds(major, minor, patch, base)
	case OpTilde:
		base, err := parseComparatorVersion(major, minor, patch, g["prerelease"], g["build"])
		if err != nil {
			return clause{}, err
		}
		c.lower, c.upper = tildeBounds(major, minor, patch, base)
	}

	return c, nil
}

// parseComparatorVersion builds the reference Version for a clause whose
// major/minor/patch groups came from the range regex. The wildcard path
// never calls it; for comparator/caret/tilde clauses a "*" component
// reaches Parse, which rejects it as an invalid version.
func parseComparatorVersion(major, minor, patch, prerelease, build string) (*Version, error) {
	var sb strings.Builder
	sb.WriteString(major)
	if minor != "" {
		sb.WriteString(".")
		sb.WriteString(minor)
	}
	if patch != "" {
		sb.WriteString(".")
		sb.WriteString(patch)
	}
	if prerelease != "" {
		sb.WriteString("-")
		sb.WriteString(prerelease)
	}
	if build != "" {
		sb.WriteString("+")
		sb.WriteString(build)
	}
	return Parse(sb.String())
}

func mustInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func bumpMajor(major string) *Version {
	return &Version{Major: mustInt(major) + 1, hasMinor: true, hasPatch: true}
}

func bumpMinor(major, minor string) *Version {
	return &Version{Major: mustInt(major), Minor: mustInt(minor) + 1, hasMinor: true, hasPatch: true}
}

func bumpPatch(major, minor, patch string) *Version {
	return &Version{Major: mustInt(major), Minor: mustInt(minor), Patch: mustInt(patch) + 1, hasMinor: true, hasPatch: true}
}

func exact(major, minor, patch string) *Version {
	return &Version{Major: mustInt(major), Minor: mustInt(minor), Patch: mustInt(patch), hasMinor: true, hasPatch: true}
}

// wildcardBounds expands *, M.*, M.m.* into [lower, upper).
func wildcardBounds(major, minor, patch string) (*Version, *Version) {
	if major == "*" {
		return MustParse("0.0.0"), nil
	}
	if minor == "*" || minor == "" {
		return exact(major, "0", "0"), bumpMajor(major)
	}
	if patch == "*" || patch == "" {
		return exact(major, minor, "0"), bumpMinor(major, minor)
	}
	// M.m.* never actually reaches here with a concrete patch, but treat
	// a fully-specified M.m.p given to the wildcard path defensively as
	// an exact-patch range.
	return exact(major, minor, patch), bumpPatch(major, minor, patch)
}

// caretBounds implements the §4.1 caret table.
func caretBounds(major, minor, patch string, base *Version) (*Version, *Version) {
	if minor == "" {
		return exact(major, "0", "0"), bumpMajor(major)
	}
	if patch == "" {
		if mustInt(major) > 0 {
			return exact(major, minor, "0"), bumpMajor(major)
		}
		return exact(major, minor, "0"), bumpMinor(major, minor)
	}
	lower := base
	M, m := mustInt(major), mustInt(minor)
	switch {
	case M > 0:
		return lower, bumpMajor(major)
	case m > 0:
		return lower, bumpMinor(major, minor)
	default:
		return lower, bumpPatch(major, minor, patch)
	}
}

// tildeBounds implements the §4.1 tilde table.
func tildeBounds(major, minor, patch string, base *Version) (*Version, *Version) {
	if minor == "" {
		return exact(major, "0", "0"), bumpMajor(major)
	}
	if patch == "" {
		return exact(major, minor, "0"), bumpMinor(major, minor)
	}
	return base, bumpMinor(major, minor)
}

// Satisfies reports whether v falls within the range: inside
// [lower, upper) for every clause with bounds, intersected across clauses,
// and satisfying every comparator clause's predicate.
func (r *VersionRange) Satisfies(v *Version) bool {
	var lower, upper *Version
	for _, c := range r.clauses {
		switch c.op {
		case OpEQ:
			if !v.Equal(c.operand) {
				return false
			}
		case OpLT:
			if !v.LessThan(c.operand) {
				return false
			}
		case OpLE:
			if v.Compare(c.operand) > 0 {
				return false
			}
		case OpGT:
			if v.Compare(c.operand) <= 0 {
				return false
			}
		case OpGE:
			if v.Compare(c.operand) < 0 {
				return false
			}
		default: // caret, tilde, wildcard: tighten the running interval
			if c.lower != nil && (lower == nil || c.lower.Compare(lower) > 0) {
				lower = c.lower
			}
			if c.upper != nil {
				if upper == nil || c.upper.Compare(upper) < 0 {
					upper = c.upper
				}
			}
		}
	}

	if lower != nil && v.Compare(lower) < 0 {
		return false
	}
	if upper != nil && v.Compare(upper) >= 0 {
		return false
	}
	return true
}

// Bounds returns the merged [lower, upper) interval across the range's
// interval-shaped clauses (caret/tilde/wildcard). Comparator clauses
// contribute their reference version: ">=" and ">" raise lower, "<" and
// "<=" lower upper (so ">=1.0" returns (1.0, nil)). Whether a comparator
// is strict or inclusive is not reflected in the returned pair; use
// Satisfies for exact membership.
func (r *VersionRange) Bounds() (lower, upper *Version) {
	for _, c := range r.clauses {
		switch c.op {
		case OpCaret, OpTilde, OpWildcard:
			if c.lower != nil && (lower == nil || c.lower.Compare(lower) > 0) {
				lower = c.lower
			}
			if c.upper != nil {
				if upper == nil || c.upper.Compare(upper) < 0 {
					upper = c.upper
				}
			}
		case OpGE, OpGT:
			if lower == nil || c.operand.Compare(lower) > 0 {
				lower = c.operand
			}
		case OpLT, OpLE:
			if upper == nil || c.operand.Compare(upper) < 0 {
				upper = c.operand
			}
		}
	}
	return lower, upper
}
