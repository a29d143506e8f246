// Package registryindex implements the crates.io-style index layout: a
// line-delimited-JSON file per crate name, one object per published
// version. It is an external collaborator to the resolver/builder core —
// nothing in the build path reads from it — but a complete bootstrapper
// needs a way to publish and retract entries against a local mirror.
package registryindex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
)

// IndexPath computes the length-bucketed path of name's index file under
// root, matching the crates.io index convention:
//   - length 1: "1/<name>"
//   - length 2: "2/<name>"
//   - length 3: "3/<name[0]>/<name>"
//   - otherwise: "<name[0:2]>/<name[2:4]>/<name>"
func IndexPath(root, name string) string {
	switch len(name) {
	case 0:
		return filepath.Join(root, name)
	case 1:
		return filepath.Join(root, "1", name)
	case 2:
		return filepath.Join(root, "2", name)
	case 3:
		return filepath.Join(root, "3", name[:1], name)
	default:
		return filepath.Join(root, name[:2], name[2:4], name)
	}
}

// UpdateEntry rewrites the line of path whose "vers" field equals the
// version encoded in versionJSON, or appends it if no such line exists.
// Creates path (and its parent directories) on first publish.
func UpdateEntry(path string, versionJSON []byte) error {
	vers := gjson.GetBytes(versionJSON, "vers").String()
	if vers == "" {
		return bootstraperr.New(bootstraperr.InvalidManifest, "", "version record is missing a \"vers\" field")
	}

	lines, err := readLines(path)
	if err != nil {
		return err
	}

	replaced := false
	for i, line := range lines {
		if gjson.Get(line, "vers").String() == vers {
			lines[i] = string(versionJSON)
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, string(versionJSON))
	}

	return writeLines(path, lines)
}

// GetEntry returns the raw JSON line of path whose "vers" field equals
// vers. found is false if path doesn't exist or has no matching line.
func GetEntry(path, vers string) (json []byte, found bool, err error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, false, err
	}
	for _, line := range lines {
		if gjson.Get(line, "vers").String() == vers {
			return []byte(line), true, nil
		}
	}
	return nil, false, nil
}

// RemoveEntry drops the line of path whose "vers" field equals vers.
// No-op (not an error) if path doesn't exist or has no matching line.
func RemoveEntry(path, vers string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	if lines == nil {
		return nil
	}

	out := lines[:0]
	for _, line := range lines {
		if gjson.Get(line, "vers").String() == vers {
			continue
		}
		out = append(out, line)
	}

	return writeLines(path, out)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to open index file", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to read index file", err)
	}
	return lines, nil
}

func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to create index directory", err)
	}
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return bootstraperr.Wrap(bootstraperr.InvalidManifest, "", "failed to write index file", err)
	}
	return nil
}

// SetYanked flips the "yanked" field of a version record without
// reconstructing the whole JSON object, for callers that want to mark a
// version yanked before writing it back with UpdateEntry.
func SetYanked(versionJSON []byte, yanked bool) ([]byte, error) {
	out, err := sjson.SetBytes(versionJSON, "yanked", yanked)
	if err != nil {
		return nil, fmt.Errorf("failed to set yanked: %w", err)
	}
	return out, nil
}
