package install

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Requirement is one line of the dependency manifest.
type Requirement struct {
	// Spec is the requirement as written, without comments.
	Spec string
	// Name is the normalized distribution name, used for duplicate detection.
	Name string
	Line int
}

var (
	nameRe      = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)`)
	normalizeRe = regexp.MustCompile(`[-_.]+`)
)

// NormalizeName folds a distribution name the way package indexes compare them.
func NormalizeName(name string) string {
	return strings.ToLower(normalizeRe.ReplaceAllString(name, "-"))
}

// ParseManifest reads one requirement per line. Blank lines and comments are
// ignored, inline comments are stripped and a package listed twice is an
// error.
func ParseManifest(r io.Reader) ([]Requirement, error) {
	var reqs []Requirement
	seen := map[string]int{}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name := line
		if m := nameRe.FindStringSubmatch(line); m != nil && !strings.HasPrefix(line, "-") {
			name = NormalizeName(strings.SplitN(m[1], "[", 2)[0])
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("line %d: %q is already required on line %d", lineNo, line, prev)
		}
		seen[name] = lineNo
		reqs = append(reqs, Requirement{Spec: line, Name: name, Line: lineNo})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}

// Specs returns the requirement specs in manifest order.
func Specs(reqs []Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Spec
	}
	return out
}
