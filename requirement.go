package whey

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// Requirement is a parsed PEP 508 dependency specification, e.g.
// `pkg-b[extra]>=2.0; python_version >= "3.8"`.
type Requirement struct {
	Name      string   // as written
	Extras    []string // normalized, sorted
	Specifier string   // e.g. ">=2.0,<3", empty for any version
	URL       string   // direct reference (name @ url), if any
	Marker    string   // environment marker, if any
}

var requirementPrefix = regexp.MustCompile(`^\s*([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*`)

// ParseRequirement parses a single requirement line.
func ParseRequirement(s string) (Requirement, error) {
	var r Requirement
	line := strings.TrimSpace(s)
	if idx := strings.IndexByte(line, ';'); idx > -1 {
		r.Marker = strings.TrimSpace(line[idx+1:])
		line = strings.TrimSpace(line[:idx])
		if r.Marker == "" {
			return Requirement{}, xerrors.Errorf("requirement %q: empty marker", s)
		}
	}
	m := requirementPrefix.FindStringSubmatchIndex(line)
	if m == nil {
		return Requirement{}, xerrors.Errorf("requirement %q: invalid project name", s)
	}
	r.Name = line[m[2]:m[3]]
	rest := line[m[1]:]

	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return Requirement{}, xerrors.Errorf("requirement %q: unterminated extras", s)
		}
		for _, e := range strings.Split(rest[1:end], ",") {
			if e = strings.TrimSpace(e); e != "" {
				r.Extras = append(r.Extras, NormalizeName(e))
			}
		}
		sort.Strings(r.Extras)
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "@") {
		r.URL = strings.TrimSpace(rest[1:])
		if r.URL == "" {
			return Requirement{}, xerrors.Errorf("requirement %q: empty URL", s)
		}
		return r, nil
	}

	if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		rest = rest[1 : len(rest)-1]
	}
	r.Specifier = strings.Join(strings.Fields(rest), "")
	if _, err := ParseSpecifier(r.Specifier); err != nil {
		return Requirement{}, xerrors.Errorf("requirement %q: %w", s, err)
	}
	return r, nil
}

// MustParseRequirement is like ParseRequirement but panics on error. It is
// meant for tests and literals.
func MustParseRequirement(s string) Requirement {
	r, err := ParseRequirement(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Key returns the normalized project name, by which requirements compare.
func (r Requirement) Key() string { return NormalizeName(r.Name) }

func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.URL != "" {
		b.WriteString(" @ " + r.URL)
	} else {
		b.WriteString(r.Specifier)
	}
	if r.Marker != "" {
		b.WriteString("; " + r.Marker)
	}
	return b.String()
}

// Pin returns a copy of r restricted to exactly version.
func (r Requirement) Pin(version string) Requirement {
	r.Specifier = "==" + version
	r.URL = ""
	r.Marker = ""
	return r
}

// Applies evaluates the marker of r in env on behalf of a parent requirement
// with the given extras. A requirement without a marker always applies.
func (r Requirement) Applies(env MarkerEnv, parentExtras []string) (bool, error) {
	if r.Marker == "" {
		return true, nil
	}
	if len(parentExtras) == 0 {
		return EvaluateMarker(r.Marker, env.With("extra", ""))
	}
	for _, extra := range parentExtras {
		ok, err := EvaluateMarker(r.Marker, env.With("extra", extra))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ReadRequirementsFile returns the requirement lines of a pip-style
// requirements file, with comments and blank lines removed.
func ReadRequirementsFile(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx > -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// ParseRequirements parses every line of a requirements file.
func ParseRequirements(r io.Reader) ([]Requirement, error) {
	lines, err := ReadRequirementsFile(r)
	if err != nil {
		return nil, err
	}
	reqs := make([]Requirement, 0, len(lines))
	for _, line := range lines {
		req, err := ParseRequirement(line)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
