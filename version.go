package whey

import (
	"regexp"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	"golang.org/x/xerrors"
)

// ParseVersion parses a PEP 440 version string.
func ParseVersion(v string) (pep440.Version, error) {
	return pep440.Parse(v)
}

// CompareVersions compares two PEP 440 versions. Unparsable versions sort
// before all parsable ones and are compared lexically among themselves.
func CompareVersions(a, b string) int {
	va, errA := pep440.Parse(a)
	vb, errB := pep440.Parse(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	default:
		return 1
	}
}

// specifierVersion matches the version part of one clause of a specifier,
// e.g. 2.0rc1 in ">=2.0rc1".
var specifierVersion = regexp.MustCompile(`^\s*(?:===|==|!=|~=|<=|>=|<|>)?\s*(.+?)\s*$`)

// mentionsPrerelease reports whether any clause of spec names a pre-release
// version, which opts the specifier into matching pre-releases.
func mentionsPrerelease(spec string) bool {
	for _, clause := range strings.Split(spec, ",") {
		m := specifierVersion.FindStringSubmatch(clause)
		if m == nil {
			continue
		}
		v, err := pep440.Parse(strings.TrimSuffix(m[1], ".*"))
		if err != nil {
			continue
		}
		if v.IsPreRelease() {
			return true
		}
	}
	return false
}

// Specifier is a parsed version specifier such as ">=2.0,<3".
type Specifier struct {
	text       string
	specs      pep440.Specifiers
	prerelease bool
}

// ParseSpecifier parses spec. The empty specifier matches every final
// release.
func ParseSpecifier(spec string) (*Specifier, error) {
	spec = strings.TrimSpace(spec)
	s := &Specifier{
		text:       spec,
		prerelease: mentionsPrerelease(spec),
	}
	if spec == "" {
		return s, nil
	}
	specs, err := pep440.NewSpecifiers(spec)
	if err != nil {
		return nil, xerrors.Errorf("invalid specifier %q: %w", spec, err)
	}
	s.specs = specs
	return s, nil
}

func (s *Specifier) String() string { return s.text }

// Allows reports whether version satisfies s. Pre-releases only match when
// allowPrerelease is set or the specifier itself names a pre-release.
func (s *Specifier) Allows(version string, allowPrerelease bool) bool {
	v, err := pep440.Parse(version)
	if err != nil {
		return false
	}
	if v.IsPreRelease() && !allowPrerelease && !s.prerelease {
		return false
	}
	if s.text == "" {
		return true
	}
	return s.specs.Check(v)
}

// Prereleases reports whether s names a pre-release version and therefore
// matches pre-releases.
func (s *Specifier) Prereleases() bool { return s.prerelease }
