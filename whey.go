// Package whey builds wheels from source for a set of top-level requirements
// and everything they transitively depend on.
package whey

import (
	"fmt"
	"regexp"
	"strings"
)

// Variant names a build configuration (e.g. cpu or gpu). It selects which
// settings, patches and pre-built lists apply and is fixed for a whole run.
type Variant string

// DefaultVariant is used when no variant is specified.
const DefaultVariant Variant = "cpu"

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the PEP 503 normalized form of a project name,
// e.g. Foo.Bar_baz becomes foo-bar-baz.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// DistName returns the form of name used in file names on disk,
// e.g. Foo.Bar becomes foo_bar.
func DistName(name string) string {
	return strings.ReplaceAll(NormalizeName(name), "-", "_")
}

// WorkItem identifies one unit of build work. It is comparable and serves as
// the de-duplication key of a bootstrap run.
type WorkItem struct {
	Name    string // normalized
	Version string
	Variant Variant
}

// NewWorkItem returns a WorkItem for name, normalizing it.
func NewWorkItem(name, version string, variant Variant) WorkItem {
	return WorkItem{
		Name:    NormalizeName(name),
		Version: version,
		Variant: variant,
	}
}

func (w WorkItem) String() string {
	if w.Version == "" {
		// not resolved yet
		return fmt.Sprintf("%s [%s]", w.Name, w.Variant)
	}
	return fmt.Sprintf("%s==%s [%s]", w.Name, w.Version, w.Variant)
}

// DistVersion returns the <dist>-<version> prefix shared by the source
// archive, the work directory and the source root of w.
func (w WorkItem) DistVersion() string {
	return DistName(w.Name) + "-" + w.Version
}

// Candidate is one downloadable file offered by a package index.
type Candidate struct {
	Name     string // normalized
	Version  string
	Filename string
	URL      string
	IsSdist  bool
	Index    string // the index the candidate was found in
}

func (c Candidate) String() string {
	return c.Filename + " (" + c.Index + ")"
}

// Artifact is a built wheel for one WorkItem.
type Artifact struct {
	Item WorkItem
	Path string
}
