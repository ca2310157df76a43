// Package resolver selects one concrete version per requirement from a list of
// package indexes: the newest version allowed by the requirement and the
// constraints. There is no backtracking.
package resolver

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/index"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Constraints limit the versions of named projects. They apply in addition
// to the specifier of every requirement for the same project.
type Constraints map[string]whey.Requirement

// ParseConstraints reads a constraints file: one requirement per line,
// comments allowed. A project may only be constrained once.
func ParseConstraints(r io.Reader) (Constraints, error) {
	reqs, err := whey.ParseRequirements(r)
	if err != nil {
		return nil, err
	}
	c := make(Constraints)
	for _, req := range reqs {
		if _, ok := c[req.Key()]; ok {
			return nil, &whey.ConfigurationError{Msg: "constraints", Err: xerrors.Errorf("%s constrained more than once", req.Key())}
		}
		c[req.Key()] = req
	}
	return c, nil
}

// Get returns the constraint for name, if any.
func (c Constraints) Get(name string) (whey.Requirement, bool) {
	req, ok := c[whey.NormalizeName(name)]
	return req, ok
}

// Match is one file which satisfies a requirement.
type Match struct {
	whey.Candidate
	File  index.File
	Index index.PackageIndex
}

// Resolver finds matching files. Listings are cached per index and project
// for the lifetime of the Resolver.
type Resolver struct {
	Target      whey.Target
	Constraints Constraints
	Log         logrus.FieldLogger

	mu    sync.Mutex
	cache map[cacheKey][]index.File
}

type cacheKey struct {
	index   string
	project string
}

// Kinds selects which kinds of files are acceptable.
type Kinds struct {
	Sdists bool
	Wheels bool
}

var (
	SdistsOnly = Kinds{Sdists: true}
	WheelsOnly = Kinds{Wheels: true}
)

func (r *Resolver) files(ctx context.Context, idx index.PackageIndex, project string) ([]index.File, error) {
	key := cacheKey{idx.String(), project}
	r.mu.Lock()
	files, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return files, nil
	}
	files, err := idx.Files(ctx, project)
	if err != nil {
		return nil, xerrors.Errorf("%s: listing %s: %w", idx, project, err)
	}
	r.mu.Lock()
	if r.cache == nil {
		r.cache = make(map[cacheKey][]index.File)
	}
	r.cache[key] = files
	r.mu.Unlock()
	return files, nil
}

// candidate parses f into a Candidate of project, reporting false for files
// of other kinds, other projects or unsupported platforms.
func (r *Resolver) candidate(project string, f index.File, kinds Kinds) (whey.Candidate, bool) {
	c := whey.Candidate{
		Name:     project,
		Filename: f.Filename,
		URL:      f.URL,
	}
	if strings.HasSuffix(f.Filename, ".whl") {
		if !kinds.Wheels {
			return c, false
		}
		wn, err := whey.ParseWheelFilename(f.Filename)
		if err != nil || wn.Name != project {
			return c, false
		}
		if !r.Target.Supports(wn) {
			return c, false
		}
		c.Version = wn.Version
		return c, true
	}
	if !kinds.Sdists {
		return c, false
	}
	c.IsSdist = true
	if f.Version != "" {
		c.Version = f.Version
		return c, true
	}
	name, version, err := whey.ParseSdistFilename(f.Filename)
	// Names are compared after normalization, so that e.g. pkg-a-extra-1.0
	// is not taken for version extra-1.0 of pkg-a.
	if err != nil || name != project {
		return c, false
	}
	c.Version = version
	return c, true
}

// Candidates returns all files satisfying req, newest version first, across
// idxs in order. Ties keep index order.
func (r *Resolver) Candidates(ctx context.Context, req whey.Requirement, idxs []index.PackageIndex, kinds Kinds) ([]Match, error) {
	project := req.Key()
	if req.URL != "" {
		return nil, &whey.ConfigurationError{Msg: "requirement " + req.String() + ": direct references are not supported, pin a version instead"}
	}
	spec, err := whey.ParseSpecifier(req.Specifier)
	if err != nil {
		return nil, err
	}
	allowPre := spec.Prereleases()
	var constraint *whey.Specifier
	if c, ok := r.Constraints.Get(project); ok {
		if constraint, err = whey.ParseSpecifier(c.Specifier); err != nil {
			return nil, err
		}
		allowPre = allowPre || constraint.Prereleases()
	}

	var matches []Match
	for _, idx := range idxs {
		files, err := r.files(ctx, idx, project)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			c, ok := r.candidate(project, f, kinds)
			if !ok {
				continue
			}
			if !r.Target.SupportsPython(f.RequiresPython) {
				continue
			}
			if f.Yanked && req.Specifier != "=="+c.Version {
				continue
			}
			if !spec.Allows(c.Version, allowPre) {
				continue
			}
			if constraint != nil && !constraint.Allows(c.Version, allowPre) {
				continue
			}
			c.Index = idx.String()
			matches = append(matches, Match{Candidate: c, File: f, Index: idx})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return whey.CompareVersions(matches[i].Version, matches[j].Version) > 0
	})
	return matches, nil
}

// Resolve returns the best file satisfying req, or *whey.NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, req whey.Requirement, idxs []index.PackageIndex, kinds Kinds) (Match, error) {
	matches, err := r.Candidates(ctx, req, idxs, kinds)
	if err != nil {
		return Match{}, err
	}
	if len(matches) == 0 {
		what := req.String()
		if c, ok := r.Constraints.Get(req.Key()); ok {
			what += " (constraint " + c.String() + ")"
		}
		where := make([]string, len(idxs))
		for i, idx := range idxs {
			where[i] = idx.String()
		}
		return Match{}, &whey.NotFoundError{What: what, Where: where}
	}
	best := matches[0]
	if r.Log != nil {
		r.Log.WithField("pkg", req.Key()).Debugf("selected %s from %d candidates", best.Candidate, len(matches))
	}
	return best, nil
}
