package bootstrap

import (
	"context"
	"path/filepath"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/buildenv"
	"github.com/distr1/whey/internal/dependencies"
	"github.com/distr1/whey/internal/env"
	"github.com/distr1/whey/internal/index"
	"github.com/distr1/whey/internal/resolver"
	"github.com/distr1/whey/internal/sources"
	"github.com/distr1/whey/internal/wheels"
	"github.com/sirupsen/logrus"
)

// Stages performs the work on one WorkItem. Pipeline implements it with the
// real components; tests substitute fakes.
type Stages interface {
	// Resolve returns the version of req to build from source.
	Resolve(ctx context.Context, req whey.Requirement) (string, error)

	// Prebuilt resolves req to a wheel on the remote index and stores it in
	// the pre-built area, removing all files of the project from the output
	// area.
	Prebuilt(ctx context.Context, req whey.Requirement) (whey.Artifact, error)

	// Download returns the source archive of item, downloading it if needed.
	Download(ctx context.Context, item whey.WorkItem) (string, error)

	PrepareSource(ctx context.Context, item whey.WorkItem, archive string) (string, error)
	BuildSystemRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, sourceRoot string) ([]whey.Requirement, error)
	PrepareBuild(ctx context.Context, item whey.WorkItem, reqs []whey.Requirement) (*buildenv.Env, error)
	BuildBackendRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, e *buildenv.Env, sourceRoot string) ([]whey.Requirement, error)
	InstallDeps(ctx context.Context, e *buildenv.Env, reqs []whey.Requirement) error
	Build(ctx context.Context, item whey.WorkItem, sourceRoot string, e *buildenv.Env) (string, error)

	// RuntimeRequirements returns the requirements declared by the wheel of
	// a, filtered for the parent requirement's extras.
	RuntimeRequirements(ctx context.Context, a whey.Artifact, parent whey.Requirement, prebuilt bool) ([]whey.Requirement, error)

	// Cleanup removes the build environment once the wheel is built.
	Cleanup(e *buildenv.Env) error
}

// Pipeline wires the acquisition, preparation and build components.
type Pipeline struct {
	Dirs      env.Dirs
	IndexURLs []string

	Acquirer   *sources.Acquirer
	Sources    *sources.Preparer
	Discoverer *dependencies.Discoverer
	BuildEnvs  *buildenv.Preparer
	Builder    *wheels.Builder

	Log logrus.FieldLogger
}

func (p *Pipeline) Resolve(ctx context.Context, req whey.Requirement) (string, error) {
	m, err := p.Acquirer.Resolve(ctx, req, p.IndexURLs)
	if err != nil {
		return "", err
	}
	return m.Version, nil
}

func (p *Pipeline) Prebuilt(ctx context.Context, req whey.Requirement) (whey.Artifact, error) {
	idxs := make([]index.PackageIndex, len(p.IndexURLs))
	for i, u := range p.IndexURLs {
		idxs[i] = index.NewHTTP(u, p.Log)
	}
	m, err := p.Acquirer.Resolver.Resolve(ctx, req, idxs, resolver.WheelsOnly)
	if err != nil {
		return whey.Artifact{}, err
	}
	dest := filepath.Join(p.Dirs.WheelsPrebuilt(), m.Filename)
	if err := sources.Fetch(ctx, m, dest, p.Log); err != nil {
		return whey.Artifact{}, err
	}
	removed, err := wheels.RemoveProject(p.Dirs.WheelsDownloads(), req.Name)
	if err != nil {
		return whey.Artifact{}, err
	}
	for _, fn := range removed {
		if p.Log != nil {
			p.Log.WithField("pkg", req.Key()).Infof("removed pre-built project's %s from the output area", filepath.Base(fn))
		}
	}
	return whey.Artifact{
		Item: whey.NewWorkItem(req.Name, m.Version, p.Dirs.Variant),
		Path: dest,
	}, nil
}

func (p *Pipeline) Download(ctx context.Context, item whey.WorkItem) (string, error) {
	if archive, err := p.Acquirer.FindSdist(item); err == nil {
		return archive, nil
	}
	req := whey.Requirement{Name: item.Name}.Pin(item.Version)
	src, err := p.Acquirer.Download(ctx, req, p.IndexURLs)
	if err != nil {
		return "", err
	}
	return src.Archive, nil
}

func (p *Pipeline) PrepareSource(ctx context.Context, item whey.WorkItem, archive string) (string, error) {
	return p.Sources.Prepare(ctx, item, archive)
}

func (p *Pipeline) BuildSystemRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, sourceRoot string) ([]whey.Requirement, error) {
	return p.Discoverer.BuildSystemRequirements(item, parent, sourceRoot)
}

func (p *Pipeline) PrepareBuild(ctx context.Context, item whey.WorkItem, reqs []whey.Requirement) (*buildenv.Env, error) {
	return p.BuildEnvs.Prepare(ctx, item, reqs)
}

func (p *Pipeline) BuildBackendRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, e *buildenv.Env, sourceRoot string) ([]whey.Requirement, error) {
	bs, err := dependencies.ReadBuildSystem(sourceRoot)
	if err != nil {
		return nil, err
	}
	return p.Discoverer.BuildBackendRequirements(ctx, item, parent, e.Hooks(sourceRoot, bs))
}

func (p *Pipeline) InstallDeps(ctx context.Context, e *buildenv.Env, reqs []whey.Requirement) error {
	return e.Install(ctx, reqs)
}

func (p *Pipeline) Build(ctx context.Context, item whey.WorkItem, sourceRoot string, e *buildenv.Env) (string, error) {
	return p.Builder.Build(ctx, item, sourceRoot, e)
}

func (p *Pipeline) RuntimeRequirements(ctx context.Context, a whey.Artifact, parent whey.Requirement, prebuilt bool) ([]whey.Requirement, error) {
	requires, err := wheels.Requires(a.Path)
	if err != nil {
		return nil, err
	}
	if prebuilt {
		// Pre-built WorkItems have no work directory to cache into.
		return p.Discoverer.Filter(parent, requires)
	}
	return p.Discoverer.RuntimeRequirements(a.Item, parent, requires)
}

func (p *Pipeline) Cleanup(e *buildenv.Env) error {
	return e.Remove()
}
