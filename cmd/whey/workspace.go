package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/bootstrap"
	"github.com/distr1/whey/internal/buildenv"
	"github.com/distr1/whey/internal/dependencies"
	"github.com/distr1/whey/internal/env"
	"github.com/distr1/whey/internal/external"
	"github.com/distr1/whey/internal/resolver"
	"github.com/distr1/whey/internal/server"
	"github.com/distr1/whey/internal/settings"
	"github.com/distr1/whey/internal/sources"
	"github.com/distr1/whey/internal/wheels"
	"golang.org/x/xerrors"
)

// externalServer is a wheel server run by somebody else (-wheel-server-url).
type externalServer string

func (s externalServer) URL() string { return string(s) }

// workspace holds the components shared by all verbs, configured from the
// global flags.
type workspace struct {
	dirs       env.Dirs
	settings   *settings.Settings
	runner     *external.Runner
	resolver   *resolver.Resolver
	acquirer   *sources.Acquirer
	sources    *sources.Preparer
	discoverer *dependencies.Discoverer
	buildEnvs  *buildenv.Preparer
	builder    *wheels.Builder

	// server is nil when an external wheel server is used.
	server *server.Server
}

const pythonVersionScript = "import platform; print(platform.python_version())"

func interpreterVersion(ctx context.Context, runner *external.Runner, python string) (string, error) {
	out, err := runner.Run(ctx, external.Cmd{Args: []string{python, "-c", pythonVersionScript}})
	if err != nil {
		return "", &whey.ConfigurationError{Msg: "determining the version of " + python, Err: err}
	}
	return strings.TrimSpace(out), nil
}

func newWorkspace(ctx context.Context) (*workspace, error) {
	d, err := dirs()
	if err != nil {
		return nil, err
	}
	if err := d.Setup(); err != nil {
		return nil, err
	}
	s, err := settings.Load(*settingsFile, *patchesDir, *envsDir)
	if err != nil {
		return nil, err
	}
	var cons resolver.Constraints
	if *constraints != "" {
		f, err := os.Open(*constraints)
		if err != nil {
			return nil, &whey.ConfigurationError{Msg: "constraints", Err: err}
		}
		defer f.Close()
		if cons, err = resolver.ParseConstraints(f); err != nil {
			return nil, err
		}
	}

	runner := &external.Runner{Log: logger}
	version := *pyVersion
	if version == "" {
		if version, err = interpreterVersion(ctx, runner, *python); err != nil {
			return nil, err
		}
	}
	target := whey.DefaultTarget(version)
	logger.Debugf("resolving for Python %s on %s/%s", version, target.GOOS, target.GOARCH)

	res := &resolver.Resolver{Target: target, Constraints: cons, Log: logger}
	ws := &workspace{
		dirs:       d,
		settings:   s,
		runner:     runner,
		resolver:   res,
		acquirer:   &sources.Acquirer{Dirs: d, Resolver: res, Settings: s, Log: logger, GitHubAPI: *githubAPI},
		sources:    &sources.Preparer{Dirs: d, Settings: s, Log: logger},
		discoverer: &dependencies.Discoverer{Dirs: d, Target: target, Log: logger},
		builder:    &wheels.Builder{Dirs: d, Log: logger},
	}
	ws.buildEnvs = &buildenv.Preparer{
		Dirs:             d,
		Runner:           runner,
		Settings:         s,
		Python:           *python,
		NetworkIsolation: *netIsolation,
		Log:              logger,
	}
	if urls := indexURLs(); len(urls) > 0 {
		ws.buildEnvs.ExtraIndexURL = urls[0]
	}
	if *wheelServer != "" {
		ws.buildEnvs.Server = externalServer(*wheelServer)
	} else {
		ws.server = &server.Server{Dirs: d.Served(), Log: logger}
		ws.buildEnvs.Server = ws.server
	}
	return ws, nil
}

// startServer starts the built-in artifact server (if used) and stops it at
// exit.
func (ws *workspace) startServer(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	if err := ws.server.Start(ctx); err != nil {
		return xerrors.Errorf("starting artifact server: %w", err)
	}
	whey.RegisterAtExit(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Stop(ctx)
	})
	return nil
}

func (ws *workspace) pipeline() *bootstrap.Pipeline {
	return &bootstrap.Pipeline{
		Dirs:       ws.dirs,
		IndexURLs:  indexURLs(),
		Acquirer:   ws.acquirer,
		Sources:    ws.sources,
		Discoverer: ws.discoverer,
		BuildEnvs:  ws.buildEnvs,
		Builder:    ws.builder,
		Log:        logger,
	}
}

// item parses the NAME VERSION arguments of the step verbs.
func (ws *workspace) item(args []string) (whey.WorkItem, error) {
	if len(args) < 2 {
		return whey.WorkItem{}, xerrors.New("syntax: NAME VERSION")
	}
	if _, err := whey.ParseVersion(args[1]); err != nil {
		return whey.WorkItem{}, err
	}
	return whey.NewWorkItem(args[0], args[1], ws.dirs.Variant), nil
}
