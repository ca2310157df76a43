// Package buildenv prepares isolated build environments (Python virtual
// environments) and installs build-time requirements into them from the
// local artifact server.
package buildenv

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/dependencies"
	"github.com/distr1/whey/internal/env"
	"github.com/distr1/whey/internal/external"
	"github.com/distr1/whey/internal/settings"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Indexer returns the index URL build-time requirements are installed from.
// The local artifact server implements it.
type Indexer interface {
	URL() string
}

// Preparer creates build environments.
type Preparer struct {
	Dirs     env.Dirs
	Runner   *external.Runner
	Settings settings.Provider

	// Python is the interpreter virtual environments are created with.
	Python string

	// Server serves the artifacts built so far. It is the primary index.
	Server Indexer

	// ExtraIndexURL is consulted after Server, if non-empty.
	ExtraIndexURL string

	// NetworkIsolation runs build backend hooks without network access.
	NetworkIsolation bool

	Log logrus.FieldLogger
}

// Env is a prepared build environment for one WorkItem.
type Env struct {
	Item whey.WorkItem
	Dir  string

	// Vars holds the variables set for every command in the environment.
	Vars map[string]string

	p *Preparer
}

func (p *Preparer) python() string {
	if p.Python != "" {
		return p.Python
	}
	return "python3"
}

// Open returns the environment of item without creating or modifying it.
func (p *Preparer) Open(item whey.WorkItem) (*Env, error) {
	dir := p.Dirs.BuildEnv(item)
	if _, err := os.Stat(filepath.Join(dir, "bin", "python")); err != nil {
		return nil, &whey.NotFoundError{What: "build environment for " + item.String(), Where: []string{dir}}
	}
	return p.env(item, dir)
}

func (p *Preparer) env(item whey.WorkItem, dir string) (*Env, error) {
	vars := make(map[string]string)
	if p.Settings != nil {
		extra, err := p.Settings.BuildEnvFor(item.Name, item.Variant)
		if err != nil {
			return nil, err
		}
		for k, v := range extra {
			vars[k] = v
		}
	}
	vars["VIRTUAL_ENV"] = dir
	vars["PATH"] = filepath.Join(dir, "bin") + string(os.PathListSeparator) + os.Getenv("PATH")
	return &Env{Item: item, Dir: dir, Vars: vars, p: p}, nil
}

// Prepare creates the build environment of item (reusing an existing one)
// and installs reqs into it.
func (p *Preparer) Prepare(ctx context.Context, item whey.WorkItem, reqs []whey.Requirement) (*Env, error) {
	dir := p.Dirs.BuildEnv(item)
	e, err := p.env(item, dir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(e.Python()); os.IsNotExist(err) {
		if p.Log != nil {
			p.Log.WithField("pkg", item.Name).Infof("creating build environment in %s", dir)
		}
		logFile := filepath.Join(p.Dirs.ItemDir(item), "logs", "venv.log")
		out, err := p.Runner.Run(ctx, external.Cmd{
			Args:    []string{p.python(), "-m", "venv", dir},
			Env:     e.Vars,
			LogFile: logFile,
		})
		if err != nil {
			return nil, &whey.EnvironmentSetupError{Item: item, Output: out, LogFile: logFile, Err: err}
		}
	} else if err != nil {
		return nil, err
	}
	if err := e.Install(ctx, reqs); err != nil {
		return nil, err
	}
	return e, nil
}

// Python returns the path of the environment's interpreter.
func (e *Env) Python() string {
	return filepath.Join(e.Dir, "bin", "python")
}

// Install installs reqs with pip, from the local artifact server first and
// the extra index second. Only wheels are accepted.
func (e *Env) Install(ctx context.Context, reqs []whey.Requirement) error {
	if len(reqs) == 0 {
		return nil
	}
	args := []string{
		e.Python(), "-m", "pip",
		"install",
		"--disable-pip-version-check",
		"--no-cache-dir",
		"--upgrade",
		"--only-binary", ":all:",
	}
	if e.p.Server != nil {
		args = append(args, "--index-url", e.p.Server.URL())
		if e.p.ExtraIndexURL != "" {
			args = append(args, "--extra-index-url", e.p.ExtraIndexURL)
		}
	} else if e.p.ExtraIndexURL != "" {
		args = append(args, "--index-url", e.p.ExtraIndexURL)
	}
	names := make([]string, len(reqs))
	for i, r := range reqs {
		args = append(args, r.String())
		names[i] = r.Key()
	}
	if e.p.Log != nil {
		e.p.Log.WithField("pkg", e.Item.Name).Infof("installing %s", strings.Join(names, ", "))
	}
	logFile := filepath.Join(e.p.Dirs.ItemDir(e.Item), "logs", "pip-install.log")
	out, err := e.p.Runner.Run(ctx, external.Cmd{
		Args:    args,
		Env:     e.Vars,
		LogFile: logFile,
	})
	if err != nil {
		return &whey.EnvironmentSetupError{Item: e.Item, Output: out, LogFile: logFile, Err: err}
	}
	return nil
}

// Hooks returns a HookCaller for the build backend of the source tree at
// sourceRoot, running in e.
func (e *Env) Hooks(sourceRoot string, bs dependencies.BuildSystem) *dependencies.HookCaller {
	return &dependencies.HookCaller{
		Runner:           e.p.Runner,
		Python:           e.Python(),
		SourceRoot:       sourceRoot,
		BuildSystem:      bs,
		Env:              e.Vars,
		LogDir:           filepath.Join(e.p.Dirs.ItemDir(e.Item), "logs"),
		NetworkIsolation: e.p.NetworkIsolation,
	}
}

// Remove deletes the environment.
func (e *Env) Remove() error {
	if err := os.RemoveAll(e.Dir); err != nil {
		return xerrors.Errorf("removing build environment: %w", err)
	}
	return nil
}
