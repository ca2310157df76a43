// Package dependencies discovers the requirements of a package: the build
// system requirements from pyproject.toml, the additional requirements of the
// build backend via PEP 517 hooks, and the runtime requirements of a built
// wheel. Each set is cached in the work directory of the package.
package dependencies

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/distr1/whey"
	"golang.org/x/xerrors"
)

// BuildSystem is the [build-system] table of pyproject.toml.
type BuildSystem struct {
	Backend     string
	BackendPath []string
	Requires    []string
}

// DefaultBuildSystem is used for keys missing from pyproject.toml (or when
// there is no pyproject.toml at all), matching the behavior of pypa/build.
var DefaultBuildSystem = BuildSystem{
	Backend:  "setuptools.build_meta:__legacy__",
	Requires: []string{"setuptools >= 40.8.0"},
}

type pyproject struct {
	BuildSystem struct {
		Requires     *[]string `toml:"requires"`
		BuildBackend *string   `toml:"build-backend"`
		BackendPath  *[]string `toml:"backend-path"`
	} `toml:"build-system"`
}

// ReadBuildSystem reads <sourceRoot>/pyproject.toml. Each of the keys
// requires, build-backend and backend-path overrides the default
// individually.
func ReadBuildSystem(sourceRoot string) (BuildSystem, error) {
	bs := BuildSystem{
		Backend:  DefaultBuildSystem.Backend,
		Requires: append([]string(nil), DefaultBuildSystem.Requires...),
	}
	fn := filepath.Join(sourceRoot, "pyproject.toml")
	b, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return bs, nil
		}
		return BuildSystem{}, err
	}
	var pp pyproject
	if _, err := toml.Decode(string(b), &pp); err != nil {
		return BuildSystem{}, &whey.ConfigurationError{Msg: fn, Err: err}
	}
	if r := pp.BuildSystem.Requires; r != nil {
		bs.Requires = *r
	}
	if be := pp.BuildSystem.BuildBackend; be != nil {
		if *be == "" {
			return BuildSystem{}, &whey.ConfigurationError{Msg: fn, Err: xerrors.New("empty build-backend")}
		}
		bs.Backend = *be
	}
	if bp := pp.BuildSystem.BackendPath; bp != nil {
		bs.BackendPath = *bp
	}
	return bs, nil
}
