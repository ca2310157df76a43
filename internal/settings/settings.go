// Package settings provides per-package overrides: which packages are
// pre-built for a variant, which patches apply, and which environment
// variables a build needs.
package settings

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/distr1/whey"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Provider is the view of the settings the bootstrap pipeline consumes.
type Provider interface {
	IsPreBuilt(name string, variant whey.Variant) bool
	PatchesFor(name, version string, variant whey.Variant) ([]string, error)
	BuildEnvFor(name string, variant whey.Variant) (map[string]string, error)
}

// Resolver selects where versions of a package are looked up.
type Resolver struct {
	// Provider is "pypi" (the default: the configured package indexes) or
	// "github" (git tags of a GitHub repository).
	Provider     string `yaml:"provider"`
	Organization string `yaml:"organization"`
	Repo         string `yaml:"repo"`

	// TagPattern extracts the version from a tag name via its first
	// submatch, e.g. ^v(.*)$. Tags are parsed as versions directly if empty.
	TagPattern string `yaml:"tag_pattern"`
}

// Variant holds the settings of one package which only apply to one variant.
type Variant struct {
	Env map[string]string `yaml:"env"`
}

// Package holds the settings of one package.
type Package struct {
	Env      map[string]string  `yaml:"env"`
	Variants map[string]Variant `yaml:"variants"`
	Resolver Resolver           `yaml:"resolver"`
}

// File is the schema of the settings YAML file.
type File struct {
	// PreBuilt maps a variant name to the packages which are not built from
	// source for that variant.
	PreBuilt map[string][]string `yaml:"pre_built"`
	Packages map[string]Package  `yaml:"packages"`
}

// Settings implements Provider on top of a settings file, a patches directory
// and an environment files directory.
type Settings struct {
	PatchesDir string
	EnvsDir    string

	preBuilt map[whey.Variant]map[string]bool
	packages map[string]Package // keyed by normalized name
}

func configErr(format string, args ...interface{}) error {
	return &whey.ConfigurationError{Msg: "settings", Err: xerrors.Errorf(format, args...)}
}

// Parse decodes and validates a settings file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, configErr("%w", err)
	}
	for name, pkg := range f.Packages {
		switch pkg.Resolver.Provider {
		case "", "pypi":
		case "github":
			if pkg.Resolver.Organization == "" || pkg.Resolver.Repo == "" {
				return nil, configErr("package %s: github resolver needs organization and repo", name)
			}
		default:
			return nil, configErr("package %s: unknown resolver provider %q", name, pkg.Resolver.Provider)
		}
		if p := pkg.Resolver.TagPattern; p != "" {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, configErr("package %s: tag_pattern: %w", name, err)
			}
			if re.NumSubexp() < 1 {
				return nil, configErr("package %s: tag_pattern %q has no submatch", name, p)
			}
		}
	}
	return &f, nil
}

// New returns Settings for f.
func New(f *File, patchesDir, envsDir string) *Settings {
	s := &Settings{
		PatchesDir: patchesDir,
		EnvsDir:    envsDir,
		preBuilt:   make(map[whey.Variant]map[string]bool),
		packages:   make(map[string]Package),
	}
	if f == nil {
		return s
	}
	for variant, names := range f.PreBuilt {
		set := make(map[string]bool)
		for _, name := range names {
			set[whey.NormalizeName(name)] = true
		}
		s.preBuilt[whey.Variant(variant)] = set
	}
	for name, pkg := range f.Packages {
		s.packages[whey.NormalizeName(name)] = pkg
	}
	return s
}

// Load reads the settings file (which may be absent) and returns Settings.
func Load(settingsFile, patchesDir, envsDir string) (*Settings, error) {
	b, err := os.ReadFile(settingsFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	f, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", settingsFile, err)
	}
	return New(f, patchesDir, envsDir), nil
}

// PreBuilt returns the sorted names of the packages pre-built for variant.
func (s *Settings) PreBuilt(variant whey.Variant) []string {
	var names []string
	for name := range s.preBuilt[variant] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Settings) IsPreBuilt(name string, variant whey.Variant) bool {
	return s.preBuilt[variant][whey.NormalizeName(name)]
}

// Package returns the settings of the named package (zero if unset).
func (s *Settings) Package(name string) Package {
	return s.packages[whey.NormalizeName(name)]
}

// PatchesFor returns the patches for one version of a package, sorted by file
// name. Patches are looked up in <dist>-<version>/, <dist>-<version>/<variant>/
// and <dist>/ below the patches directory.
func (s *Settings) PatchesFor(name, version string, variant whey.Variant) ([]string, error) {
	if s.PatchesDir == "" {
		return nil, nil
	}
	dist := whey.DistName(name)
	var patches []string
	for _, dir := range []string{
		filepath.Join(s.PatchesDir, dist+"-"+version),
		filepath.Join(s.PatchesDir, dist+"-"+version, string(variant)),
		filepath.Join(s.PatchesDir, dist),
	} {
		matches, err := filepath.Glob(filepath.Join(dir, "*.patch"))
		if err != nil {
			return nil, err
		}
		patches = append(patches, matches...)
	}
	sort.SliceStable(patches, func(i, j int) bool {
		bi, bj := filepath.Base(patches[i]), filepath.Base(patches[j])
		if bi != bj {
			return bi < bj
		}
		return patches[i] < patches[j]
	})
	return patches, nil
}

// BuildEnvFor returns the extra environment variables for building a package
// in variant. Package-level values are overridden by variant-level values,
// which are overridden by the <envs-dir>/<variant>/<dist>.env file.
func (s *Settings) BuildEnvFor(name string, variant whey.Variant) (map[string]string, error) {
	env := make(map[string]string)
	pkg := s.Package(name)
	for k, v := range pkg.Env {
		env[k] = v
	}
	for k, v := range pkg.Variants[string(variant)].Env {
		env[k] = v
	}
	if s.EnvsDir == "" {
		return env, nil
	}
	fn := filepath.Join(s.EnvsDir, string(variant), whey.DistName(name)+".env")
	f, err := os.Open(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := parseEnvFile(f, env); err != nil {
		return nil, &whey.ConfigurationError{Msg: fn, Err: err}
	}
	return env, nil
}

// parseEnvFile reads KEY=VALUE lines into env. Values may be quoted and may
// reference $VAR or ${VAR}, which is looked up in env first and then in the
// process environment.
func parseEnvFile(r io.Reader, env map[string]string) error {
	scanner := bufio.NewScanner(r)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.IndexByte(line, '=')
		if idx < 1 {
			return xerrors.Errorf("line %d: expected KEY=VALUE, got %q", lineno, line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		env[key] = os.Expand(value, func(k string) string {
			if v, ok := env[k]; ok {
				return v
			}
			return os.Getenv(k)
		})
	}
	return scanner.Err()
}
