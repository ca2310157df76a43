package dependencies

import (
	"bytes"
	"context"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/env"
	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Names of the cached requirement files in the work directory of a package.
const (
	BuildSystemFile  = "build-system-requirements.txt"
	BuildBackendFile = "build-backend-requirements.txt"
	RuntimeFile      = "requirements.txt"
)

// Discoverer determines the requirement sets of packages. Requirements whose
// marker does not match the target (or the extras of the requiring package)
// are dropped before caching.
type Discoverer struct {
	Dirs   env.Dirs
	Target whey.Target
	Log    logrus.FieldLogger
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (d *Discoverer) log(item whey.WorkItem) logrus.FieldLogger {
	var log logrus.FieldLogger = discard
	if d.Log != nil {
		log = d.Log
	}
	return log.WithFields(logrus.Fields{"pkg": item.Name, "version": item.Version})
}

// Filter parses raw and keeps the requirements which apply to the target on
// behalf of parent, sorted by their string form.
func (d *Discoverer) Filter(parent whey.Requirement, raw []string) ([]whey.Requirement, error) {
	markers := d.Target.MarkerEnv()
	seen := make(map[string]bool)
	var reqs []whey.Requirement
	for _, line := range raw {
		r, err := whey.ParseRequirement(line)
		if err != nil {
			return nil, err
		}
		ok, err := r.Applies(markers, parent.Extras)
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", r, err)
		}
		if !ok {
			continue
		}
		// The marker was evaluated; drop it so the cached form stays valid
		// without the parent's extras.
		r.Marker = ""
		if s := r.String(); !seen[s] {
			seen[s] = true
			reqs = append(reqs, r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].String() < reqs[j].String() })
	return reqs, nil
}

func (d *Discoverer) cached(item whey.WorkItem, name string) ([]whey.Requirement, bool, error) {
	f, err := os.Open(filepath.Join(d.Dirs.ItemDir(item), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()
	reqs, err := whey.ParseRequirements(f)
	if err != nil {
		return nil, false, xerrors.Errorf("%s: %w", f.Name(), err)
	}
	return reqs, true, nil
}

func (d *Discoverer) write(item whey.WorkItem, name string, reqs []whey.Requirement) error {
	dir := d.Dirs.ItemDir(item)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range reqs {
		buf.WriteString(r.String() + "\n")
	}
	return renameio.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644)
}

func (d *Discoverer) discover(item whey.WorkItem, name string, parent whey.Requirement, fetch func() ([]string, error)) ([]whey.Requirement, error) {
	log := d.log(item)
	if reqs, ok, err := d.cached(item, name); err != nil || ok {
		if ok {
			log.Debugf("loaded %d requirements from %s", len(reqs), name)
		}
		return reqs, err
	}
	raw, err := fetch()
	if err != nil {
		return nil, err
	}
	reqs, err := d.Filter(parent, raw)
	if err != nil {
		return nil, err
	}
	if err := d.write(item, name, reqs); err != nil {
		return nil, err
	}
	log.Infof("%s: %d requirements", strings.TrimSuffix(name, ".txt"), len(reqs))
	return reqs, nil
}

// BuildSystemRequirements returns the requires of the build system of the
// source tree at sourceRoot.
func (d *Discoverer) BuildSystemRequirements(item whey.WorkItem, parent whey.Requirement, sourceRoot string) ([]whey.Requirement, error) {
	return d.discover(item, BuildSystemFile, parent, func() ([]string, error) {
		bs, err := ReadBuildSystem(sourceRoot)
		if err != nil {
			return nil, err
		}
		return bs.Requires, nil
	})
}

// BuildBackendRequirements asks the build backend for its additional
// requirements for building a wheel.
func (d *Discoverer) BuildBackendRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, hooks *HookCaller) ([]whey.Requirement, error) {
	return d.discover(item, BuildBackendFile, parent, func() ([]string, error) {
		return hooks.GetRequiresForBuildWheel(ctx)
	})
}

// RuntimeRequirements filters the Requires-Dist lines of a built wheel and
// caches the result next to the build-time requirement sets.
func (d *Discoverer) RuntimeRequirements(item whey.WorkItem, parent whey.Requirement, requiresDist []string) ([]whey.Requirement, error) {
	reqs, err := d.Filter(parent, requiresDist)
	if err != nil {
		return nil, err
	}
	if err := d.write(item, RuntimeFile, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// ParseMetadata returns the Requires-Dist values of a core metadata file
// (METADATA or PKG-INFO).
func ParseMetadata(b []byte) (name, version string, requiresDist []string, _ error) {
	// Core metadata without a body lacks the separating empty line.
	if !bytes.Contains(b, []byte("\n\n")) {
		b = append(append([]byte(nil), bytes.TrimRight(b, "\n")...), "\n\n"...)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(b))
	if err != nil {
		return "", "", nil, xerrors.Errorf("parsing metadata: %w", err)
	}
	return msg.Header.Get("Name"), msg.Header.Get("Version"), msg.Header["Requires-Dist"], nil
}
