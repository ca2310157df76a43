// Package wheels builds wheels from prepared source trees and reads the
// metadata of built wheels.
package wheels

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/buildenv"
	"github.com/distr1/whey/internal/dependencies"
	"github.com/distr1/whey/internal/env"
	"github.com/distr1/whey/internal/external"
	"github.com/google/renameio"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Builder runs the build_wheel hook and publishes the result into the
// output area.
type Builder struct {
	Dirs env.Dirs
	Log  logrus.FieldLogger
}

// Build builds item from sourceRoot inside e. The wheel is first written to
// a fresh directory below the build area; exactly one wheel for item must
// appear there, which is then atomically moved to the output area.
func (b *Builder) Build(ctx context.Context, item whey.WorkItem, sourceRoot string, e *buildenv.Env) (string, error) {
	bs, err := dependencies.ReadBuildSystem(sourceRoot)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.Dirs.WheelsBuild(), 0755); err != nil {
		return "", err
	}
	outDir, err := os.MkdirTemp(b.Dirs.WheelsBuild(), item.DistVersion()+"-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	if b.Log != nil {
		b.Log.WithFields(logrus.Fields{"pkg": item.Name, "version": item.Version}).Infof("building wheel")
	}
	if _, err := e.Hooks(sourceRoot, bs).BuildWheel(ctx, outDir); err != nil {
		return "", buildError(item, err)
	}
	return b.publish(item, outDir)
}

func buildError(item whey.WorkItem, err error) error {
	berr := &whey.BuildError{Item: item, Err: err}
	var herr *dependencies.HookError
	if xerrors.As(err, &herr) {
		berr.Output, berr.LogFile = herr.Output, herr.LogFile
	}
	var cerr *external.CommandError
	if berr.Output == "" && xerrors.As(err, &cerr) {
		berr.Output = cerr.Output
	}
	return berr
}

// publish moves the single wheel in outDir into the output area.
func (b *Builder) publish(item whey.WorkItem, outDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "*.whl"))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", &whey.BuildError{Item: item, Err: xerrors.Errorf("expected exactly one wheel, found %d", len(matches))}
	}
	fn := filepath.Base(matches[0])
	wn, err := whey.ParseWheelFilename(fn)
	if err != nil {
		return "", &whey.BuildError{Item: item, Err: err}
	}
	if wn.Name != item.Name || whey.CompareVersions(wn.Version, item.Version) != 0 {
		return "", &whey.BuildError{Item: item, Err: xerrors.Errorf("backend produced %s, which does not match %s", fn, item)}
	}

	dest := filepath.Join(b.Dirs.WheelsDownloads(), fn)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	in, err := os.Open(matches[0])
	if err != nil {
		return "", err
	}
	defer in.Close()
	f, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return "", err
	}
	defer f.Cleanup()
	if _, err := io.Copy(f, in); err != nil {
		return "", err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return "", err
	}
	if b.Log != nil {
		b.Log.WithField("pkg", item.Name).Infof("wheel successfully created in %s", dest)
	}
	return dest, nil
}

// Find returns the wheel of item in dir, if any.
func Find(dir string, item whey.WorkItem) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ".whl") {
			continue
		}
		wn, err := whey.ParseWheelFilename(e.Name())
		if err != nil {
			continue
		}
		if wn.Name == item.Name && whey.CompareVersions(wn.Version, item.Version) == 0 {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", &whey.NotFoundError{What: "wheel for " + item.String(), Where: []string{dir}}
}

// RemoveProject deletes all wheels of the named project from dir and returns
// the removed paths.
func RemoveProject(dir, name string) ([]string, error) {
	name = whey.NormalizeName(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".whl") {
			continue
		}
		wn, err := whey.ParseWheelFilename(e.Name())
		if err != nil || wn.Name != name {
			continue
		}
		fn := filepath.Join(dir, e.Name())
		if err := os.Remove(fn); err != nil {
			return removed, err
		}
		removed = append(removed, fn)
	}
	return removed, nil
}

// Metadata reads the core metadata of the wheel at path.
func Metadata(path string) (name, version string, requiresDist []string, _ error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", "", nil, err
	}
	defer zr.Close()
	for _, f := range zr.File {
		dir, base := filepath.Split(f.Name)
		if base != "METADATA" || strings.Count(dir, "/") != 1 || !strings.HasSuffix(dir, ".dist-info/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", "", nil, err
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", "", nil, err
		}
		return dependencies.ParseMetadata(b)
	}
	return "", "", nil, xerrors.Errorf("%s: no .dist-info/METADATA found", path)
}

// Requires returns the Requires-Dist entries of the wheel at path.
func Requires(path string) ([]string, error) {
	_, _, requires, err := Metadata(path)
	return requires, err
}
