// Package sources acquires source archives from package indexes and prepares
// patched source trees from them.
package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/env"
	"github.com/distr1/whey/internal/index"
	"github.com/distr1/whey/internal/resolver"
	"github.com/distr1/whey/internal/settings"
	"github.com/google/renameio"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// PackageSettings returns the settings of a package. *settings.Settings
// implements it.
type PackageSettings interface {
	Package(name string) settings.Package
}

// Source is an acquired source archive.
type Source struct {
	Archive string // path below the sdists downloads directory
	Version string
	URL     string // where the archive was downloaded from
}

// Acquirer resolves requirements to source archives and downloads them.
type Acquirer struct {
	Dirs     env.Dirs
	Resolver *resolver.Resolver
	Settings PackageSettings
	Log      logrus.FieldLogger

	// GitHubAPI overrides the GitHub API endpoint of tag resolvers.
	GitHubAPI string
}

// Indexes returns the indexes to look up name in: the package's GitHub
// repository if settings configure one, indexURLs otherwise.
func (a *Acquirer) Indexes(ctx context.Context, name string, indexURLs []string) ([]index.PackageIndex, error) {
	if a.Settings != nil {
		if res := a.Settings.Package(name).Resolver; res.Provider == "github" {
			g, err := index.NewGitHubTags(ctx, name, res.Organization, res.Repo, res.TagPattern, a.GitHubAPI)
			if err != nil {
				return nil, &whey.ConfigurationError{Msg: "resolver for " + name, Err: err}
			}
			return []index.PackageIndex{g}, nil
		}
	}
	idxs := make([]index.PackageIndex, len(indexURLs))
	for i, u := range indexURLs {
		idxs[i] = index.NewHTTP(u, a.Log)
	}
	return idxs, nil
}

// Resolve selects the source distribution to build for req.
func (a *Acquirer) Resolve(ctx context.Context, req whey.Requirement, indexURLs []string) (resolver.Match, error) {
	idxs, err := a.Indexes(ctx, req.Name, indexURLs)
	if err != nil {
		return resolver.Match{}, err
	}
	return a.Resolver.Resolve(ctx, req, idxs, resolver.SdistsOnly)
}

// Download resolves req and stores its source archive as
// <dist>-<version><ext> below the sdists downloads directory, unless an
// archive of that name already exists.
func (a *Acquirer) Download(ctx context.Context, req whey.Requirement, indexURLs []string) (Source, error) {
	m, err := a.Resolve(ctx, req, indexURLs)
	if err != nil {
		return Source{}, err
	}
	item := whey.NewWorkItem(req.Name, m.Version, a.Dirs.Variant)
	_, ext := whey.TrimArchiveSuffix(m.Filename)
	dest := filepath.Join(a.Dirs.SdistsDownloads(), item.DistVersion()+ext)
	if err := Fetch(ctx, m, dest, a.Log); err != nil {
		return Source{}, err
	}
	return Source{Archive: dest, Version: m.Version, URL: m.URL}, nil
}

// FindSdist returns the path of an already downloaded source archive of
// item.
func (a *Acquirer) FindSdist(item whey.WorkItem) (string, error) {
	for _, ext := range whey.SdistExtensions {
		fn := filepath.Join(a.Dirs.SdistsDownloads(), item.DistVersion()+ext)
		if _, err := os.Stat(fn); err == nil {
			return fn, nil
		}
	}
	return "", &whey.NotFoundError{
		What:  "source archive for " + item.String(),
		Where: []string{a.Dirs.SdistsDownloads()},
	}
}

// Fetch stores the contents of m at dest, unless dest already exists. The
// file appears atomically, and concurrent processes fetching into the same
// directory are serialized.
func Fetch(ctx context.Context, m resolver.Match, dest string, log logrus.FieldLogger) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	lock, err := os.OpenFile(filepath.Join(dir, ".lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer lock.Close()
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return xerrors.Errorf("locking %s: %w", dir, err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	if _, err := os.Stat(dest); err == nil {
		if log != nil {
			log.Debugf("%s already downloaded", dest)
		}
		return nil
	}

	if log != nil {
		log.Infof("downloading %s", m.Candidate)
	}
	rc, err := m.Index.Open(ctx, m.File)
	if err != nil {
		return xerrors.Errorf("downloading %s: %w", m.URL, err)
	}
	defer rc.Close()

	f, err := renameio.TempFile(dir, dest)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	var w io.Writer = f
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar := progressbar.DefaultBytes(-1, m.Filename)
		defer bar.Close()
		w = io.MultiWriter(f, bar)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return xerrors.Errorf("downloading %s: %w", m.URL, err)
	}
	return f.CloseAtomicallyReplace()
}

// Preparer turns source archives into patched source roots.
type Preparer struct {
	Dirs     env.Dirs
	Settings settings.Provider
	Log      logrus.FieldLogger
}

// FindSourceDir returns the source root of item if it was prepared before.
func (p *Preparer) FindSourceDir(item whey.WorkItem) (string, error) {
	root := p.Dirs.SourceRoot(item)
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return "", &whey.NotFoundError{What: "source root for " + item.String(), Where: []string{p.Dirs.ItemDir(item)}}
	}
	return root, nil
}

// Prepare unpacks archive, strips its single top-level directory, applies
// the configured patches in file name order and moves the result to the
// source root of item. An existing source root is returned as-is.
func (p *Preparer) Prepare(ctx context.Context, item whey.WorkItem, archive string) (string, error) {
	root := p.Dirs.SourceRoot(item)
	if _, err := os.Stat(root); err == nil {
		if p.Log != nil {
			p.Log.Debugf("%s already prepared", root)
		}
		return root, nil
	} else if !os.IsNotExist(err) {
		return "", err // exists, but can’t access it?
	}

	parent := p.Dirs.ItemDir(item)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(parent, ".unpack")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	if err := Extract(archive, tmp); err != nil {
		return "", err
	}
	top, err := topLevel(tmp)
	if err != nil {
		return "", err
	}

	var patches []string
	if p.Settings != nil {
		if patches, err = p.Settings.PatchesFor(item.Name, item.Version, item.Variant); err != nil {
			return "", err
		}
	}
	for _, patch := range patches {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if p.Log != nil {
			p.Log.Infof("applying patch %s", filepath.Base(patch))
		}
		if err := applyPatch(top, patch); err != nil {
			return "", err
		}
	}

	if err := os.Rename(top, root); err != nil {
		return "", err
	}
	return root, nil
}
