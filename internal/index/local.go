package index

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/distr1/whey"
)

// Local is an index over directories of artifacts. Listings are computed on
// every call, so files added or removed during a run are visible immediately.
type Local struct {
	Dirs []string
}

func (l *Local) String() string { return "local:" + strings.Join(l.Dirs, ",") }

// ProjectOf returns the normalized project name of an artifact file name, or
// the empty string if fn is neither a wheel nor a source archive.
func ProjectOf(fn string) string {
	if strings.HasSuffix(fn, ".whl") {
		wn, err := whey.ParseWheelFilename(fn)
		if err != nil {
			return ""
		}
		return whey.NormalizeName(wn.Name)
	}
	name, _, err := whey.ParseSdistFilename(fn)
	if err != nil {
		return ""
	}
	return whey.NormalizeName(name)
}

func (l *Local) each(fn func(dir string, fi os.DirEntry) error) error {
	for _, dir := range l.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, e := range entries {
			// Temporary files (renameio) and directories are not artifacts.
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if err := fn(dir, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Projects returns the sorted, normalized names of all projects with at least
// one artifact.
func (l *Local) Projects() ([]string, error) {
	seen := make(map[string]bool)
	err := l.each(func(dir string, e os.DirEntry) error {
		if p := ProjectOf(e.Name()); p != "" {
			seen[p] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	return projects, nil
}

// Files returns the artifacts of project, sorted by file name. File.URL is
// left empty; the server fills it in.
func (l *Local) Files(ctx context.Context, project string) ([]File, error) {
	project = whey.NormalizeName(project)
	var files []File
	err := l.each(func(dir string, e os.DirEntry) error {
		if ProjectOf(e.Name()) != project {
			return nil
		}
		files = append(files, File{
			Filename: e.Name(),
			Path:     filepath.Join(dir, e.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Filename != files[j].Filename {
			return files[i].Filename < files[j].Filename
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func (l *Local) Open(ctx context.Context, f File) (io.ReadCloser, error) {
	return os.Open(f.Path)
}
