package sources

import (
	"archive/tar"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/distr1/whey"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/xerrors"
)

// safeJoin returns dest/name, or an error if name would end up outside of
// dest, e.g. ../../etc/passwd.
func safeJoin(dest, name string) (string, error) {
	p := filepath.Join(dest, name)
	if !within(dest, p) {
		return "", xerrors.Errorf("illegal file path in archive: %s", name)
	}
	return p, nil
}

func within(dest, p string) bool {
	p = filepath.Clean(p)
	return p == dest || strings.HasPrefix(p, dest+string(os.PathSeparator))
}

// Extract unpacks archive into the existing directory dest. The format is
// selected by file extension.
func Extract(archive, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	_, ext := whey.TrimArchiveSuffix(filepath.Base(archive))
	if ext == ".zip" {
		return extractZip(archive, dest)
	}
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader
	switch ext {
	case ".tar.gz", ".tgz":
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return xerrors.Errorf("%s: %w", archive, err)
		}
		defer gz.Close()
		r = gz
	case ".tar.bz2":
		r = bzip2.NewReader(f)
	case ".tar.xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return xerrors.Errorf("%s: %w", archive, err)
		}
		r = xr
	case ".tar.zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return xerrors.Errorf("%s: %w", archive, err)
		}
		defer zr.Close()
		r = zr
	default:
		return xerrors.Errorf("%s: unsupported archive format", archive)
	}
	if err := extractTar(r, dest); err != nil {
		return xerrors.Errorf("%s: %w", archive, err)
	}
	return nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if target == dest {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		mode := os.FileMode(hdr.Mode).Perm() | 0600
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			resolved := hdr.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(target), resolved)
			}
			if !within(dest, resolved) {
				return xerrors.Errorf("illegal symlink in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		case tar.TypeLink:
			old, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.Link(old, target); err != nil {
				return err
			}
		default:
			// pax headers, devices and fifos carry nothing a build needs
		}
	}
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return xerrors.Errorf("%s: %w", archive, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return xerrors.Errorf("%s: %w", archive, err)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode().Perm()|0600)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// topLevel returns the single directory below dir if dir contains exactly
// one entry which is a directory, and dir itself otherwise.
func topLevel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
