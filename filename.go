package whey

import (
	"strings"

	"golang.org/x/xerrors"
)

// SdistExtensions lists the source archive extensions the preparer can
// unpack, longest first.
var SdistExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tgz", ".zip"}

// TrimArchiveSuffix removes a known source archive extension from fn and
// returns it separately.
func TrimArchiveSuffix(fn string) (base, ext string) {
	for _, suffix := range SdistExtensions {
		if strings.HasSuffix(strings.ToLower(fn), suffix) {
			return fn[:len(fn)-len(suffix)], fn[len(fn)-len(suffix):]
		}
	}
	return fn, ""
}

// ParseSdistFilename splits a source distribution file name such as
// pkg_a-1.0.tar.gz into its normalized project name and version.
func ParseSdistFilename(fn string) (name, version string, _ error) {
	base, ext := TrimArchiveSuffix(fn)
	if ext == "" {
		return "", "", xerrors.Errorf("%s: not a source distribution", fn)
	}
	idx := strings.LastIndexByte(base, '-')
	if idx <= 0 || idx == len(base)-1 {
		return "", "", xerrors.Errorf("%s: missing version", fn)
	}
	name, version = base[:idx], base[idx+1:]
	if _, err := ParseVersion(version); err != nil {
		return "", "", xerrors.Errorf("%s: %w", fn, err)
	}
	return NormalizeName(name), version, nil
}

// Tag is one wheel compatibility tag.
type Tag struct {
	Interpreter string // e.g. py3, cp312
	ABI         string // e.g. none, abi3
	Platform    string // e.g. any, manylinux_2_17_x86_64
}

// WheelName is a parsed wheel file name.
type WheelName struct {
	Name    string // normalized
	Version string
	Build   string
	Tags    []Tag
}

// ParseWheelFilename parses names of the form
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl, expanding
// compressed tag sets such as py2.py3.
func ParseWheelFilename(fn string) (WheelName, error) {
	if !strings.HasSuffix(fn, ".whl") {
		return WheelName{}, xerrors.Errorf("%s: not a wheel", fn)
	}
	parts := strings.Split(strings.TrimSuffix(fn, ".whl"), "-")
	if len(parts) != 5 && len(parts) != 6 {
		return WheelName{}, xerrors.Errorf("%s: invalid wheel name", fn)
	}
	w := WheelName{
		Name:    NormalizeName(parts[0]),
		Version: parts[1],
	}
	if _, err := ParseVersion(w.Version); err != nil {
		return WheelName{}, xerrors.Errorf("%s: %w", fn, err)
	}
	if len(parts) == 6 {
		w.Build = parts[2]
		if w.Build == "" || w.Build[0] < '0' || w.Build[0] > '9' {
			return WheelName{}, xerrors.Errorf("%s: build tag must start with a digit", fn)
		}
	}
	n := len(parts)
	for _, interp := range strings.Split(parts[n-3], ".") {
		for _, abi := range strings.Split(parts[n-2], ".") {
			for _, plat := range strings.Split(parts[n-1], ".") {
				w.Tags = append(w.Tags, Tag{interp, abi, plat})
			}
		}
	}
	return w, nil
}
