// Package env captures the on-disk layout of a whey run: where source
// archives, work directories and built wheels live.
package env

import (
	"os"
	"path/filepath"

	"github.com/distr1/whey"
)

// Defaults for the directory flags, relative to the current directory.
const (
	DefaultSdistsRepo   = "sdists-repo"
	DefaultWheelsRepo   = "wheels-repo"
	DefaultWorkDir      = "work-dir"
	DefaultPatchesDir   = "overrides/patches"
	DefaultEnvsDir      = "overrides/envs"
	DefaultSettingsFile = "overrides/settings.yaml"
	DefaultIndexURL     = "https://pypi.org/simple"
)

// Dirs is the directory layout for one variant.
type Dirs struct {
	SdistsRepo string
	WheelsRepo string
	WorkDir    string
	Variant    whey.Variant
}

// SdistsDownloads holds the acquired source archives.
func (d Dirs) SdistsDownloads() string { return filepath.Join(d.SdistsRepo, "downloads") }

func (d Dirs) variantDir() string { return filepath.Join(d.WheelsRepo, string(d.Variant)) }

// WheelsDownloads is the output area: one wheel per built WorkItem. It is
// served by the local artifact server and is what uploaders publish.
func (d Dirs) WheelsDownloads() string { return filepath.Join(d.variantDir(), "downloads") }

// WheelsPrebuilt holds pre-built wheels fetched from the remote index.
func (d Dirs) WheelsPrebuilt() string { return filepath.Join(d.variantDir(), "prebuilt") }

// WheelsBuild holds temporary backend output directories.
func (d Dirs) WheelsBuild() string { return filepath.Join(d.variantDir(), "build") }

// ItemDir is the work directory of one WorkItem. It contains the source root
// and the cached requirement files.
func (d Dirs) ItemDir(item whey.WorkItem) string {
	return filepath.Join(d.WorkDir, item.DistVersion())
}

// SourceRoot is where the unpacked and patched source of item lives.
func (d Dirs) SourceRoot(item whey.WorkItem) string {
	return filepath.Join(d.ItemDir(item), item.DistVersion())
}

// BuildEnv is the build environment directory of item.
func (d Dirs) BuildEnv(item whey.WorkItem) string {
	return filepath.Join(d.ItemDir(item), "build-env")
}

// Ledger is the database recording the artifacts built so far.
func (d Dirs) Ledger() string { return filepath.Join(d.WorkDir, "ledger.db") }

// Served returns the directories the local artifact server publishes.
func (d Dirs) Served() []string {
	return []string{d.WheelsDownloads(), d.WheelsPrebuilt()}
}

// Setup creates all directories which are shared across WorkItems.
func (d Dirs) Setup() error {
	for _, dir := range []string{
		d.SdistsDownloads(),
		d.WheelsDownloads(),
		d.WheelsPrebuilt(),
		d.WheelsBuild(),
		d.WorkDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Abs returns a copy of d with all paths made absolute, so that external
// commands running in other directories see the same layout.
func (d Dirs) Abs() (Dirs, error) {
	for _, p := range []*string{&d.SdistsRepo, &d.WheelsRepo, &d.WorkDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return Dirs{}, err
		}
		*p = abs
	}
	return d, nil
}
