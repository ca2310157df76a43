package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/distr1/whey"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

const testSettings = `
pre_built:
  gpu:
    - pkg-c
    - Torch_Vision
packages:
  pkg_a:
    env:
      CFLAGS: -O2
      MODE: base
    variants:
      gpu:
        env:
          MODE: cuda
  torch:
    resolver:
      provider: github
      organization: pytorch
      repo: pytorch
      tag_pattern: '^v(.*)$'
`

func writeFile(t *testing.T, fn, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fn, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPreBuilt(t *testing.T) {
	f, err := Parse(strings.NewReader(testSettings))
	if err != nil {
		t.Fatal(err)
	}
	s := New(f, "", "")
	for _, tt := range []struct {
		name    string
		variant whey.Variant
		want    bool
	}{
		{name: "pkg-c", variant: "gpu", want: true},
		{name: "PKG_C", variant: "gpu", want: true},
		{name: "torch-vision", variant: "gpu", want: true},
		{name: "pkg-c", variant: "cpu", want: false},
		{name: "pkg-a", variant: "gpu", want: false},
	} {
		if got := s.IsPreBuilt(tt.name, tt.variant); got != tt.want {
			t.Errorf("IsPreBuilt(%s, %s) = %v, want %v", tt.name, tt.variant, got, tt.want)
		}
	}
	if diff := cmp.Diff([]string{"pkg-c", "torch-vision"}, s.PreBuilt("gpu")); diff != "" {
		t.Errorf("PreBuilt(gpu): diff (-want +got):\n%s", diff)
	}
	if got, want := s.Package("Torch").Resolver.Repo, "pytorch"; got != want {
		t.Errorf("Package(Torch).Resolver.Repo = %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	for _, contents := range []string{
		"unknown_key: 1\n",
		"packages:\n  x:\n    resolver:\n      provider: gitlab\n",
		"packages:\n  x:\n    resolver:\n      provider: github\n      repo: only-repo\n",
		"packages:\n  x:\n    resolver:\n      tag_pattern: 'v.*'\n",
		"pre_built: [not, a, map]\n",
	} {
		_, err := Parse(strings.NewReader(contents))
		var cerr *whey.ConfigurationError
		if !xerrors.As(err, &cerr) {
			t.Errorf("Parse(%q): got %v, want *whey.ConfigurationError", contents, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.IsPreBuilt("anything", "cpu") {
		t.Fatalf("IsPreBuilt on empty settings = true")
	}
}

func TestPatchesFor(t *testing.T) {
	patches := t.TempDir()
	for _, fn := range []string{
		"pkg_a-1.0/0002-fix-build.patch",
		"pkg_a-1.0/gpu/0001-cuda.patch",
		"pkg_a-1.0/cpu/0001-cpu-only.patch",
		"pkg_a/0003-all-versions.patch",
		"pkg_a-2.0/0001-other-version.patch",
		"pkg_a-1.0/README.md",
	} {
		writeFile(t, filepath.Join(patches, fn), "")
	}
	s := New(nil, patches, "")
	got, err := s.PatchesFor("Pkg.A", "1.0", "gpu")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(patches, "pkg_a-1.0/gpu/0001-cuda.patch"),
		filepath.Join(patches, "pkg_a-1.0/0002-fix-build.patch"),
		filepath.Join(patches, "pkg_a/0003-all-versions.patch"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("PatchesFor: diff (-want +got):\n%s", diff)
	}
}

func TestBuildEnvFor(t *testing.T) {
	f, err := Parse(strings.NewReader(testSettings))
	if err != nil {
		t.Fatal(err)
	}
	envs := t.TempDir()
	writeFile(t, filepath.Join(envs, "gpu", "pkg_a.env"), `
# comment
export CUDA_HOME=/usr/local/cuda
PATH_EXTRA="${CUDA_HOME}/bin"
MODE=file
`)
	s := New(f, "", envs)

	got, err := s.BuildEnvFor("pkg-a", "gpu")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"CFLAGS":     "-O2",
		"MODE":       "file",
		"CUDA_HOME":  "/usr/local/cuda",
		"PATH_EXTRA": "/usr/local/cuda/bin",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("BuildEnvFor(gpu): diff (-want +got):\n%s", diff)
	}

	got, err = s.BuildEnvFor("pkg-a", "cpu")
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]string{"CFLAGS": "-O2", "MODE": "base"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("BuildEnvFor(cpu): diff (-want +got):\n%s", diff)
	}

	writeFile(t, filepath.Join(envs, "cpu", "pkg_a.env"), "NOT A VALID LINE\n")
	_, err = s.BuildEnvFor("pkg-a", "cpu")
	var cerr *whey.ConfigurationError
	if !xerrors.As(err, &cerr) {
		t.Fatalf("BuildEnvFor(invalid env file): got %v, want *whey.ConfigurationError", err)
	}
}
