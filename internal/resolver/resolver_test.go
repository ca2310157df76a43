package resolver

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/index"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

type fakeIndex struct {
	name  string
	files map[string][]index.File
	calls int
}

func (f *fakeIndex) String() string { return f.name }

func (f *fakeIndex) Files(ctx context.Context, project string) ([]index.File, error) {
	f.calls++
	return f.files[project], nil
}

func (f *fakeIndex) Open(ctx context.Context, file index.File) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(file.Filename)), nil
}

func files(names ...string) []index.File {
	var fs []index.File
	for _, n := range names {
		fs = append(fs, index.File{Filename: n, URL: "https://files.example/" + n})
	}
	return fs
}

var linux312 = whey.Target{PythonVersion: "3.12.1", GOOS: "linux", GOARCH: "amd64"}

func versions(ms []Match) []string {
	var vs []string
	for _, m := range ms {
		vs = append(vs, m.Version)
	}
	return vs
}

func TestCandidates(t *testing.T) {
	pypi := &fakeIndex{name: "pypi", files: map[string][]index.File{
		"pkg-a": append(files(
			"pkg_a-1.0.tar.gz",
			"pkg_a-2.0.tar.gz",
			"pkg_a-2.1rc1.tar.gz",
			"pkg-a-extra-3.0.tar.gz",
			"pkg_a-1.5.zip",
			"pkg_a-2.0-py3-none-any.whl",
			"pkg_a-2.2-cp312-cp312-manylinux_2_17_x86_64.whl",
			"pkg_a-2.3-cp311-cp311-manylinux_2_17_x86_64.whl",
			"pkg_a-2.4-cp312-cp312-macosx_11_0_arm64.whl",
		), index.File{Filename: "pkg_a-1.8.tar.gz", RequiresPython: ">=3.13"},
			index.File{Filename: "pkg_a-1.9.tar.gz", Yanked: true}),
	}}

	for _, tt := range []struct {
		name        string
		req         string
		kinds       Kinds
		constraints string
		want        []string
	}{
		{
			name:  "sdists",
			req:   "pkg-a",
			kinds: SdistsOnly,
			want:  []string{"2.0", "1.5", "1.0"},
		},
		{
			name:  "wheels",
			req:   "pkg_a",
			kinds: WheelsOnly,
			want:  []string{"2.2", "2.0"},
		},
		{
			name:  "specifier",
			req:   "pkg-a<2",
			kinds: SdistsOnly,
			want:  []string{"1.5", "1.0"},
		},
		{
			name:  "prerelease named",
			req:   "pkg-a>=2.1rc1",
			kinds: SdistsOnly,
			want:  []string{"2.1rc1"},
		},
		{
			name:        "constraint",
			req:         "pkg-a",
			kinds:       SdistsOnly,
			constraints: "pkg-a<1.5\n",
			want:        []string{"1.0"},
		},
		{
			name:  "yanked only when pinned",
			req:   "pkg-a==1.9",
			kinds: SdistsOnly,
			want:  []string{"1.9"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseConstraints(strings.NewReader(tt.constraints))
			if err != nil {
				t.Fatal(err)
			}
			r := &Resolver{Target: linux312, Constraints: c}
			got, err := r.Candidates(context.Background(), whey.MustParseRequirement(tt.req), []index.PackageIndex{pypi}, tt.kinds)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, versions(got)); diff != "" {
				t.Fatalf("Candidates(%s): diff (-want +got):\n%s", tt.req, diff)
			}
		})
	}
}

func TestResolveIndexOrderAndCache(t *testing.T) {
	local := &fakeIndex{name: "local", files: map[string][]index.File{
		"pkg-b": files("pkg_b-1.0-py3-none-any.whl"),
	}}
	remote := &fakeIndex{name: "remote", files: map[string][]index.File{
		"pkg-b": files("pkg_b-1.0-py3-none-any.whl", "pkg_b-0.9-py3-none-any.whl"),
	}}
	r := &Resolver{Target: linux312}
	idxs := []index.PackageIndex{local, remote}
	for i := 0; i < 2; i++ {
		m, err := r.Resolve(context.Background(), whey.MustParseRequirement("pkg-b"), idxs, WheelsOnly)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := m.Index.String(), "local"; got != want {
			t.Fatalf("Resolve: index = %q, want %q", got, want)
		}
	}
	if got, want := local.calls, 1; got != want {
		t.Fatalf("listing calls = %d, want %d", got, want)
	}
}

func TestResolveDirectReference(t *testing.T) {
	pypi := &fakeIndex{name: "pypi", files: map[string][]index.File{
		"pkg-a": files("pkg_a-1.0.tar.gz", "pkg_a-2.0.tar.gz"),
	}}
	r := &Resolver{Target: linux312}
	_, err := r.Resolve(context.Background(), whey.MustParseRequirement("pkg-a @ https://example.com/pkg_a-1.0.tar.gz"), []index.PackageIndex{pypi}, SdistsOnly)
	var cerr *whey.ConfigurationError
	if !xerrors.As(err, &cerr) {
		t.Fatalf("Resolve: got %v, want *whey.ConfigurationError", err)
	}
	if got, want := pypi.calls, 0; got != want {
		t.Fatalf("listing calls = %d, want %d", got, want)
	}
}

func TestResolveNotFound(t *testing.T) {
	r := &Resolver{Target: linux312}
	_, err := r.Resolve(context.Background(), whey.MustParseRequirement("pkg-z>=1"), []index.PackageIndex{&fakeIndex{name: "empty"}}, SdistsOnly)
	var nf *whey.NotFoundError
	if !xerrors.As(err, &nf) {
		t.Fatalf("Resolve: got %v, want *whey.NotFoundError", err)
	}
	if diff := cmp.Diff([]string{"empty"}, nf.Where); diff != "" {
		t.Fatalf("NotFoundError.Where: diff (-want +got):\n%s", diff)
	}
}

func TestParseConstraintsDuplicate(t *testing.T) {
	_, err := ParseConstraints(strings.NewReader("pkg-a<2\nPKG_A>1\n"))
	var cerr *whey.ConfigurationError
	if !xerrors.As(err, &cerr) {
		t.Fatalf("ParseConstraints: got %v, want *whey.ConfigurationError", err)
	}
}
