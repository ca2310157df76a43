package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/buildenv"
	"github.com/distr1/whey/internal/ledger"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

type release struct {
	version     string
	buildSystem []string
	backend     []string
	runtime     []string
}

// fakeStages serves releases from memory, records every call and writes
// placeholder wheels into dir.
type fakeStages struct {
	variant  whey.Variant
	dir      string
	releases map[string][]release
	failAt   string // "<stage> <name>"

	calls []string
}

func reqs(t *testing.T, lines ...string) []whey.Requirement {
	t.Helper()
	var out []whey.Requirement
	for _, line := range lines {
		req, err := whey.ParseRequirement(line)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, req)
	}
	return out
}

func parse(lines []string) []whey.Requirement {
	var out []whey.Requirement
	for _, line := range lines {
		out = append(out, whey.MustParseRequirement(line))
	}
	return out
}

func (s *fakeStages) call(stage, name string) error {
	s.calls = append(s.calls, stage+" "+name)
	if s.failAt == stage+" "+whey.NormalizeName(name) {
		return fmt.Errorf("injected failure")
	}
	return nil
}

func (s *fakeStages) release(item whey.WorkItem) release {
	for _, r := range s.releases[item.Name] {
		if r.version == item.Version {
			return r
		}
	}
	panic("no release for " + item.String())
}

func (s *fakeStages) Resolve(ctx context.Context, req whey.Requirement) (string, error) {
	if err := s.call("resolve", req.Key()); err != nil {
		return "", err
	}
	spec, err := whey.ParseSpecifier(req.Specifier)
	if err != nil {
		return "", err
	}
	var best string
	for _, r := range s.releases[req.Key()] {
		if spec.Allows(r.version, false) && (best == "" || whey.CompareVersions(r.version, best) > 0) {
			best = r.version
		}
	}
	if best == "" {
		return "", &whey.NotFoundError{What: req.String()}
	}
	return best, nil
}

func (s *fakeStages) Prebuilt(ctx context.Context, req whey.Requirement) (whey.Artifact, error) {
	version, err := s.Resolve(ctx, req)
	if err != nil {
		return whey.Artifact{}, err
	}
	item := whey.NewWorkItem(req.Name, version, s.variant)
	s.calls = append(s.calls, "prebuilt "+item.Name)
	return whey.Artifact{Item: item, Path: filepath.Join(s.dir, "prebuilt", item.DistVersion()+".whl")}, nil
}

func (s *fakeStages) Download(ctx context.Context, item whey.WorkItem) (string, error) {
	return item.DistVersion() + ".tar.gz", s.call("download", item.Name)
}

func (s *fakeStages) PrepareSource(ctx context.Context, item whey.WorkItem, archive string) (string, error) {
	return filepath.Join(s.dir, item.DistVersion()), s.call("prepare-source", item.Name)
}

func (s *fakeStages) BuildSystemRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, sourceRoot string) ([]whey.Requirement, error) {
	return parse(s.release(item).buildSystem), s.call("build-system-deps", item.Name)
}

func (s *fakeStages) PrepareBuild(ctx context.Context, item whey.WorkItem, reqs []whey.Requirement) (*buildenv.Env, error) {
	return &buildenv.Env{Item: item}, s.call("prepare-build", item.Name)
}

func (s *fakeStages) BuildBackendRequirements(ctx context.Context, item whey.WorkItem, parent whey.Requirement, e *buildenv.Env, sourceRoot string) ([]whey.Requirement, error) {
	return parse(s.release(item).backend), s.call("build-backend-deps", item.Name)
}

func (s *fakeStages) InstallDeps(ctx context.Context, e *buildenv.Env, reqs []whey.Requirement) error {
	return s.call("install-deps", e.Item.Name)
}

func (s *fakeStages) Build(ctx context.Context, item whey.WorkItem, sourceRoot string, e *buildenv.Env) (string, error) {
	if err := s.call("build", item.Name); err != nil {
		return "", &whey.BuildError{Item: item, Err: err}
	}
	fn := filepath.Join(s.dir, "downloads", item.DistVersion()+"-py3-none-any.whl")
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return "", err
	}
	return fn, os.WriteFile(fn, []byte(item.String()), 0644)
}

func (s *fakeStages) RuntimeRequirements(ctx context.Context, a whey.Artifact, parent whey.Requirement, prebuilt bool) ([]whey.Requirement, error) {
	return parse(s.release(a.Item).runtime), nil
}

func (s *fakeStages) Cleanup(e *buildenv.Env) error {
	s.calls = append(s.calls, "cleanup "+e.Item.Name)
	return nil
}

type preBuilt map[whey.Variant][]string

func (p preBuilt) IsPreBuilt(name string, variant whey.Variant) bool {
	for _, n := range p[variant] {
		if n == name {
			return true
		}
	}
	return false
}

type fakeServer struct{ started, stopped int }

func (s *fakeServer) Start(context.Context) error { s.started++; return nil }
func (s *fakeServer) Stop(context.Context) error  { s.stopped++; return nil }

func newBootstrapper(t *testing.T, variant whey.Variant, releases map[string][]release) (*Bootstrapper, *fakeStages) {
	dir := t.TempDir()
	stages := &fakeStages{variant: variant, dir: dir, releases: releases}
	return &Bootstrapper{
		Variant: variant,
		WorkDir: dir,
		Stages:  stages,
	}, stages
}

func built(res *Result) []string {
	var names []string
	for _, a := range res.Built {
		names = append(names, a.Item.Name+"=="+a.Item.Version)
	}
	return names
}

func TestBuildDependencyFirst(t *testing.T) {
	b, stages := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b>=2.0"}}},
		"pkg-b": {{version: "1.5"}, {version: "2.1"}, {version: "3.0rc1"}},
	})
	srv := &fakeServer{}
	b.Server = srv
	res, err := b.Run(context.Background(), reqs(t, "pkg-a==1.0"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"pkg-b==2.1", "pkg-a==1.0"}, built(res)); diff != "" {
		t.Fatalf("built: diff (-want +got):\n%s", diff)
	}
	want := []string{
		"resolve pkg-a",
		"download pkg-a",
		"prepare-source pkg-a",
		"build-system-deps pkg-a",
		"resolve pkg-b",
		"download pkg-b",
		"prepare-source pkg-b",
		"build-system-deps pkg-b",
		"prepare-build pkg-b",
		"build-backend-deps pkg-b",
		"install-deps pkg-b",
		"build pkg-b",
		"prepare-build pkg-a",
		"build-backend-deps pkg-a",
		"install-deps pkg-a",
		"build pkg-a",
	}
	if diff := cmp.Diff(want, stages.calls); diff != "" {
		t.Fatalf("calls: diff (-want +got):\n%s", diff)
	}
	if srv.started != 1 || srv.stopped != 1 {
		t.Fatalf("server started %d times and stopped %d times, want 1 and 1", srv.started, srv.stopped)
	}
}

func TestDiamond(t *testing.T) {
	b, stages := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b"}, backend: []string{"pkg-c"}}},
		"pkg-b": {{version: "1.0", runtime: []string{"pkg-d"}}},
		"pkg-c": {{version: "1.0", runtime: []string{"pkg-d>=1"}}},
		"pkg-d": {{version: "1.0"}},
	})
	b.Cleanup = true
	res, err := b.Run(context.Background(), reqs(t, "pkg-a", "pkg-d"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"pkg-b==1.0", "pkg-d==1.0", "pkg-c==1.0", "pkg-a==1.0"}, built(res)); diff != "" {
		t.Fatalf("built: diff (-want +got):\n%s", diff)
	}
	counts := make(map[string]int)
	for _, c := range stages.calls {
		counts[c]++
	}
	for _, pkg := range []string{"pkg-a", "pkg-b", "pkg-c", "pkg-d"} {
		if got := counts["build "+pkg]; got != 1 {
			t.Errorf("%s built %d times, want 1", pkg, got)
		}
		if got := counts["cleanup "+pkg]; got != 1 {
			t.Errorf("%s cleaned up %d times, want 1", pkg, got)
		}
	}
}

func TestBuildCycle(t *testing.T) {
	b, _ := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b"}}},
		"pkg-b": {{version: "1.0", backend: []string{"pkg-a"}}},
	})
	_, err := b.Run(context.Background(), reqs(t, "pkg-a"))
	var cerr *whey.ConfigurationError
	if !xerrors.As(err, &cerr) {
		t.Fatalf("Run: got %v, want *whey.ConfigurationError", err)
	}
	if want := "pkg-a==1.0 -> pkg-b==1.0 -> pkg-a==1.0"; !strings.Contains(cerr.Msg, want) {
		t.Fatalf("cycle not reported: got %q, want it to contain %q", cerr.Msg, want)
	}
	var serr *whey.StageError
	if !xerrors.As(err, &serr) {
		t.Fatalf("Run: got %v, want *whey.StageError", err)
	}
	if got, want := serr.Item.Name, "pkg-b"; got != want {
		t.Fatalf("StageError.Item.Name = %q, want %q", got, want)
	}
	if got, want := serr.Stage, whey.StageBuildBackendDeps; got != want {
		t.Fatalf("StageError.Stage = %q, want %q", got, want)
	}
}

func TestRuntimeCycle(t *testing.T) {
	b, _ := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0", runtime: []string{"pkg-b"}}},
		"pkg-b": {{version: "1.0", runtime: []string{"pkg-a"}}},
	})
	res, err := b.Run(context.Background(), reqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"pkg-a==1.0", "pkg-b==1.0"}, built(res)); diff != "" {
		t.Fatalf("built: diff (-want +got):\n%s", diff)
	}
}

func TestPrebuiltVariant(t *testing.T) {
	releases := map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-c==1.0"}}},
		"pkg-c": {{version: "1.0", runtime: []string{"pkg-d"}}},
		"pkg-d": {{version: "1.0"}},
	}
	pre := preBuilt{"gpu": {"pkg-c"}}

	for _, tt := range []struct {
		variant      whey.Variant
		wantBuilt    []string
		wantPrebuilt []whey.WorkItem
	}{
		{
			variant:      "gpu",
			wantBuilt:    []string{"pkg-d==1.0", "pkg-a==1.0"},
			wantPrebuilt: []whey.WorkItem{whey.NewWorkItem("pkg-c", "1.0", "gpu")},
		},
		{
			variant:   "cpu",
			wantBuilt: []string{"pkg-c==1.0", "pkg-d==1.0", "pkg-a==1.0"},
		},
	} {
		t.Run(string(tt.variant), func(t *testing.T) {
			b, stages := newBootstrapper(t, tt.variant, releases)
			b.PreBuilt = pre
			res, err := b.Run(context.Background(), reqs(t, "pkg-a"))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.wantBuilt, built(res)); diff != "" {
				t.Fatalf("built: diff (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantPrebuilt, res.Prebuilt); diff != "" {
				t.Fatalf("prebuilt: diff (-want +got):\n%s", diff)
			}
			for _, c := range stages.calls {
				if tt.variant == "gpu" && c == "download pkg-c" {
					t.Fatalf("source of pre-built pkg-c acquired")
				}
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	releases := map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b", "pkg-c"}, runtime: []string{"pkg-e"}}},
		"pkg-b": {{version: "1.0", backend: []string{"pkg-d"}}},
		"pkg-c": {{version: "2.0", runtime: []string{"pkg-d"}}},
		"pkg-d": {{version: "0.1"}},
		"pkg-e": {{version: "3.0", runtime: []string{"pkg-a"}}},
	}
	var orders [][]string
	for i := 0; i < 2; i++ {
		b, _ := newBootstrapper(t, whey.DefaultVariant, releases)
		res, err := b.Run(context.Background(), reqs(t, "pkg-a", "pkg-c"))
		if err != nil {
			t.Fatal(err)
		}
		var order []string
		for _, s := range res.Order {
			order = append(order, string(s.Kind)+" "+s.Name+"=="+s.Version)
		}
		orders = append(orders, order)
	}
	if diff := cmp.Diff(orders[0], orders[1]); diff != "" {
		t.Fatalf("build order differs between runs: diff (-first +second):\n%s", diff)
	}
}

func TestStageError(t *testing.T) {
	b, _ := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b"}}},
		"pkg-b": {{version: "2.0"}},
	})
	b.Stages.(*fakeStages).failAt = "build pkg-b"
	res, err := b.Run(context.Background(), reqs(t, "pkg-a"))
	var serr *whey.StageError
	if !xerrors.As(err, &serr) {
		t.Fatalf("Run: got %v, want *whey.StageError", err)
	}
	if diff := cmp.Diff(whey.NewWorkItem("pkg-b", "2.0", whey.DefaultVariant), serr.Item); diff != "" {
		t.Fatalf("StageError.Item: diff (-want +got):\n%s", diff)
	}
	if got, want := serr.Stage, whey.StageBuild; got != want {
		t.Fatalf("StageError.Stage = %q, want %q", got, want)
	}
	var berr *whey.BuildError
	if !xerrors.As(err, &berr) {
		t.Fatalf("Run: got %v, want *whey.BuildError inside", err)
	}
	if len(res.Built) != 0 {
		t.Fatalf("Built = %v, want none", res.Built)
	}
}

func TestCanceled(t *testing.T) {
	b, stages := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0"}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Run(ctx, reqs(t, "pkg-a")); !xerrors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
	if len(stages.calls) != 0 {
		t.Fatalf("stages called after cancellation: %v", stages.calls)
	}
}

func TestFilesWritten(t *testing.T) {
	b, _ := newBootstrapper(t, whey.DefaultVariant, map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b"}}},
		"pkg-b": {{version: "2.0"}},
	})
	res, err := b.Run(context.Background(), reqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(b.WorkDir, "build-order.json"))
	if err != nil {
		t.Fatal(err)
	}
	var order []Step
	if err := json.Unmarshal(raw, &order); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res.Order, order); diff != "" {
		t.Fatalf("build-order.json: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pkg-a==1.0"}, order[0].Why); diff != "" {
		t.Fatalf("why of pkg-b: diff (-want +got):\n%s", diff)
	}

	raw, err = os.ReadFile(filepath.Join(b.WorkDir, "graph.json"))
	if err != nil {
		t.Fatal(err)
	}
	var graph struct {
		Edges []graphEdge `json:"edges"`
	}
	if err := json.Unmarshal(raw, &graph); err != nil {
		t.Fatal(err)
	}
	want := []graphEdge{
		{From: "", To: "pkg-a==1.0", Kind: "toplevel", Req: "pkg-a"},
		{From: "pkg-a==1.0", To: "pkg-b==2.0", Kind: "build", Req: "pkg-b"},
	}
	if diff := cmp.Diff(want, graph.Edges); diff != "" {
		t.Fatalf("graph.json edges: diff (-want +got):\n%s", diff)
	}
}

func TestLedgerReuse(t *testing.T) {
	releases := map[string][]release{
		"pkg-a": {{version: "1.0", runtime: []string{"pkg-b"}}},
		"pkg-b": {{version: "2.0"}},
	}
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	b, stages := newBootstrapper(t, whey.DefaultVariant, releases)
	b.Ledger = l
	b.OutputDir = filepath.Join(stages.dir, "downloads")
	if _, err := b.Run(context.Background(), reqs(t, "pkg-a")); err != nil {
		t.Fatal(err)
	}

	again := &Bootstrapper{
		Variant:   whey.DefaultVariant,
		OutputDir: b.OutputDir,
		Stages:    &fakeStages{variant: whey.DefaultVariant, dir: t.TempDir(), releases: releases},
		Ledger:    l,
	}
	res, err := again.Run(context.Background(), reqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, s := range res.Order {
		kinds = append(kinds, string(s.Kind)+" "+s.Name)
	}
	if diff := cmp.Diff([]string{"reused pkg-a", "reused pkg-b"}, kinds); diff != "" {
		t.Fatalf("second run: diff (-want +got):\n%s", diff)
	}
	for _, c := range again.Stages.(*fakeStages).calls {
		if strings.HasPrefix(c, "build ") || strings.HasPrefix(c, "download ") {
			t.Fatalf("second run called %q", c)
		}
	}
}

func TestLedgerNotReusedForOtherOutputDir(t *testing.T) {
	releases := map[string][]release{
		"pkg-a": {{version: "1.0", buildSystem: []string{"pkg-b"}}},
		"pkg-b": {{version: "2.0"}},
	}
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	first, stages := newBootstrapper(t, whey.DefaultVariant, releases)
	first.Ledger = l
	first.OutputDir = filepath.Join(stages.dir, "downloads")
	if _, err := first.Run(context.Background(), reqs(t, "pkg-a")); err != nil {
		t.Fatal(err)
	}

	// Same work directory (ledger), different wheels repository.
	second, stages := newBootstrapper(t, whey.DefaultVariant, releases)
	second.Ledger = l
	second.OutputDir = filepath.Join(stages.dir, "downloads")
	res, err := second.Run(context.Background(), reqs(t, "pkg-a"))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range res.Order {
		got = append(got, string(s.Kind)+" "+s.Name)
		if dir := filepath.Dir(s.Path); dir != second.OutputDir {
			t.Errorf("%s: artifact in %s, want %s", s.Name, dir, second.OutputDir)
		}
	}
	if diff := cmp.Diff([]string{"built pkg-b", "built pkg-a"}, got); diff != "" {
		t.Fatalf("run with another output directory: diff (-want +got):\n%s", diff)
	}
}
