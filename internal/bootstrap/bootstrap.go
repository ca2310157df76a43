// Package bootstrap builds wheels for a set of top-level requirements and,
// depth-first, everything they need to build and run.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/buildenv"
	"github.com/distr1/whey/internal/ledger"
	"github.com/distr1/whey/internal/trace"
	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Server is the local artifact server build environments install from.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// PreBuilt reports which packages are installed as wheels from the remote
// index instead of being built. settings.Provider implements it.
type PreBuilt interface {
	IsPreBuilt(name string, variant whey.Variant) bool
}

// Bootstrapper drives a bootstrap run for one variant.
type Bootstrapper struct {
	Variant  whey.Variant
	WorkDir  string
	Stages   Stages
	PreBuilt PreBuilt

	// OutputDir is where built wheels are published. Ledger entries outside
	// of it are not reused, as the artifact server does not serve them.
	OutputDir string

	// Server is started before any build work and stopped at the end of
	// Run. It may be nil when an external server is used.
	Server Server

	// Ledger, if non-nil, allows re-runs to skip WorkItems whose artifact is
	// still present.
	Ledger *ledger.Ledger

	// Cleanup removes each build environment after its wheel is built.
	Cleanup bool

	Log logrus.FieldLogger
}

// StepKind describes how a WorkItem was satisfied.
type StepKind string

const (
	StepBuilt    StepKind = "built"
	StepReused   StepKind = "reused"
	StepPrebuilt StepKind = "prebuilt"
)

// Step is one entry of the build order.
type Step struct {
	Kind    StepKind     `json:"type"`
	Req     string       `json:"req"`
	Name    string       `json:"dist"`
	Version string       `json:"version"`
	Variant whey.Variant `json:"variant"`
	Path    string       `json:"path"`
	Why     []string     `json:"why,omitempty"`
}

// Result of a bootstrap run.
type Result struct {
	Built    []whey.Artifact
	Prebuilt []whey.WorkItem
	Order    []Step
}

// Edge kinds.
const (
	edgeToplevel = "toplevel"
	edgeBuild    = "build"
	edgeRuntime  = "runtime"
)

type phase int

const (
	phaseResolve phase = iota
	phaseBackendDeps
	phaseBuild
	phaseRuntimeDeps
	phaseDone
)

// frame is the state of processing one requirement on the worklist.
type frame struct {
	req    whey.Requirement
	edge   string
	stage  whey.Stage // stage of the parent which produced req
	parent *frame

	phase       phase
	item        whey.WorkItem
	sourceRoot  string
	buildReqs   []whey.Requirement
	env         *buildenv.Env
	backendReqs []whey.Requirement
	artifact    whey.Artifact
	prebuilt    bool
}

func (f *frame) why() []string {
	var why []string
	for p := f.parent; p != nil; p = p.parent {
		why = append(why, p.item.Name+"=="+p.item.Version)
	}
	return why
}

type state int

const (
	stateInProgress state = iota + 1
	stateDone
)

type run struct {
	b       *Bootstrapper
	log     logrus.FieldLogger
	visited map[whey.WorkItem]state
	result  Result
	graph   *depGraph
}

// Run processes reqs (in the given order) and everything they depend on,
// stopping at the first error.
func (b *Bootstrapper) Run(ctx context.Context, reqs []whey.Requirement) (*Result, error) {
	log := b.Log
	if log == nil {
		l := logrus.New()
		l.Out = io.Discard
		log = l
	}
	if b.Server != nil {
		if err := b.Server.Start(ctx); err != nil {
			return nil, xerrors.Errorf("starting artifact server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := b.Server.Stop(ctx); err != nil {
				log.Warnf("stopping artifact server: %v", err)
			}
		}()
	}

	r := &run{
		b:       b,
		log:     log,
		visited: make(map[whey.WorkItem]state),
		graph:   newDepGraph(),
	}
	stack := make([]*frame, 0, len(reqs))
	for i := len(reqs) - 1; i >= 0; i-- {
		stack = append(stack, &frame{req: reqs[i], edge: edgeToplevel})
	}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return &r.result, xerrors.Errorf("bootstrap interrupted: %w", context.Cause(ctx))
		}
		f := stack[len(stack)-1]
		children, err := r.step(ctx, f)
		if err != nil {
			return &r.result, err
		}
		if f.phase == phaseDone {
			stack = stack[:len(stack)-1]
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	if err := r.writeFiles(); err != nil {
		return &r.result, err
	}
	return &r.result, nil
}

func (r *run) itemLog(item whey.WorkItem) logrus.FieldLogger {
	return r.log.WithFields(logrus.Fields{
		"pkg":     item.Name,
		"version": item.Version,
		"variant": item.Variant,
	})
}

// do runs fn as stage of item, tracing it and attributing errors.
func (r *run) do(stage whey.Stage, item whey.WorkItem, fn func() error) error {
	ev := trace.Event(stage, item)
	defer ev.Done()
	if err := fn(); err != nil {
		return &whey.StageError{Item: item, Stage: stage, Err: err}
	}
	return nil
}

func children(parent *frame, edge string, stage whey.Stage, reqs []whey.Requirement) []*frame {
	frames := make([]*frame, len(reqs))
	for i, req := range reqs {
		frames[i] = &frame{req: req, edge: edge, stage: stage, parent: parent}
	}
	return frames
}

// step advances f by one phase and returns the frames to process before f
// continues.
func (r *run) step(ctx context.Context, f *frame) ([]*frame, error) {
	switch f.phase {
	case phaseResolve:
		return r.resolve(ctx, f)
	case phaseBackendDeps:
		return r.backendDeps(ctx, f)
	case phaseBuild:
		return nil, r.build(ctx, f)
	case phaseRuntimeDeps:
		return r.runtimeDeps(ctx, f)
	}
	return nil, fmt.Errorf("BUG: frame for %s in phase %d", f.req, f.phase)
}

func (r *run) resolve(ctx context.Context, f *frame) ([]*frame, error) {
	b := r.b
	unresolved := whey.NewWorkItem(f.req.Name, "", b.Variant)
	if b.PreBuilt != nil && b.PreBuilt.IsPreBuilt(f.req.Key(), b.Variant) {
		return r.prebuilt(ctx, f)
	}

	var version string
	err := r.do(whey.StageResolve, unresolved, func() error {
		var err error
		version, err = b.Stages.Resolve(ctx, f.req)
		return err
	})
	if err != nil {
		return nil, err
	}
	item := whey.NewWorkItem(f.req.Name, version, b.Variant)
	f.item = item
	r.graph.addEdge(f, item)

	switch r.visited[item] {
	case stateDone:
		f.phase = phaseDone
		return nil, nil
	case stateInProgress:
		if f.edge != edgeBuild {
			f.phase = phaseDone
			return nil, nil
		}
		return nil, &whey.StageError{
			Item:  f.parent.item,
			Stage: f.stage,
			Err:   &whey.ConfigurationError{Msg: "build dependency cycle: " + r.graph.cycle(f.parent.item, item)},
		}
	}
	r.visited[item] = stateInProgress
	log := r.itemLog(item)
	log.Infof("processing %s (%s requirement %s)", item, f.edge, f.req)

	if b.Ledger != nil {
		a, ok, err := b.Ledger.Lookup(ctx, item, b.OutputDir)
		if err != nil {
			return nil, xerrors.Errorf("build ledger: %w", err)
		}
		if ok {
			log.Infof("reusing %s", a.Path)
			r.finishBuild(f, a, StepReused)
			return nil, nil
		}
	}

	var archive string
	if err := r.do(whey.StageDownload, item, func() error {
		var err error
		archive, err = b.Stages.Download(ctx, item)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.do(whey.StagePrepareSource, item, func() error {
		var err error
		f.sourceRoot, err = b.Stages.PrepareSource(ctx, item, archive)
		return err
	}); err != nil {
		return nil, err
	}
	var reqs []whey.Requirement
	if err := r.do(whey.StageBuildSystemDeps, item, func() error {
		var err error
		reqs, err = b.Stages.BuildSystemRequirements(ctx, item, f.req, f.sourceRoot)
		return err
	}); err != nil {
		return nil, err
	}
	f.buildReqs = reqs
	f.phase = phaseBackendDeps
	return children(f, edgeBuild, whey.StageBuildSystemDeps, reqs), nil
}

func (r *run) prebuilt(ctx context.Context, f *frame) ([]*frame, error) {
	b := r.b
	var a whey.Artifact
	err := r.do(whey.StagePrebuilt, whey.NewWorkItem(f.req.Name, "", b.Variant), func() error {
		var err error
		a, err = b.Stages.Prebuilt(ctx, f.req)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.item = a.Item
	f.prebuilt = true
	r.graph.addEdge(f, a.Item)
	if r.visited[a.Item] != 0 {
		f.phase = phaseDone
		return nil, nil
	}
	r.visited[a.Item] = stateInProgress
	r.itemLog(a.Item).Infof("using pre-built wheel %s", filepath.Base(a.Path))
	r.result.Prebuilt = append(r.result.Prebuilt, a.Item)
	r.result.Order = append(r.result.Order, r.stepOf(f, StepPrebuilt, a.Path))
	f.artifact = a
	f.phase = phaseRuntimeDeps
	return nil, nil
}

func (r *run) backendDeps(ctx context.Context, f *frame) ([]*frame, error) {
	b := r.b
	item := f.item
	if err := r.do(whey.StagePrepareBuild, item, func() error {
		var err error
		f.env, err = b.Stages.PrepareBuild(ctx, item, f.buildReqs)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.do(whey.StageBuildBackendDeps, item, func() error {
		var err error
		f.backendReqs, err = b.Stages.BuildBackendRequirements(ctx, item, f.req, f.env, f.sourceRoot)
		return err
	}); err != nil {
		return nil, err
	}
	f.phase = phaseBuild
	return children(f, edgeBuild, whey.StageBuildBackendDeps, f.backendReqs), nil
}

func (r *run) build(ctx context.Context, f *frame) error {
	b := r.b
	item := f.item
	if err := r.do(whey.StageInstallDeps, item, func() error {
		return b.Stages.InstallDeps(ctx, f.env, f.backendReqs)
	}); err != nil {
		return err
	}
	var path string
	if err := r.do(whey.StageBuild, item, func() error {
		var err error
		path, err = b.Stages.Build(ctx, item, f.sourceRoot, f.env)
		return err
	}); err != nil {
		return err
	}
	a := whey.Artifact{Item: item, Path: path}
	if b.Ledger != nil {
		if err := b.Ledger.Record(ctx, item, path); err != nil {
			return xerrors.Errorf("build ledger: %w", err)
		}
	}
	if b.Cleanup {
		if err := b.Stages.Cleanup(f.env); err != nil {
			r.itemLog(item).Warnf("cleanup: %v", err)
		}
	}
	r.finishBuild(f, a, StepBuilt)
	return nil
}

func (r *run) finishBuild(f *frame, a whey.Artifact, kind StepKind) {
	r.result.Built = append(r.result.Built, a)
	r.result.Order = append(r.result.Order, r.stepOf(f, kind, a.Path))
	f.artifact = a
	f.env = nil
	f.phase = phaseRuntimeDeps
}

func (r *run) runtimeDeps(ctx context.Context, f *frame) ([]*frame, error) {
	var reqs []whey.Requirement
	if err := r.do(whey.StageInstallDeps, f.item, func() error {
		var err error
		reqs, err = r.b.Stages.RuntimeRequirements(ctx, f.artifact, f.req, f.prebuilt)
		return err
	}); err != nil {
		return nil, err
	}
	r.visited[f.item] = stateDone
	f.phase = phaseDone
	// The parent chain ends here: runtime requirements are not needed to
	// build anything below f.
	return children(&frame{item: f.item, parent: nil}, edgeRuntime, whey.StageInstallDeps, reqs), nil
}

func (r *run) stepOf(f *frame, kind StepKind, path string) Step {
	return Step{
		Kind:    kind,
		Req:     f.req.String(),
		Name:    f.item.Name,
		Version: f.item.Version,
		Variant: f.item.Variant,
		Path:    path,
		Why:     f.why(),
	}
}

func (r *run) writeFiles() error {
	if r.b.WorkDir == "" {
		return nil
	}
	order := r.result.Order
	if order == nil {
		order = []Step{}
	}
	b, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(r.b.WorkDir, "build-order.json"), append(b, '\n'), 0644); err != nil {
		return err
	}
	b, err = json.MarshalIndent(r.graph, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(r.b.WorkDir, "graph.json"), append(b, '\n'), 0644)
}

// depGraph is the discovered dependency graph. Build-time edges are also kept
// in a gonum graph for cycle reporting.
type depGraph struct {
	ids   map[whey.WorkItem]int64
	items []whey.WorkItem
	edges []graphEdge
	build *simple.DirectedGraph
}

type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
	Req  string `json:"req"`
}

func newDepGraph() *depGraph {
	return &depGraph{
		ids:   make(map[whey.WorkItem]int64),
		build: simple.NewDirectedGraph(),
	}
}

func (g *depGraph) id(item whey.WorkItem) int64 {
	if id, ok := g.ids[item]; ok {
		return id
	}
	id := int64(len(g.items))
	g.ids[item] = id
	g.items = append(g.items, item)
	g.build.AddNode(simple.Node(id))
	return id
}

func key(item whey.WorkItem) string {
	return item.Name + "==" + item.Version
}

func (g *depGraph) addEdge(f *frame, item whey.WorkItem) {
	to := g.id(item)
	e := graphEdge{To: key(item), Kind: f.edge, Req: f.req.String()}
	if f.parent != nil {
		from := g.id(f.parent.item)
		e.From = key(f.parent.item)
		if f.edge == edgeBuild && from != to && !g.build.HasEdgeFromTo(from, to) {
			g.build.SetEdge(g.build.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}
	g.edges = append(g.edges, e)
}

// cycle renders the build-time cycle closed by the edge from -> to.
func (g *depGraph) cycle(from, to whey.WorkItem) string {
	if from == to {
		return key(from) + " -> " + key(to)
	}
	fid, tid := g.id(from), g.id(to)
	for _, c := range topo.DirectedCyclesIn(g.build) {
		if !containsEdge(c, fid, tid) {
			continue
		}
		// Rotate so that the cycle starts at to.
		c = c[:len(c)-1]
		start := 0
		for i, n := range c {
			if n.ID() == tid {
				start = i
			}
		}
		names := make([]string, 0, len(c)+1)
		for i := range c {
			names = append(names, key(g.items[c[(start+i)%len(c)].ID()]))
		}
		names = append(names, key(to))
		return strings.Join(names, " -> ")
	}
	return key(from) + " -> " + key(to)
}

func containsEdge(cycle []graph.Node, from, to int64) bool {
	for i := 0; i+1 < len(cycle); i++ {
		if cycle[i].ID() == from && cycle[i+1].ID() == to {
			return true
		}
	}
	return false
}

func (g *depGraph) MarshalJSON() ([]byte, error) {
	type node struct {
		Key     string       `json:"key"`
		Name    string       `json:"dist"`
		Version string       `json:"version"`
		Variant whey.Variant `json:"variant"`
	}
	out := struct {
		Nodes []node      `json:"nodes"`
		Edges []graphEdge `json:"edges"`
	}{Nodes: []node{}, Edges: g.edges}
	for _, item := range g.items {
		out.Nodes = append(out.Nodes, node{Key: key(item), Name: item.Name, Version: item.Version, Variant: item.Variant})
	}
	if out.Edges == nil {
		out.Edges = []graphEdge{}
	}
	return json.Marshal(out)
}
