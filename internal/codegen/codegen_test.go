package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/internal/analyze"
	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/lir"
	"github.com/tmineno/pipeit/internal/lower"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/resolve"
	"github.com/tmineno/pipeit/internal/schedule"
	"github.com/tmineno/pipeit/internal/thir"
	"github.com/tmineno/pipeit/internal/typeinfer"
)

func sp(start, end int) astpdl.Span { return astpdl.Span{Start: start, End: end} }

func call(name string, id uint32) hir.ActorCall {
	return hir.ActorCall{Name: name, CallID: idalloc.CallID(id), CallSpan: sp(int(id), int(id)+1)}
}

func emptyLowered() lower.Program {
	return lower.Program{ConcreteActors: map[idalloc.CallID]registry.ActorMeta{}}
}

func buildAll(t *testing.T, h hir.Program, reg *registry.Registry) (graph.ProgramGraph, schedule.Result, lir.Result) {
	t.Helper()
	gr := graph.Build(h)
	require.Empty(t, gr.Diagnostics)
	tc := thir.Build(h, resolve.Result{}, typeinfer.Result{}, emptyLowered(), reg, gr.Graph)
	ar := analyze.Analyze(tc, gr.Graph)
	require.Empty(t, ar.Diagnostics)
	sr := schedule.Schedule(tc, gr.Graph, ar)
	require.Empty(t, sr.Diagnostics)
	lr := lir.BuildLir(tc, gr.Graph, ar, sr)
	require.Empty(t, lr.Diagnostics)
	return gr.Graph, sr, lr
}

func linearProgram() hir.Program {
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: call("gain", 0)},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: call("to_double", 1)}},
	}
	return hir.Program{Tasks: []hir.Task{
		{Name: "t1", FreqHz: 48000, Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{pipe}}}},
	}}
}

func linearRegistry() *registry.Registry {
	reg := registry.New()
	reg.Add(registry.ActorMeta{Name: "gain", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})
	reg.Add(registry.ActorMeta{Name: "to_double", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})
	return reg
}

func TestCodegenEmitsOneTaskFunctionPerTask(t *testing.T) {
	h := linearProgram()
	reg := linearRegistry()
	g, sr, lr := buildAll(t, h, reg)

	res := Codegen(g, sr, lr, Options{Provenance: "rev-1"})
	require.False(t, res.HasErrors())

	src := res.Generated.Source
	assert.Contains(t, src, "// rev-1")
	assert.Contains(t, src, "void task_t1(void) {")
	assert.Contains(t, src, "gain();")
	assert.Contains(t, src, "to_double();")
}

func TestCodegenEmitsModalTaskModes(t *testing.T) {
	control := hir.Pipeline{Pipes: []hir.PipeExpr{{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call("gain", 0)}}}}
	modeA := hir.Pipeline{Pipes: []hir.PipeExpr{{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call("to_double", 1)}}}}
	h := hir.Program{Tasks: []hir.Task{
		{
			Name:   "m1",
			FreqHz: 1000,
			Body: hir.TaskBody{
				Kind: hir.TaskModal,
				Modal: hir.Modal{
					Control: control,
					Modes:   []hir.ModeEntry{{Name: "idle", Body: modeA}},
					Switch:  hir.SwitchSource{Kind: hir.SwitchParam, Name: "mode_sel"},
				},
			},
		},
	}}
	reg := linearRegistry()
	g, sr, lr := buildAll(t, h, reg)

	res := Codegen(g, sr, lr, Options{})
	require.False(t, res.HasErrors())

	src := res.Generated.Source
	assert.Contains(t, src, "void task_m1(void) {")
	assert.Contains(t, src, "// mode idle")
	assert.Contains(t, src, "to_double();")
}

func TestRenderDOTPipelineTask(t *testing.T) {
	h := linearProgram()
	reg := linearRegistry()
	g, _, _ := buildAll(t, h, reg)

	out := RenderDOT(g)
	assert.Contains(t, out, "digraph pipit {")
	assert.Contains(t, out, "subgraph cluster_t1 {")
	assert.Contains(t, out, "label=\"task: t1\";")
	assert.Contains(t, out, "t1_n0 [shape=box, style=filled, fillcolor=lightblue, label=\"gain\"];")
	assert.Contains(t, out, "t1_n0 -> t1_n1;")
}

func TestRenderDOTModalTaskNestsControlAndModes(t *testing.T) {
	control := hir.Pipeline{Pipes: []hir.PipeExpr{{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call("gain", 0)}}}}
	modeA := hir.Pipeline{Pipes: []hir.PipeExpr{{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call("to_double", 1)}}}}
	h := hir.Program{Tasks: []hir.Task{
		{
			Name:   "m1",
			FreqHz: 1000,
			Body: hir.TaskBody{
				Kind: hir.TaskModal,
				Modal: hir.Modal{
					Control: control,
					Modes:   []hir.ModeEntry{{Name: "idle", Body: modeA}},
					Switch:  hir.SwitchSource{Kind: hir.SwitchParam, Name: "mode_sel"},
				},
			},
		},
	}}
	reg := linearRegistry()
	g, _, _ := buildAll(t, h, reg)

	out := RenderDOT(g)
	assert.Contains(t, out, "subgraph cluster_m1_control {")
	assert.Contains(t, out, "subgraph cluster_m1_idle {")
	assert.Contains(t, out, "label=\"mode: idle\";")
}

func TestRenderDOTCycleEdgeBold(t *testing.T) {
	sub := graph.Subgraph{
		Nodes: []graph.Node{
			{ID: 0, Kind: graph.KindActor, Call: hir.ActorCall{Name: "gain"}},
			{ID: 1, Kind: graph.KindActor, Call: hir.ActorCall{Name: "delay"}},
		},
		Edges: []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 0}},
	}
	g := graph.ProgramGraph{
		Tasks:  map[string]*graph.TaskGraph{"t1": {Kind: graph.TaskGraphPipeline, Pipe: sub}},
		Cycles: [][]graph.NodeID{{0, 1}},
	}

	out := RenderDOT(g)
	assert.Contains(t, out, "t1_n1 -> t1_n0 [style=bold, color=blue];")
	assert.Contains(t, out, "t1_n0 -> t1_n1;")
}

func TestRenderDOTProbeDrawnAsBypassAndTap(t *testing.T) {
	sub := graph.Subgraph{
		Nodes: []graph.Node{
			{ID: 0, Kind: graph.KindActor, Call: hir.ActorCall{Name: "gain"}},
			{ID: 1, Kind: graph.KindProbe, ProbeName: "tap1"},
			{ID: 2, Kind: graph.KindActor, Call: hir.ActorCall{Name: "to_double"}},
		},
		Edges: []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 2}},
	}
	g := graph.ProgramGraph{
		Tasks: map[string]*graph.TaskGraph{"t1": {Kind: graph.TaskGraphPipeline, Pipe: sub}},
	}

	out := RenderDOT(g)
	assert.Contains(t, out, "t1_n0 -> t1_n2;")
	assert.Contains(t, out, "t1_n0 -> t1_n1 [style=dashed, constraint=false];")
}

func TestRenderDOTInterTaskEdgeDashedRed(t *testing.T) {
	writerSub := graph.Subgraph{
		Nodes: []graph.Node{
			{ID: 0, Kind: graph.KindActor, Call: hir.ActorCall{Name: "gain"}},
			{ID: 1, Kind: graph.KindBufferWrite, BufferName: "shared"},
		},
		Edges: []graph.Edge{{Source: 0, Target: 1}},
	}
	readerSub := graph.Subgraph{
		Nodes: []graph.Node{
			{ID: 2, Kind: graph.KindBufferRead, BufferName: "shared"},
		},
	}
	g := graph.ProgramGraph{
		Tasks: map[string]*graph.TaskGraph{
			"writer": {Kind: graph.TaskGraphPipeline, Pipe: writerSub},
			"reader": {Kind: graph.TaskGraphPipeline, Pipe: readerSub},
		},
		InterTaskEdges: []graph.InterTaskEdge{
			{WriterTask: "writer", WriterNode: 1, ReaderTask: "reader", ReaderNode: 2, BufferName: "shared"},
		},
	}

	out := RenderDOT(g)
	assert.Contains(t, out, "writer_n1 -> reader_n2 [label=\"shared\", style=dashed, color=red, penwidth=2];")
}
