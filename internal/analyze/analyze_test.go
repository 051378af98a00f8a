package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/lower"
	"github.com/tmineno/pipeit/internal/ptype"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/resolve"
	"github.com/tmineno/pipeit/internal/thir"
	"github.com/tmineno/pipeit/internal/typeinfer"
)

func sp(start, end int) astpdl.Span { return astpdl.Span{Start: start, End: end} }

func call(name string, id uint32, args ...astpdl.Arg) hir.ActorCall {
	return hir.ActorCall{Name: name, CallID: idalloc.CallID(id), CallSpan: sp(int(id), int(id)+1), Args: args}
}

func emptyLowered() lower.Program {
	return lower.Program{ConcreteActors: map[idalloc.CallID]registry.ActorMeta{}}
}

func buildContext(t *testing.T, h hir.Program, reg *registry.Registry) (*thir.Context, graph.ProgramGraph) {
	t.Helper()
	g := graph.Build(h)
	require.Empty(t, g.Diagnostics)
	tc := thir.Build(h, resolve.Result{}, typeinfer.Result{}, emptyLowered(), reg, g.Graph)
	return tc, g.Graph
}

func TestAnalyzeResolvesSimplePipelineRates(t *testing.T) {
	sink := "out"
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: call("gain", 0)},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: call("to_double", 1)}},
		Sink:     &sink,
	}
	h := hir.Program{Tasks: []hir.Task{
		{Name: "t1", FreqHz: 48000, Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{pipe}}}},
	}}
	reg := registry.New()
	reg.Add(registry.ActorMeta{Name: "gain", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})
	reg.Add(registry.ActorMeta{Name: "to_double", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})

	tc, g := buildContext(t, h, reg)
	res := Analyze(tc, g)
	require.Empty(t, res.Diagnostics)

	sub := g.Tasks["t1"].Subgraphs()[0]
	sa := res.Subgraphs[sub]
	require.NotNil(t, sa)
	for _, n := range sub.Nodes {
		assert.Equal(t, uint32(1), sa.RepVector[n.ID])
	}
}

func TestAnalyzeSpanLengthInfersSymbolicDim(t *testing.T) {
	args := []astpdl.Arg{
		{Kind: astpdl.ArgValue, Val: astpdl.Value{Kind: astpdl.ValArray, Array: []astpdl.Scalar{
			{Kind: astpdl.ScalarNumber, Number: 1}, {Kind: astpdl.ScalarNumber, Number: 2}, {Kind: astpdl.ScalarNumber, Number: 3}, {Kind: astpdl.ScalarNumber, Number: 4},
		}}},
	}
	pipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call("fir", 0, args...)}}
	h := hir.Program{Tasks: []hir.Task{
		{Name: "t1", FreqHz: 48000, Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{pipe}}}},
	}}
	reg := registry.New()
	reg.Add(registry.ActorMeta{
		Name:     "fir",
		InShape:  registry.Rank1(registry.Sym("n")),
		OutShape: registry.Rank1(registry.Lit(1)),
		Params: []registry.ActorParam{
			{Kind: registry.KindParam, ParamType: registry.ActorParamType{Tag: registry.ParamInt}, Name: "n"},
			{Kind: registry.KindParam, ParamType: registry.ActorParamType{Tag: registry.ParamSpanFloat}, Name: "taps"},
		},
	})

	tc, g := buildContext(t, h, reg)
	res := Analyze(tc, g)
	require.Empty(t, res.Diagnostics)

	sub := g.Tasks["t1"].Subgraphs()[0]
	sa := res.Subgraphs[sub]
	require.NotNil(t, sa)
	assert.Equal(t, uint32(4), sa.Rates[sub.Nodes[0].ID].In)
}

func TestAnalyzeConflictingDimensionSourceProducesE0302(t *testing.T) {
	constraint := &astpdl.ShapeConstraint{Dims: []astpdl.ShapeDim{{Kind: astpdl.DimLiteral, Literal: 8}}}
	arg := astpdl.Arg{Kind: astpdl.ArgValue, Val: astpdl.Value{Kind: astpdl.ValScalar, Scalar: astpdl.Scalar{Kind: astpdl.ScalarNumber, Number: 16, IsIntLiteral: true}}}
	actorCall := call("resize", 0, arg)
	actorCall.ShapeConstraint = constraint
	pipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: actorCall}}
	h := hir.Program{Tasks: []hir.Task{
		{Name: "t1", Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{pipe}}}},
	}}
	reg := registry.New()
	reg.Add(registry.ActorMeta{
		Name:     "resize",
		InShape:  registry.Rank1(registry.Sym("n")),
		OutShape: registry.Rank1(registry.Sym("n")),
		Params:   []registry.ActorParam{{Kind: registry.KindParam, ParamType: registry.ActorParamType{Tag: registry.ParamInt}, Name: "n"}},
	})

	tc, g := buildContext(t, h, reg)
	res := Analyze(tc, g)
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "E0302" {
			found = true
		}
	}
	assert.True(t, found, "expected E0302 for conflicting dimension sources")
}

func TestAnalyzeCycleWithoutDelayProducesE0305(t *testing.T) {
	reg := registry.New()
	reg.Add(registry.ActorMeta{Name: "gain", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})
	reg.Add(registry.ActorMeta{Name: "sum", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})

	sub := &graph.Subgraph{
		Nodes: []graph.Node{
			{ID: 0, Kind: graph.KindActor, Call: hir.ActorCall{Name: "gain"}},
			{ID: 1, Kind: graph.KindActor, Call: hir.ActorCall{Name: "sum"}},
		},
		Edges: []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 0}},
	}
	g := graph.ProgramGraph{
		Tasks:  map[string]*graph.TaskGraph{"t1": {Kind: graph.TaskGraphPipeline, Pipe: *sub}},
		Cycles: [][]graph.NodeID{{0, 1}},
	}
	h := hir.Program{Tasks: []hir.Task{{Name: "t1"}}}
	tc := thir.Build(h, resolve.Result{}, typeinfer.Result{}, emptyLowered(), reg, g)

	res := Analyze(tc, g)
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "E0305" {
			found = true
		}
	}
	assert.True(t, found, "expected E0305 for cycle lacking a delay actor")
}

func TestAnalyzeInterTaskRateMismatchProducesE0306(t *testing.T) {
	sink := "shared"
	writerPipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call("gain", 0)}, Sink: &sink}
	readerPipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceBufferRead, Name: "shared"}, Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: call("to_double", 1)}}}
	h := hir.Program{Tasks: []hir.Task{
		{Name: "writer", FreqHz: 100, Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{writerPipe}}}},
		{Name: "reader", FreqHz: 200, Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{readerPipe}}}},
	}}
	reg := registry.New()
	reg.Add(registry.ActorMeta{Name: "gain", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})
	reg.Add(registry.ActorMeta{Name: "to_double", InShape: registry.Rank1(registry.Lit(1)), OutShape: registry.Rank1(registry.Lit(1))})

	tc, g := buildContext(t, h, reg)
	res := Analyze(tc, g)
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "E0306" {
			found = true
		}
	}
	assert.True(t, found, "expected E0306 since writer@100Hz and reader@200Hz both pass 1 token/firing")
}

func TestAnalyzeParamTypeMismatchProducesE0308(t *testing.T) {
	// Two actors share the "label" param with conflicting expected tags.
	// Context precomputes the param's target type from the first actor
	// node encountered (string_actor); the second actor's own expected
	// tag (float) then disagrees with that resolved type.
	paramArg := astpdl.Arg{Kind: astpdl.ArgParamRef, Ref: astpdl.Ident{Name: "label"}}
	stringCall := call("string_actor", 0, paramArg)
	floatCall := call("gain_actor", 1, paramArg)
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: stringCall},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: floatCall}},
	}
	h := hir.Program{
		Tasks: []hir.Task{{Name: "t1", Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: hir.Pipeline{Pipes: []hir.PipeExpr{pipe}}}}},
		Params: []hir.Param{
			{Name: "label", DefaultValue: astpdl.Scalar{Kind: astpdl.ScalarString, Str: "x"}},
		},
	}
	reg := registry.New()
	reg.Add(registry.ActorMeta{
		Name:    "string_actor",
		InType:  registry.Concrete(ptype.Float),
		OutType: registry.Concrete(ptype.Float),
		Params: []registry.ActorParam{
			{Kind: registry.KindParam, ParamType: registry.ActorParamType{Tag: registry.ParamString}, Name: "label"},
		},
	})
	reg.Add(registry.ActorMeta{
		Name:    "gain_actor",
		InType:  registry.Concrete(ptype.Float),
		OutType: registry.Concrete(ptype.Float),
		Params: []registry.ActorParam{
			{Kind: registry.KindParam, ParamType: registry.ActorParamType{Tag: registry.ParamFloat}, Name: "label"},
		},
	})

	tc, g := buildContext(t, h, reg)
	require.Equal(t, "string", tc.ParamTargetType("label"))

	res := Analyze(tc, g)
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "E0308" {
			found = true
		}
	}
	assert.True(t, found, "expected E0308: label resolved to string via string_actor, but gain_actor expects float")
}

func TestAnalyzeSwitchControlNonIntProducesE0310(t *testing.T) {
	h := hir.Program{
		Tasks: []hir.Task{{
			Name: "t1",
			Body: hir.TaskBody{Kind: hir.TaskModal, Modal: hir.Modal{
				Switch: hir.SwitchSource{Kind: hir.SwitchParam, Name: "mode"},
			}},
		}},
		Params: []hir.Param{
			{Name: "mode", DefaultValue: astpdl.Scalar{Kind: astpdl.ScalarString, Str: "a"}},
		},
	}
	reg := registry.New()
	tc, g := buildContext(t, h, reg)
	res := Analyze(tc, g)
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "E0310" {
			found = true
		}
	}
	assert.True(t, found, "expected E0310 since the switch param resolves to string, not int")
}
