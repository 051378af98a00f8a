package typeinfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/ptype"
	"github.com/tmineno/pipeit/internal/registry"
)

func sp(start, end int) astpdl.Span { return astpdl.Span{Start: start, End: end} }

func scaleMeta() registry.ActorMeta {
	return registry.ActorMeta{
		Name:       "scale",
		TypeParams: []string{"T"},
		InType:     registry.Param("T"),
		InCount:    registry.Lit(1),
		InShape:    registry.Rank1(registry.Lit(1)),
		OutType:    registry.Param("T"),
		OutCount:   registry.Lit(1),
		OutShape:   registry.Rank1(registry.Lit(1)),
		Params: []registry.ActorParam{
			{Kind: registry.KindParam, ParamType: registry.ActorParamType{Tag: registry.ParamTypeParamTag, Param: "T"}, Name: "gain"},
		},
	}
}

func gainMeta() registry.ActorMeta {
	return registry.ActorMeta{
		Name:     "gain",
		InType:   registry.Concrete(ptype.Float),
		InCount:  registry.Lit(1),
		OutType:  registry.Concrete(ptype.Float),
		OutCount: registry.Lit(1),
	}
}

func toDoubleMeta() registry.ActorMeta {
	return registry.ActorMeta{
		Name:     "to_double",
		InType:   registry.Concrete(ptype.Float),
		InCount:  registry.Lit(1),
		OutType:  registry.Concrete(ptype.Double),
		OutCount: registry.Lit(1),
	}
}

func pipelineOf(pipes ...hir.PipeExpr) hir.Pipeline {
	return hir.Pipeline{Pipes: pipes}
}

func taskWith(p hir.Pipeline) hir.Program {
	return hir.Program{Tasks: []hir.Task{{
		Name: "t1",
		Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: p},
	}}}
}

func TestInferExplicitTypeArgsMonomorphizes(t *testing.T) {
	reg := registry.New()
	reg.Add(scaleMeta())

	call := hir.ActorCall{Name: "scale", CallID: idalloc.CallID(0), CallSpan: sp(0, 1), TypeArgs: []string{"float"}}
	pipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call}}
	prog := taskWith(pipelineOf(pipe))

	res := Infer(prog, reg)
	assert.Empty(t, res.Diagnostics)
	require.Contains(t, res.MonoActors, call.CallID)
	mono := res.MonoActors[call.CallID]
	assert.Empty(t, mono.TypeParams)
	concreteIn, ok := mono.InType.AsConcrete()
	require.True(t, ok)
	assert.Equal(t, ptype.Float, concreteIn)
	assert.Equal(t, []ptype.Type{ptype.Float}, res.TypeAssignments[call.CallID])
}

func TestInferExplicitTypeArgsUnknownType(t *testing.T) {
	reg := registry.New()
	reg.Add(scaleMeta())

	call := hir.ActorCall{Name: "scale", CallID: idalloc.CallID(0), CallSpan: sp(0, 1), TypeArgs: []string{"bogus"}}
	pipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call}}
	prog := taskWith(pipelineOf(pipe))

	res := Infer(prog, reg)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.E0100, res.Diagnostics[0].Code)
}

func TestInferFromUpstreamContext(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())
	reg.Add(scaleMeta())

	src := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	elem := hir.ActorCall{Name: "scale", CallID: idalloc.CallID(1), CallSpan: sp(5, 6)}
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: src},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: elem}},
	}
	prog := taskWith(pipelineOf(pipe))

	res := Infer(prog, reg)
	assert.Empty(t, res.Diagnostics)
	require.Contains(t, res.MonoActors, elem.CallID)
	out, ok := res.MonoActors[elem.CallID].OutType.AsConcrete()
	require.True(t, ok)
	assert.Equal(t, ptype.Float, out)
}

func TestInferAmbiguousWithoutContext(t *testing.T) {
	reg := registry.New()
	reg.Add(scaleMeta())

	call := hir.ActorCall{Name: "scale", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	pipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call}}
	prog := taskWith(pipelineOf(pipe))

	res := Infer(prog, reg)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.E0102, res.Diagnostics[0].Code)
	assert.NotEmpty(t, res.Diagnostics[0].Hint)
}

func TestInferWideningPoint(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())
	reg.Add(toDoubleMeta())

	src := hir.ActorCall{Name: "to_double", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	// double -> gain(expects float): not widenable (narrowing), so no
	// widening is registered.
	elem := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(1), CallSpan: sp(5, 6)}
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: src},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: elem}},
	}
	prog := taskWith(pipelineOf(pipe))

	res := Infer(prog, reg)
	assert.Empty(t, res.Widenings)
}

func TestInferNoWideningWhenFloatMatchesFloatInput(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())     // float -> float
	reg.Add(toDoubleMeta()) // float -> double

	src := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	elem := hir.ActorCall{Name: "to_double", CallID: idalloc.CallID(1), CallSpan: sp(5, 6)}
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: src},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: elem}},
	}
	prog := taskWith(pipelineOf(pipe))

	res := Infer(prog, reg)
	assert.Empty(t, res.Diagnostics)
	// to_double's input is float, matching gain's float output exactly;
	// no widening needed here since types already match.
	assert.Empty(t, res.Widenings)
}

func TestMonomorphizeSubstitutesParamType(t *testing.T) {
	mono := monomorphize(scaleMeta(), []ptype.Type{ptype.Float})
	assert.Empty(t, mono.TypeParams)
	in, ok := mono.InType.AsConcrete()
	require.True(t, ok)
	assert.Equal(t, ptype.Float, in)
	assert.Equal(t, registry.ActorParamType{Tag: registry.ParamFloat}, mono.Params[0].ParamType)
}
