package lower

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
	"github.com/tmineno/pipeit/internal/typeinfer"
)

func sp(start, end int) astpdl.Span { return astpdl.Span{Start: start, End: end} }

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

func taskWith(p hir.Pipeline) hir.Program {
	return hir.Program{Tasks: []hir.Task{{
		Name: "t1",
		Body: hir.TaskBody{Kind: hir.TaskPipeline, Pipeline: p},
	}}}
}

func TestLowerConcreteActorsPopulated(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())
	call := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	pipe := hir.PipeExpr{Source: hir.PipeSource{Kind: hir.SourceActorCall, Call: call}}
	prog := taskWith(hir.Pipeline{Pipes: []hir.PipeExpr{pipe}})

	res := LowerAndVerify(prog, typeinfer.Result{
		TypeAssignments: map[idalloc.CallID][]ptype.Type{},
		MonoActors:      map[idalloc.CallID]registry.ActorMeta{},
	}, reg)

	assert.False(t, res.HasErrors())
	assert.True(t, res.Cert.AllPass())
	require.Contains(t, res.Lowered.ConcreteActors, call.CallID)
	assert.Equal(t, "gain", res.Lowered.ConcreteActors[call.CallID].Name)
}

func TestLowerInsertsWideningNode(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())
	reg.Add(toDoubleMeta())

	src := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	tgt := hir.ActorCall{Name: "to_double", CallID: idalloc.CallID(1), CallSpan: sp(5, 6)}
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: src},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: tgt}},
	}
	prog := taskWith(hir.Pipeline{Pipes: []hir.PipeExpr{pipe}})

	typed := typeinfer.Result{
		TypeAssignments: map[idalloc.CallID][]ptype.Type{},
		MonoActors:      map[idalloc.CallID]registry.ActorMeta{},
		Widenings: []typeinfer.WideningPoint{
			{TargetCallID: tgt.CallID, From: ptype.Float, To: ptype.Double},
		},
	}

	res := LowerAndVerify(prog, typed, reg)
	assert.False(t, res.HasErrors())
	assert.True(t, res.Cert.AllPass())
	require.Len(t, res.Lowered.WideningNodes, 1)
	wn := res.Lowered.WideningNodes[0]
	assert.Equal(t, ptype.Float, wn.From)
	assert.Equal(t, ptype.Double, wn.To)
	assert.Equal(t, "_widen_float_to_double", wn.SyntheticName)
}

func TestLowerL1RejectsUnwidenedMismatch(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())     // float -> float
	reg.Add(toDoubleMeta()) // float -> double

	src := hir.ActorCall{Name: "to_double", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	tgt := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(1), CallSpan: sp(5, 6)}
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: src},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: tgt}},
	}
	prog := taskWith(hir.Pipeline{Pipes: []hir.PipeExpr{pipe}})

	// double -> gain(float) with no widening recorded: L1 must fail since
	// double cannot implicitly narrow to float.
	typed := typeinfer.Result{
		TypeAssignments: map[idalloc.CallID][]ptype.Type{},
		MonoActors:      map[idalloc.CallID]registry.ActorMeta{},
	}

	res := LowerAndVerify(prog, typed, reg)
	require.True(t, res.HasErrors())
	assert.False(t, res.Cert.L1TypeConsistency)
	var codes []diag.Code
	for _, d := range res.Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, diag.E0200)
}

func TestLowerL2RejectsUnsafeWidening(t *testing.T) {
	reg := registry.New()
	reg.Add(gainMeta())
	reg.Add(toDoubleMeta())

	src := hir.ActorCall{Name: "gain", CallID: idalloc.CallID(0), CallSpan: sp(0, 1)}
	tgt := hir.ActorCall{Name: "to_double", CallID: idalloc.CallID(1), CallSpan: sp(5, 6)}
	pipe := hir.PipeExpr{
		Source:   hir.PipeSource{Kind: hir.SourceActorCall, Call: src},
		Elements: []hir.PipeElem{{Kind: hir.ElemActorCall, Call: tgt}},
	}
	prog := taskWith(hir.Pipeline{Pipes: []hir.PipeExpr{pipe}})

	// A widening point claiming a cross-family conversion, which TypeInfer
	// itself would never produce. Exercises L2 as an independent check.
	typed := typeinfer.Result{
		TypeAssignments: map[idalloc.CallID][]ptype.Type{},
		MonoActors:      map[idalloc.CallID]registry.ActorMeta{},
		Widenings: []typeinfer.WideningPoint{
			{TargetCallID: tgt.CallID, From: ptype.Double, To: ptype.Cfloat},
		},
	}

	res := LowerAndVerify(prog, typed, reg)
	require.True(t, res.HasErrors())
	assert.False(t, res.Cert.L2WideningSafety)
}
