// Package lower implements pass 4 of the pipeline compiler: typed
// lowering. It materializes every implicit widening point TypeInfer
// identified as an explicit synthetic node, builds the concrete
// ActorMeta map every call needs, and verifies the L1-L5 proof
// obligations before any downstream pass runs.
package lower

import (
	"fmt"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/ptype"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/typeinfer"
)

// WideningNode is a synthetic conversion actor inserted between two pipe
// stages to materialize an implicit widening TypeInfer identified.
type WideningNode struct {
	TargetSpan    astpdl.Span
	TargetCallID  idalloc.CallID
	From, To      ptype.Type
	SyntheticName string
}

// Program is the lowered program: every call's concrete ActorMeta, every
// inserted widening node, and the type instantiation TypeInfer assigned
// each polymorphic call.
type Program struct {
	ConcreteActors     map[idalloc.CallID]registry.ActorMeta
	WideningNodes      []WideningNode
	TypeInstantiations map[idalloc.CallID][]ptype.Type
}

// Cert is machine-checkable evidence for the L1-L5 proof obligations.
type Cert struct {
	L1TypeConsistency           bool
	L2WideningSafety            bool
	L3RateShapePreservation     bool
	L4MonomorphizationSoundness bool
	L5NoFallbackTyping          bool
}

func (c Cert) AllPass() bool {
	return c.L1TypeConsistency && c.L2WideningSafety && c.L3RateShapePreservation &&
		c.L4MonomorphizationSoundness && c.L5NoFallbackTyping
}

// Result is the output of Lower: the lowered program, its cert, and any
// diagnostics produced while verifying L1-L5.
type Result struct {
	Lowered     Program
	Cert        Cert
	Diagnostics []diag.Diagnostic
}

func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// LowerAndVerify runs pass 4: it builds the concrete actor map and
// widening nodes from hirProg and typed, then checks L1-L5.
func LowerAndVerify(hirProg hir.Program, typed typeinfer.Result, reg *registry.Registry) Result {
	e := &engine{
		hir:            hirProg,
		typed:          typed,
		reg:            reg,
		concreteActors: make(map[idalloc.CallID]registry.ActorMeta),
		expandedSpans:  hirProg.ExpandedCallSpans,
	}
	e.lowerProgram()
	cert := e.verifyObligations()

	return Result{
		Lowered: Program{
			ConcreteActors:     e.concreteActors,
			WideningNodes:      e.wideningNodes,
			TypeInstantiations: typed.TypeAssignments,
		},
		Cert:        cert,
		Diagnostics: e.diags,
	}
}

type engine struct {
	hir            hir.Program
	typed          typeinfer.Result
	reg            *registry.Registry
	concreteActors map[idalloc.CallID]registry.ActorMeta
	wideningNodes  []WideningNode
	expandedSpans  map[idalloc.CallID]astpdl.Span
	diags          []diag.Diagnostic
}

// ── Phase 1: lowering ──────────────────────────────────────────────────

func (e *engine) lowerProgram() {
	for _, t := range e.hir.Tasks {
		e.lowerTask(t)
	}
}

func (e *engine) lowerTask(t hir.Task) {
	switch t.Body.Kind {
	case hir.TaskPipeline:
		e.lowerPipeline(t.Body.Pipeline)
	case hir.TaskModal:
		e.lowerPipeline(t.Body.Modal.Control)
		for _, m := range t.Body.Modal.Modes {
			e.lowerPipeline(m.Body)
		}
	}
}

func (e *engine) lowerPipeline(p hir.Pipeline) {
	for _, pipe := range p.Pipes {
		e.lowerPipeExpr(pipe)
	}
}

func callsOf(pipe hir.PipeExpr) []hir.ActorCall {
	var calls []hir.ActorCall
	if pipe.Source.Kind == hir.SourceActorCall {
		calls = append(calls, pipe.Source.Call)
	}
	for _, el := range pipe.Elements {
		if el.Kind == hir.ElemActorCall {
			calls = append(calls, el.Call)
		}
	}
	return calls
}

func (e *engine) lowerPipeExpr(pipe hir.PipeExpr) {
	calls := callsOf(pipe)
	for _, c := range calls {
		e.lowerActorCall(c)
	}

	// Insert widening nodes, matching by CallID, so a widening targeting a
	// define-expansion-synthesized call still resolves correctly.
	for _, wp := range e.typed.Widenings {
		for _, c := range calls {
			if c.CallID == wp.TargetCallID {
				e.wideningNodes = append(e.wideningNodes, WideningNode{
					TargetSpan:    c.CallSpan,
					TargetCallID:  wp.TargetCallID,
					From:          wp.From,
					To:            wp.To,
					SyntheticName: fmt.Sprintf("_widen_%s_to_%s", wp.From, wp.To),
				})
			}
		}
	}
}

func (e *engine) lowerActorCall(call hir.ActorCall) {
	if mono, ok := e.typed.MonoActors[call.CallID]; ok {
		e.concreteActors[call.CallID] = mono
		return
	}
	if meta, ok := e.reg.Lookup(call.Name); ok {
		e.concreteActors[call.CallID] = meta
	}
}

// ── Phase 2: L1-L5 verification ─────────────────────────────────────────

func (e *engine) verifyObligations() Cert {
	return Cert{
		L1TypeConsistency:           e.verifyL1(),
		L2WideningSafety:            e.verifyL2(),
		L3RateShapePreservation:     e.verifyL3(),
		L4MonomorphizationSoundness: e.verifyL4(),
		L5NoFallbackTyping:          e.verifyL5(),
	}
}

// verifyL1 checks that every adjacent pair of calls in every pipe has
// matching source-output/target-input types, once widening nodes are
// accounted for.
func (e *engine) verifyL1() bool {
	ok := true
	e.walkPipelines(func(p hir.Pipeline) {
		for _, pipe := range p.Pipes {
			calls := callsOf(pipe)
			for i := 0; i+1 < len(calls); i++ {
				src, tgt := calls[i], calls[i+1]
				srcOut, ok1 := e.outputType(src)
				tgtIn, ok2 := e.inputType(tgt)
				if !ok1 || !ok2 {
					continue
				}
				if srcOut == ptype.Void || tgtIn == ptype.Void {
					continue
				}
				if e.hasWidening(tgt.CallID) {
					continue
				}
				if srcOut != tgtIn {
					e.errorf(tgt.CallSpan, diag.E0200,
						"lowering verification failed (L1 type consistency): edge type mismatch %s -> %s", srcOut, tgtIn)
					ok = false
				}
			}
		}
	})
	return ok
}

// verifyL2 checks every inserted widening node uses an allowed chain.
func (e *engine) verifyL2() bool {
	ok := true
	for _, wn := range e.wideningNodes {
		if !ptype.CanWiden(wn.From, wn.To) {
			e.errorf(wn.TargetSpan, diag.E0201,
				"lowering verification failed (L2 widening safety): %s -> %s is not a safe widening chain", wn.From, wn.To).
				WithHint("allowed chains: int8->int16->int32->float->double, cfloat->cdouble")
			ok = false
		}
	}
	return ok
}

// verifyL3 checks every widening node's target has a nonzero input rate
// (1:1 conversion, no rate or shape change).
func (e *engine) verifyL3() bool {
	ok := true
	for _, wn := range e.wideningNodes {
		meta, found := e.concreteActors[wn.TargetCallID]
		if !found {
			continue
		}
		if meta.InCount.Kind == registry.CountLiteral && meta.InCount.Literal == 0 {
			e.errorf(wn.TargetSpan, diag.E0202,
				"lowering verification failed (L3 rate/shape preservation): widening target has zero-rate input")
			ok = false
		}
	}
	return ok
}

// verifyL4 checks every polymorphic registry actor's call was rewritten
// to exactly one fully concrete instance.
func (e *engine) verifyL4() bool {
	ok := true
	e.walkPipelines(func(p hir.Pipeline) {
		for _, pipe := range p.Pipes {
			for _, c := range callsOf(pipe) {
				regMeta, found := e.reg.Lookup(c.Name)
				if !found || !regMeta.IsPolymorphic() {
					continue
				}
				concrete, has := e.concreteActors[c.CallID]
				switch {
				case !has:
					e.errorf(c.CallSpan, diag.E0204,
						"lowering verification failed (L4 monomorphization soundness): polymorphic actor %q has no concrete instance", c.Name).
						WithHint("specify type arguments explicitly")
					ok = false
				case concrete.IsPolymorphic():
					e.errorf(c.CallSpan, diag.E0203,
						"lowering verification failed (L4 monomorphization soundness): polymorphic actor %q not fully monomorphized", c.Name).
						WithHint("specify type arguments explicitly")
					ok = false
				}
			}
		}
	})
	return ok
}

// verifyL5 checks no concrete actor in the lowered program retains an
// unresolved (type-parameter) input or output type.
func (e *engine) verifyL5() bool {
	ok := true
	for id, meta := range e.concreteActors {
		span := e.spanFor(id)
		if _, concrete := meta.InType.AsConcrete(); !concrete {
			e.errorf(span, diag.E0205,
				"lowering verification failed (L5 no fallback typing): actor %q has unresolved input type", meta.Name)
			ok = false
		}
		if _, concrete := meta.OutType.AsConcrete(); !concrete {
			e.errorf(span, diag.E0206,
				"lowering verification failed (L5 no fallback typing): actor %q has unresolved output type", meta.Name)
			ok = false
		}
	}
	return ok
}

// ── Helpers ──────────────────────────────────────────────────────────

func (e *engine) hasWidening(id idalloc.CallID) bool {
	for _, wn := range e.wideningNodes {
		if wn.TargetCallID == id {
			return true
		}
	}
	return false
}

func (e *engine) outputType(c hir.ActorCall) (ptype.Type, bool) {
	meta, ok := e.concreteActors[c.CallID]
	if !ok {
		return ptype.Void, false
	}
	return meta.OutType.AsConcrete()
}

func (e *engine) inputType(c hir.ActorCall) (ptype.Type, bool) {
	meta, ok := e.concreteActors[c.CallID]
	if !ok {
		return ptype.Void, false
	}
	return meta.InType.AsConcrete()
}

func (e *engine) spanFor(id idalloc.CallID) astpdl.Span {
	if sp, ok := e.expandedSpans[id]; ok {
		return sp
	}
	var found astpdl.Span
	e.walkPipelines(func(p hir.Pipeline) {
		for _, pipe := range p.Pipes {
			for _, c := range callsOf(pipe) {
				if c.CallID == id {
					found = c.CallSpan
				}
			}
		}
	})
	return found
}

func (e *engine) walkPipelines(fn func(hir.Pipeline)) {
	for _, t := range e.hir.Tasks {
		switch t.Body.Kind {
		case hir.TaskPipeline:
			fn(t.Body.Pipeline)
		case hir.TaskModal:
			fn(t.Body.Modal.Control)
			for _, m := range t.Body.Modal.Modes {
				fn(m.Body)
			}
		}
	}
}

func (e *engine) errorf(span astpdl.Span, code diag.Code, format string, args ...any) diagBuilder {
	d := diag.New(diag.Error, span, fmt.Sprintf(format, args...)).WithCode(code)
	e.diags = append(e.diags, d)
	return diagBuilder{diags: &e.diags, index: len(e.diags) - 1}
}

type diagBuilder struct {
	diags *[]diag.Diagnostic
	index int
}

func (b diagBuilder) WithHint(hint string) {
	(*b.diags)[b.index] = (*b.diags)[b.index].WithHint(hint)
}
