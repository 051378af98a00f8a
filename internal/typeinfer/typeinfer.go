// Package typeinfer implements pass 3 of the pipeline compiler: resolving
// every polymorphic actor call to a concrete type assignment (from
// explicit type arguments, upstream pipe context, or argument literals)
// and identifying the pipe edges where implicit widening applies.
package typeinfer

import (
	"fmt"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/ptype"
	"github.com/tmineno/pipeit/internal/registry"
)

// WideningPoint is a pipe edge where the upstream actor's output type
// implicitly widens to the downstream actor's input type.
type WideningPoint struct {
	TargetCallID idalloc.CallID
	From, To     ptype.Type
}

// Result is the output of type inference: a concrete type assignment for
// every call that needed one, the monomorphized ActorMeta for every
// polymorphic call, and the widening points Lower consumes.
type Result struct {
	TypeAssignments map[idalloc.CallID][]ptype.Type
	MonoActors      map[idalloc.CallID]registry.ActorMeta
	Widenings       []WideningPoint
	Diagnostics     []diag.Diagnostic
}

// Infer runs pass 3 over prog's HIR. For a program with no polymorphic
// actors and no cross-call widening, this is a no-op that produces empty
// TypeAssignments and Widenings.
func Infer(prog hir.Program, reg *registry.Registry) Result {
	e := &engine{
		reg: reg,
		res: Result{
			TypeAssignments: make(map[idalloc.CallID][]ptype.Type),
			MonoActors:      make(map[idalloc.CallID]registry.ActorMeta),
		},
	}
	for _, t := range prog.Tasks {
		switch t.Body.Kind {
		case hir.TaskPipeline:
			e.inferPipeline(t.Body.Pipeline)
		case hir.TaskModal:
			e.inferPipeline(t.Body.Modal.Control)
			for _, m := range t.Body.Modal.Modes {
				e.inferPipeline(m.Body)
			}
		}
	}
	e.res.Diagnostics = e.diags
	return e.res
}

type engine struct {
	reg   *registry.Registry
	res   Result
	diags []diag.Diagnostic
}

func (e *engine) inferPipeline(p hir.Pipeline) {
	for _, pipe := range p.Pipes {
		e.inferPipeExpr(pipe)
	}
}

// chainCall is one actor call position within a pipe chain, carrying
// enough of hir.ActorCall for type inference plus its originating span
// for diagnostics.
type chainCall struct {
	call *hir.ActorCall
}

func collectChain(pipe hir.PipeExpr) []chainCall {
	var chain []chainCall
	if pipe.Source.Kind == hir.SourceActorCall {
		chain = append(chain, chainCall{call: &pipe.Source.Call})
	}
	for i := range pipe.Elements {
		if pipe.Elements[i].Kind == hir.ElemActorCall {
			chain = append(chain, chainCall{call: &pipe.Elements[i].Call})
		}
	}
	return chain
}

func (e *engine) inferPipeExpr(pipe hir.PipeExpr) {
	chain := collectChain(pipe)

	// Phase 1: resolve explicit type arguments.
	for _, c := range chain {
		e.resolveExplicitTypeArgs(c.call)
	}

	// Phase 2: infer from pipe context for calls phase 1 left unresolved.
	e.inferFromPipeContext(chain)

	// Phase 3: widening between adjacent calls.
	e.checkPipeWidening(chain)
}

func (e *engine) resolveExplicitTypeArgs(call *hir.ActorCall) {
	if len(call.TypeArgs) == 0 {
		return
	}
	meta, ok := e.reg.Lookup(call.Name)
	if !ok || !meta.IsPolymorphic() || len(call.TypeArgs) != len(meta.TypeParams) {
		// Already reported by Resolve (E0011/E0012/E0013).
		return
	}

	concrete := make([]ptype.Type, 0, len(call.TypeArgs))
	for _, name := range call.TypeArgs {
		t, ok := ptype.Parse(name)
		if !ok {
			e.errorf(call.CallSpan, diag.E0100, "unknown type %q", name).
				WithHint("valid types: int8, int16, int32, float, double, cfloat, cdouble")
			return
		}
		concrete = append(concrete, t)
	}

	mono := monomorphize(meta, concrete)
	e.res.TypeAssignments[call.CallID] = concrete
	e.res.MonoActors[call.CallID] = mono
}

func (e *engine) inferFromPipeContext(chain []chainCall) {
	var currentOutput *ptype.Type

	for _, c := range chain {
		call := c.call
		meta, ok := e.effectiveMeta(call)
		if !ok {
			currentOutput = nil
			continue
		}

		if len(call.TypeArgs) > 0 || !meta.IsPolymorphic() {
			if t, ok := meta.OutType.AsConcrete(); ok {
				currentOutput = &t
			} else {
				currentOutput = nil
			}
			continue
		}

		if currentOutput != nil {
			if meta.InType.Kind == registry.TypeParam {
				if idx := indexOf(meta.TypeParams, meta.InType.Param); idx >= 0 {
					concrete := make([]ptype.Type, len(meta.TypeParams))
					for i := range concrete {
						concrete[i] = ptype.Void
					}
					concrete[idx] = *currentOutput
					if allResolved(concrete) {
						mono := monomorphize(meta, concrete)
						e.res.TypeAssignments[call.CallID] = concrete
						e.res.MonoActors[call.CallID] = mono
						if t, ok := mono.OutType.AsConcrete(); ok {
							currentOutput = &t
						} else {
							currentOutput = nil
						}
						continue
					}
				}
			}
			e.errorf(call.CallSpan, diag.E0101, "ambiguous polymorphic actor call %q", call.Name).
				WithHint(explicitTypeArgsHint(call))
			currentOutput = nil
			continue
		}

		if concrete, ok := e.inferTypeFromArgs(call, meta); ok {
			mono := monomorphize(meta, concrete)
			e.res.TypeAssignments[call.CallID] = concrete
			e.res.MonoActors[call.CallID] = mono
			if t, ok := mono.OutType.AsConcrete(); ok {
				currentOutput = &t
			} else {
				currentOutput = nil
			}
			continue
		}

		e.errorf(call.CallSpan, diag.E0102, "ambiguous polymorphic actor call %q", call.Name).
			WithHint(explicitTypeArgsHint(call))
		currentOutput = nil
	}
}

func explicitTypeArgsHint(call *hir.ActorCall) string {
	placeholders := ""
	for i := range call.Args {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "..."
	}
	return fmt.Sprintf("specify type arguments explicitly, e.g. %s<float>(%s)", call.Name, placeholders)
}

// inferTypeFromArgs tries to determine a polymorphic call's type
// parameters from its argument literals, matching each ParamTypeParamTag
// parameter position to the corresponding call argument.
func (e *engine) inferTypeFromArgs(call *hir.ActorCall, meta registry.ActorMeta) ([]ptype.Type, bool) {
	concrete := make([]ptype.Type, len(meta.TypeParams))
	for i := range concrete {
		concrete[i] = ptype.Void
	}

	for i, arg := range call.Args {
		if i >= len(meta.Params) {
			break
		}
		param := meta.Params[i]
		if param.ParamType.Tag != registry.ParamTypeParamTag {
			continue
		}
		idx := indexOf(meta.TypeParams, param.ParamType.Param)
		if idx < 0 {
			continue
		}
		if t, ok := inferArgType(arg); ok && concrete[idx] == ptype.Void {
			concrete[idx] = t
		}
	}

	return concrete, allResolved(concrete)
}

// inferArgType infers a concrete type from a literal argument. Numeric
// literals default to int32 (integer form) or float (fractional form);
// const references are not resolved here; that requires reading the
// const's declared value, which explicit type arguments bypass.
func inferArgType(arg astpdl.Arg) (ptype.Type, bool) {
	if arg.Kind != astpdl.ArgValue || arg.Val.Kind != astpdl.ValScalar {
		return ptype.Void, false
	}
	s := arg.Val.Scalar
	if s.Kind != astpdl.ScalarNumber {
		return ptype.Void, false
	}
	if s.IsIntLiteral {
		return ptype.Int32, true
	}
	return ptype.Float, true
}

func (e *engine) effectiveMeta(call *hir.ActorCall) (registry.ActorMeta, bool) {
	if mono, ok := e.res.MonoActors[call.CallID]; ok {
		return mono, true
	}
	return e.reg.Lookup(call.Name)
}

func (e *engine) checkPipeWidening(chain []chainCall) {
	for i := 0; i+1 < len(chain); i++ {
		srcMeta, ok1 := e.effectiveMeta(chain[i].call)
		tgtMeta, ok2 := e.effectiveMeta(chain[i+1].call)
		if !ok1 || !ok2 {
			continue
		}
		srcOut, ok1 := srcMeta.OutType.AsConcrete()
		tgtIn, ok2 := tgtMeta.InType.AsConcrete()
		if !ok1 || !ok2 {
			continue
		}
		if srcOut == tgtIn || srcOut == ptype.Void || tgtIn == ptype.Void {
			continue
		}
		if ptype.CanWiden(srcOut, tgtIn) {
			e.res.Widenings = append(e.res.Widenings, WideningPoint{
				TargetCallID: chain[i+1].call.CallID,
				From:         srcOut,
				To:           tgtIn,
			})
		}
		// Non-widenable mismatches are reported by Lower (E0200), not here.
	}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func allResolved(ts []ptype.Type) bool {
	for _, t := range ts {
		if t == ptype.Void {
			return false
		}
	}
	return true
}

func (e *engine) errorf(span astpdl.Span, code diag.Code, format string, args ...any) diagBuilder {
	d := diag.New(diag.Error, span, fmt.Sprintf(format, args...)).WithCode(code)
	e.diags = append(e.diags, d)
	return diagBuilder{diags: &e.diags, index: len(e.diags) - 1}
}

// diagBuilder lets a just-appended diagnostic be refined (e.g. WithHint)
// without the caller re-indexing e.diags.
type diagBuilder struct {
	diags *[]diag.Diagnostic
	index int
}

func (b diagBuilder) WithHint(hint string) {
	(*b.diags)[b.index] = (*b.diags)[b.index].WithHint(hint)
}

// monomorphize builds a concrete ActorMeta by substituting meta's type
// parameters with concrete, positionally matching TypeParams to concrete.
func monomorphize(meta registry.ActorMeta, concrete []ptype.Type) registry.ActorMeta {
	subst := make(map[string]ptype.Type, len(meta.TypeParams))
	for i, name := range meta.TypeParams {
		if i < len(concrete) {
			subst[name] = concrete[i]
		}
	}

	substType := func(te registry.TypeExpr) registry.TypeExpr {
		if te.Kind == registry.TypeConcrete {
			return te
		}
		if t, ok := subst[te.Param]; ok {
			return registry.Concrete(t)
		}
		return registry.Concrete(ptype.Void)
	}

	substParamType := func(pt registry.ActorParamType) registry.ActorParamType {
		switch pt.Tag {
		case registry.ParamTypeParamTag:
			if t, ok := subst[pt.Param]; ok {
				switch t {
				case ptype.Int32:
					return registry.ActorParamType{Tag: registry.ParamInt}
				case ptype.Float:
					return registry.ActorParamType{Tag: registry.ParamFloat}
				case ptype.Double:
					return registry.ActorParamType{Tag: registry.ParamDouble}
				}
			}
			return pt
		case registry.ParamSpanTypeParamTag:
			if t, ok := subst[pt.Param]; ok && t == ptype.Float {
				return registry.ActorParamType{Tag: registry.ParamSpanFloat}
			}
			return pt
		default:
			return pt
		}
	}

	params := make([]registry.ActorParam, len(meta.Params))
	for i, p := range meta.Params {
		params[i] = registry.ActorParam{Kind: p.Kind, ParamType: substParamType(p.ParamType), Name: p.Name}
	}

	return registry.ActorMeta{
		Name:       meta.Name,
		TypeParams: nil,
		InType:     substType(meta.InType),
		InCount:    meta.InCount,
		InShape:    meta.InShape,
		OutType:    substType(meta.OutType),
		OutCount:   meta.OutCount,
		OutShape:   meta.OutShape,
		Params:     params,
	}
}
