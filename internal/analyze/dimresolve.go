// dimresolve.go holds the dimension/rate resolution helpers unique to
// SDF balance-equation solving: span-argument-derived dimension
// inference and the four-source port-rate resolution spec.md §4.7
// item 1 describes. Const/param lookups live on thir.Context instead
// (see DESIGN.md); these functions consume that context rather than
// re-deriving const values themselves.
package analyze

import (
	"math"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/thir"
)

func isSpanParamTag(tag registry.ParamTypeTag) bool {
	return tag == registry.ParamSpanFloat || tag == registry.ParamSpanDouble || tag == registry.ParamSpanTypeParamTag
}

// symbolicDimNames collects every symbolic dimension name appearing in
// either of an actor's port shapes.
func symbolicDimNames(meta registry.ActorMeta) map[string]bool {
	names := make(map[string]bool)
	for _, d := range meta.InShape.Dims {
		if d.Kind == registry.CountSymbolic {
			names[d.Symbol] = true
		}
	}
	for _, d := range meta.OutShape.Dims {
		if d.Kind == registry.CountSymbolic {
			names[d.Symbol] = true
		}
	}
	return names
}

// firstSpanArgLength finds the first declared span-typed positional
// parameter with a resolvable compile-time argument length.
func firstSpanArgLength(meta registry.ActorMeta, args []astpdl.Arg, tc *thir.Context) (uint32, bool) {
	for idx, p := range meta.Params {
		if p.Kind != registry.KindParam || !isSpanParamTag(p.ParamType.Tag) {
			continue
		}
		if idx >= len(args) {
			continue
		}
		if v, ok := tc.ResolveArgToU32(args[idx]); ok {
			return v, true
		}
	}
	return 0, false
}

// InferDimParamFromSpanArgs infers dimName's value from a span-typed
// sibling argument's compile-time length, but only when dimName is the
// first still-unresolved symbolic dimension parameter in declaration
// order; otherwise two dimension params could both silently bind to
// the same span length.
func InferDimParamFromSpanArgs(dimName string, meta registry.ActorMeta, args []astpdl.Arg, tc *thir.Context) (uint32, bool) {
	dimParam, ok := findParamByName(meta, dimName)
	if !ok || dimParam.Kind != registry.KindParam || dimParam.ParamType.Tag != registry.ParamInt {
		return 0, false
	}
	spanLen, ok := firstSpanArgLength(meta, args, tc)
	if !ok {
		return 0, false
	}

	dimNames := symbolicDimNames(meta)
	firstUnresolved := ""
	for idx, p := range meta.Params {
		if p.Kind != registry.KindParam || p.ParamType.Tag != registry.ParamInt {
			continue
		}
		if !dimNames[p.Name] {
			continue
		}
		if idx < len(args) {
			if _, explicit := tc.ResolveArgToU32(args[idx]); explicit {
				continue
			}
		}
		firstUnresolved = p.Name
		break
	}
	if firstUnresolved == "" || firstUnresolved != dimName {
		return 0, false
	}
	return spanLen, true
}

// SpanArgLengthForDim returns the span-derived length for dimName
// regardless of whether an explicit argument already supplies it. Used
// only to detect conflicts between dimension sources, not to resolve
// the dimension itself.
func SpanArgLengthForDim(dimName string, meta registry.ActorMeta, args []astpdl.Arg, tc *thir.Context) (uint32, bool) {
	dimParam, ok := findParamByName(meta, dimName)
	if !ok || dimParam.Kind != registry.KindParam || dimParam.ParamType.Tag != registry.ParamInt {
		return 0, false
	}
	spanLen, ok := firstSpanArgLength(meta, args, tc)
	if !ok {
		return 0, false
	}

	dimNames := symbolicDimNames(meta)
	firstSymDim := ""
	for _, p := range meta.Params {
		if p.Kind != registry.KindParam || p.ParamType.Tag != registry.ParamInt {
			continue
		}
		if !dimNames[p.Name] {
			continue
		}
		firstSymDim = p.Name
		break
	}
	if firstSymDim == "" || firstSymDim != dimName {
		return 0, false
	}
	return spanLen, true
}

func findParamByName(meta registry.ActorMeta, name string) (registry.ActorParam, bool) {
	for _, p := range meta.Params {
		if p.Name == name {
			return p, true
		}
	}
	return registry.ActorParam{}, false
}

// ResolvePortRate resolves shape to a concrete token rate: the product
// of every dimension, each resolved in priority order (literal value,
// explicit actor argument, call-site shape constraint, then
// span-derived inference). Returns false if any dimension is
// unresolvable.
func ResolvePortRate(shape registry.PortShape, meta registry.ActorMeta, args []astpdl.Arg, shapeConstraint *astpdl.ShapeConstraint, tc *thir.Context) (uint32, bool) {
	rate := uint32(1)
	for dimIdx, d := range shape.Dims {
		var dimVal uint32
		switch d.Kind {
		case registry.CountLiteral:
			dimVal = d.Literal
		case registry.CountSymbolic:
			v, ok := resolveSymbolicDim(d.Symbol, dimIdx, meta, args, shapeConstraint, tc)
			if !ok {
				return 0, false
			}
			dimVal = v
		}
		next := uint64(rate) * uint64(dimVal)
		if next > math.MaxUint32 {
			return 0, false
		}
		rate = uint32(next)
	}
	return rate, true
}

func resolveSymbolicDim(name string, dimIdx int, meta registry.ActorMeta, args []astpdl.Arg, shapeConstraint *astpdl.ShapeConstraint, tc *thir.Context) (uint32, bool) {
	if idx, ok := paramIndexByName(meta, name); ok && idx < len(args) {
		if v, ok := tc.ResolveArgToU32(args[idx]); ok {
			return v, true
		}
	}
	if shapeConstraint != nil && dimIdx < len(shapeConstraint.Dims) {
		if v, ok := tc.ResolveShapeDim(shapeConstraint.Dims[dimIdx]); ok {
			return v, true
		}
	}
	if v, ok := InferDimParamFromSpanArgs(name, meta, args, tc); ok {
		return v, true
	}
	return 0, false
}

func paramIndexByName(meta registry.ActorMeta, name string) (int, bool) {
	for i, p := range meta.Params {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}
