// Package registry models the actor metadata table the compiler consumes
// as a read-only collaborator: a mapping from actor name to its declared
// input/output types, token rates, port shapes, type parameters, and
// positional parameters. The registry is loaded once, outside this
// package's scope, and treated as immutable for the lifetime of a
// compilation.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tmineno/pipeit/internal/ptype"
)

// TypeExprKind discriminates a concrete type from an unresolved type
// parameter placeholder.
type TypeExprKind int

const (
	TypeConcrete TypeExprKind = iota
	TypeParam
)

// TypeExpr is either a concrete primitive type or a named type-parameter
// placeholder, resolved during monomorphization.
type TypeExpr struct {
	Kind    TypeExprKind
	Concrete ptype.Type
	Param   string
}

// AsConcrete returns the concrete type and true if this expression is
// already resolved.
func (t TypeExpr) AsConcrete() (ptype.Type, bool) {
	if t.Kind == TypeConcrete {
		return t.Concrete, true
	}
	return ptype.Void, false
}

// Concrete builds a resolved TypeExpr.
func Concrete(t ptype.Type) TypeExpr { return TypeExpr{Kind: TypeConcrete, Concrete: t} }

// Param builds an unresolved type-parameter TypeExpr.
func Param(name string) TypeExpr { return TypeExpr{Kind: TypeParam, Param: name} }

// TokenCountKind discriminates a literal token count from one bound to a
// symbolic dimension resolved later by dimension resolution.
type TokenCountKind int

const (
	CountLiteral TokenCountKind = iota
	CountSymbolic
)

// TokenCount is an actor port's token rate: a literal, or a name resolved
// against call-site arguments / shape constraints / span lengths.
type TokenCount struct {
	Kind    TokenCountKind
	Literal uint32
	Symbol  string
}

// Lit builds a literal TokenCount.
func Lit(n uint32) TokenCount { return TokenCount{Kind: CountLiteral, Literal: n} }

// Sym builds a symbolic TokenCount bound to a named dimension.
func Sym(name string) TokenCount { return TokenCount{Kind: CountSymbolic, Symbol: name} }

// PortShape is the product of a port's dimensions; Dims may mix literal and
// symbolic entries the way TokenCount does.
type PortShape struct {
	Dims []TokenCount
}

// Rank1 builds a single-dimension shape from one TokenCount.
func Rank1(d TokenCount) PortShape { return PortShape{Dims: []TokenCount{d}} }

// ParamKind discriminates a runtime-tunable parameter from a compile-time
// constant one.
type ParamKind int

const (
	KindParam ParamKind = iota
	KindConst
)

// ParamTypeTag discriminates the concrete forms a positional parameter's
// declared type can take.
type ParamTypeTag int

const (
	ParamInt ParamTypeTag = iota
	ParamFloat
	ParamDouble
	ParamString
	ParamSpanFloat
	ParamSpanDouble
	ParamTypeParamTag // unresolved type-parameter-typed parameter
	ParamSpanTypeParamTag
)

// ActorParamType carries a ParamTypeTag plus, for the two type-parameter
// variants, the parameter name to substitute during monomorphization.
type ActorParamType struct {
	Tag   ParamTypeTag
	Param string // set when Tag is ParamTypeParamTag / ParamSpanTypeParamTag
}

// ActorParam is one positional parameter of an actor call.
type ActorParam struct {
	Kind      ParamKind
	ParamType ActorParamType
	Name      string
}

// ActorMeta is the registry's record for one actor: its port types, token
// counts, port shapes, type parameters, and positional parameters.
type ActorMeta struct {
	Name       string
	TypeParams []string
	InType     TypeExpr
	InCount    TokenCount
	InShape    PortShape
	OutType    TypeExpr
	OutCount   TokenCount
	OutShape   PortShape
	Params     []ActorParam
}

// IsPolymorphic reports whether this actor declares one or more type
// parameters.
func (m ActorMeta) IsPolymorphic() bool { return len(m.TypeParams) > 0 }

// Registry maps actor name to ActorMeta. It is constructed once (by the
// external actor-metadata loader) and read-only thereafter.
type Registry struct {
	actors map[string]ActorMeta
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{actors: make(map[string]ActorMeta)}
}

// Add inserts or replaces the metadata for an actor name. Used by the
// external loader (or tests) to populate the registry before compilation.
func (r *Registry) Add(m ActorMeta) {
	r.actors[m.Name] = m
}

// Lookup returns the ActorMeta for name, if any.
func (r *Registry) Lookup(name string) (ActorMeta, bool) {
	m, ok := r.actors[name]
	return m, ok
}

// Has reports whether an actor by this name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.actors[name]
	return ok
}

// Len reports the number of registered actors.
func (r *Registry) Len() int { return len(r.actors) }

// Names returns every registered actor name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actors))
	for n := range r.actors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ── Canonical JSON manifest (spec §6: registry loading interface) ──────

// ManifestSchemaVersion is the schema version field of the canonical
// registry JSON.
const ManifestSchemaVersion = 1

type manifestJSON struct {
	SchemaVersion int          `json:"schema_version"`
	Actors        []actorJSON  `json:"actors"`
}

type actorJSON struct {
	Name       string          `json:"name"`
	TypeParams []string        `json:"type_params"`
	InType     typeExprJSON    `json:"in_type"`
	InCount    tokenCountJSON  `json:"in_count"`
	InShape    []tokenCountJSON `json:"in_shape"`
	OutType    typeExprJSON    `json:"out_type"`
	OutCount   tokenCountJSON  `json:"out_count"`
	OutShape   []tokenCountJSON `json:"out_shape"`
	Params     []paramJSON     `json:"params"`
}

type typeExprJSON struct {
	Concrete string `json:"concrete,omitempty"`
	Param    string `json:"param,omitempty"`
}

type tokenCountJSON struct {
	Literal *uint32 `json:"literal,omitempty"`
	Symbol  string  `json:"symbol,omitempty"`
}

type paramJSON struct {
	Kind  string `json:"kind"`
	Type  string `json:"type"`
	Param string `json:"type_param,omitempty"`
	Name  string `json:"name"`
}

func toTypeExprJSON(t TypeExpr) typeExprJSON {
	if t.Kind == TypeConcrete {
		return typeExprJSON{Concrete: t.Concrete.String()}
	}
	return typeExprJSON{Param: t.Param}
}

func toTokenCountJSON(c TokenCount) tokenCountJSON {
	if c.Kind == CountLiteral {
		v := c.Literal
		return tokenCountJSON{Literal: &v}
	}
	return tokenCountJSON{Symbol: c.Symbol}
}

func paramTagName(tag ParamTypeTag) string {
	switch tag {
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamDouble:
		return "double"
	case ParamString:
		return "string"
	case ParamSpanFloat:
		return "span_float"
	case ParamSpanDouble:
		return "span_double"
	case ParamSpanTypeParamTag:
		return "span_type_param"
	default:
		return "type_param"
	}
}

// CanonicalJSON renders the registry as compact, deterministically ordered
// JSON: actors sorted by name, every map-derived field sorted. This is the
// text hashed to produce the registry_fingerprint in provenance, and the
// body of --emit manifest.
func (r *Registry) CanonicalJSON() (string, error) {
	names := r.Names()
	actors := make([]actorJSON, 0, len(names))
	for _, name := range names {
		m := r.actors[name]
		params := make([]paramJSON, 0, len(m.Params))
		for _, p := range m.Params {
			kind := "param"
			if p.Kind == KindConst {
				kind = "const"
			}
			params = append(params, paramJSON{
				Kind:  kind,
				Type:  paramTagName(p.ParamType.Tag),
				Param: p.ParamType.Param,
				Name:  p.Name,
			})
		}
		inShape := make([]tokenCountJSON, 0, len(m.InShape.Dims))
		for _, d := range m.InShape.Dims {
			inShape = append(inShape, toTokenCountJSON(d))
		}
		outShape := make([]tokenCountJSON, 0, len(m.OutShape.Dims))
		for _, d := range m.OutShape.Dims {
			outShape = append(outShape, toTokenCountJSON(d))
		}
		actors = append(actors, actorJSON{
			Name:       m.Name,
			TypeParams: append([]string(nil), m.TypeParams...),
			InType:     toTypeExprJSON(m.InType),
			InCount:    toTokenCountJSON(m.InCount),
			InShape:    inShape,
			OutType:    toTypeExprJSON(m.OutType),
			OutCount:   toTokenCountJSON(m.OutCount),
			OutShape:   outShape,
			Params:     params,
		})
	}
	manifest := manifestJSON{SchemaVersion: ManifestSchemaVersion, Actors: actors}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(manifest); err != nil {
		return "", fmt.Errorf("registry: canonical json: %w", err)
	}
	// Encode appends a trailing newline; the hashed/emitted text should not
	// depend on that detail, so trim it for a stable compact form.
	out := buf.String()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}
