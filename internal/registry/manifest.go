package registry

import (
	"encoding/json"
	"fmt"

	"github.com/tmineno/pipeit/internal/ptype"
)

// FromManifestJSON parses the canonical registry JSON CanonicalJSON
// produces back into a Registry. This is the --actor-meta side of
// spec.md §6's registry loading interface: a hermetic build loads its
// actor metadata from a previously emitted --emit manifest document
// instead of re-running the (out-of-scope) actor header loader.
func FromManifestJSON(data []byte) (*Registry, error) {
	var manifest manifestJSON
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("registry: parsing manifest json: %w", err)
	}
	if manifest.SchemaVersion != ManifestSchemaVersion {
		return nil, fmt.Errorf("registry: manifest schema version %d, want %d", manifest.SchemaVersion, ManifestSchemaVersion)
	}

	r := New()
	for _, a := range manifest.Actors {
		inType, err := fromTypeExprJSON(a.InType)
		if err != nil {
			return nil, fmt.Errorf("registry: actor %q: in_type: %w", a.Name, err)
		}
		outType, err := fromTypeExprJSON(a.OutType)
		if err != nil {
			return nil, fmt.Errorf("registry: actor %q: out_type: %w", a.Name, err)
		}
		params := make([]ActorParam, 0, len(a.Params))
		for _, p := range a.Params {
			tag, err := paramTagFromName(p.Type)
			if err != nil {
				return nil, fmt.Errorf("registry: actor %q: param %q: %w", a.Name, p.Name, err)
			}
			kind := KindParam
			if p.Kind == "const" {
				kind = KindConst
			}
			params = append(params, ActorParam{
				Kind:      kind,
				ParamType: ActorParamType{Tag: tag, Param: p.Param},
				Name:      p.Name,
			})
		}
		inShape := make([]TokenCount, 0, len(a.InShape))
		for _, d := range a.InShape {
			inShape = append(inShape, fromTokenCountJSON(d))
		}
		outShape := make([]TokenCount, 0, len(a.OutShape))
		for _, d := range a.OutShape {
			outShape = append(outShape, fromTokenCountJSON(d))
		}
		r.Add(ActorMeta{
			Name:       a.Name,
			TypeParams: append([]string(nil), a.TypeParams...),
			InType:     inType,
			InCount:    fromTokenCountJSON(a.InCount),
			InShape:    PortShape{Dims: inShape},
			OutType:    outType,
			OutCount:   fromTokenCountJSON(a.OutCount),
			OutShape:   PortShape{Dims: outShape},
			Params:     params,
		})
	}
	return r, nil
}

func fromTypeExprJSON(t typeExprJSON) (TypeExpr, error) {
	if t.Param != "" {
		return Param(t.Param), nil
	}
	pt, ok := ptype.Parse(t.Concrete)
	if !ok {
		return TypeExpr{}, fmt.Errorf("unknown concrete type %q", t.Concrete)
	}
	return Concrete(pt), nil
}

func fromTokenCountJSON(c tokenCountJSON) TokenCount {
	if c.Literal != nil {
		return Lit(*c.Literal)
	}
	return Sym(c.Symbol)
}

func paramTagFromName(name string) (ParamTypeTag, error) {
	switch name {
	case "int":
		return ParamInt, nil
	case "float":
		return ParamFloat, nil
	case "double":
		return ParamDouble, nil
	case "string":
		return ParamString, nil
	case "span_float":
		return ParamSpanFloat, nil
	case "span_double":
		return ParamSpanDouble, nil
	case "type_param":
		return ParamTypeParamTag, nil
	case "span_type_param":
		return ParamSpanTypeParamTag, nil
	default:
		return 0, fmt.Errorf("unknown param type tag %q", name)
	}
}
