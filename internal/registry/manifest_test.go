package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/internal/ptype"
)

func fullActor() ActorMeta {
	return ActorMeta{
		Name:       "scale",
		TypeParams: []string{"T"},
		InType:     Param("T"),
		InCount:    Lit(1),
		InShape:    Rank1(Lit(1)),
		OutType:    Param("T"),
		OutCount:   Lit(1),
		OutShape:   Rank1(Sym("n")),
		Params: []ActorParam{
			{Kind: KindParam, ParamType: ActorParamType{Tag: ParamFloat}, Name: "alpha"},
			{Kind: KindConst, ParamType: ActorParamType{Tag: ParamTypeParamTag, Param: "T"}, Name: "init"},
		},
	}
}

func TestFromManifestJSONRoundTripsCanonicalJSON(t *testing.T) {
	r := New()
	r.Add(fullActor())
	r.Add(ActorMeta{Name: "gain", InType: Concrete(ptype.Float), InCount: Lit(1), InShape: Rank1(Lit(1)), OutType: Concrete(ptype.Float), OutCount: Lit(1), OutShape: Rank1(Lit(1))})

	original, err := r.CanonicalJSON()
	require.NoError(t, err)

	loaded, err := FromManifestJSON([]byte(original))
	require.NoError(t, err)
	assert.Equal(t, r.Len(), loaded.Len())

	roundTripped, err := loaded.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, original, roundTripped)
}

func TestFromManifestJSONRejectsWrongSchemaVersion(t *testing.T) {
	_, err := FromManifestJSON([]byte(`{"schema_version":2,"actors":[]}`))
	require.Error(t, err)
}

func TestFromManifestJSONRejectsUnknownConcreteType(t *testing.T) {
	_, err := FromManifestJSON([]byte(`{"schema_version":1,"actors":[{"name":"x","type_params":[],"in_type":{"concrete":"nonsense"},"in_count":{"literal":1},"in_shape":[{"literal":1}],"out_type":{"concrete":"nonsense"},"out_count":{"literal":1},"out_shape":[{"literal":1}],"params":[]}]}`))
	require.Error(t, err)
}
