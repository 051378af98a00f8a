package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayWithoutCode(t *testing.T) {
	d := New(Error, Span{0, 1}, "something failed")
	assert.Equal(t, "error: something failed", d.String())
}

func TestDisplayWithCode(t *testing.T) {
	d := New(Warning, Span{0, 1}, "unused define").WithCode(W0001)
	assert.Equal(t, "warning[W0001]: unused define", d.String())
}

func TestBuilderChain(t *testing.T) {
	span := Span{0, 1}
	d := New(Error, span, "type mismatch").
		WithCode(E0200).
		WithHint("insert a conversion actor").
		WithRelated(span, "source actor here").
		WithCause("inferred float from upstream", &span)

	require.Equal(t, E0200, d.Code)
	assert.Equal(t, "insert a conversion actor", d.Hint)
	assert.Len(t, d.RelatedSpans, 1)
	assert.Len(t, d.CauseChain, 1)
}

func TestCodeUniqueness(t *testing.T) {
	seen := make(map[Code]bool, len(AllCodes))
	for _, c := range AllCodes {
		require.Falsef(t, seen[c], "duplicate diagnostic code: %s", c)
		seen[c] = true
	}
}

func TestCodeFormatValid(t *testing.T) {
	for _, c := range AllCodes {
		s := string(c)
		require.Lenf(t, s, 5, "code %q must be 5 chars (E/W + 4 digits)", s)
		assert.Truef(t, s[0] == 'E' || s[0] == 'W', "code %q must start with E or W", s)
		for _, r := range s[1:] {
			assert.Truef(t, r >= '0' && r <= '9', "code %q suffix must be digits", s)
		}
	}
}

func TestJSONRoundtripSemantic(t *testing.T) {
	span := Span{0, 1}
	d := New(Error, span, "type mismatch").
		WithCode(E0200).
		WithHint("insert a conversion actor").
		WithRelated(span, "source actor here").
		WithCause("inferred float from upstream", &span)

	j := d.ToJSON()
	assert.Equal(t, "semantic", j.Kind)
	assert.Equal(t, "error", j.Level)
	require.NotNil(t, j.Code)
	assert.Equal(t, "E0200", *j.Code)
	assert.Len(t, j.RelatedSpans, 1)
	assert.Len(t, j.CauseChain, 1)

	line, err := j.MarshalLine()
	require.NoError(t, err)
	assert.Contains(t, string(line), `"kind":"semantic"`)
}

func TestJSONParseError(t *testing.T) {
	j := ParseErrorJSON("unexpected token", 10, 15)
	assert.Equal(t, "parse", j.Kind)
	assert.Nil(t, j.Code)
	assert.Equal(t, 10, j.Span.Start)
	assert.Equal(t, 15, j.Span.End)

	line, err := j.MarshalLine()
	require.NoError(t, err)
	assert.Contains(t, string(line), `"kind":"parse"`)
}

func TestCodeCount(t *testing.T) {
	assert.Equal(t, 64, len(AllCodes))
}
