// Package diag defines the unified diagnostic model shared by every pass of
// the pipeline compiler: severities, stable codes, spans, hints, related
// spans, cause chains, and the JSONL wire schema used by --diagnostic-format
// json.
package diag

import "encoding/json"

// Level is the severity of a Diagnostic.
type Level int

const (
	Error Level = iota
	Warning
)

func (l Level) String() string {
	if l == Warning {
		return "warning"
	}
	return "error"
}

// Code is a stable diagnostic code such as "E0200" or "W0400". Once
// assigned a code must never be reassigned to a different meaning; a
// retired diagnostic retires its code permanently.
type Code string

// Span is a byte-offset range into the original source text. Spans
// participate only in diagnostics; they never carry semantic identity.
type Span struct {
	Start int
	End   int
}

// Related is a secondary source location providing context for a
// diagnostic (e.g. "source actor here").
type Related struct {
	Span  Span
	Label string
}

// Cause is one link in a chain explaining a propagated constraint failure,
// e.g. "inferred float from upstream" pointing at the inference's origin.
type Cause struct {
	Message string
	Span    *Span
}

// Diagnostic is a single problem report emitted by any pass.
type Diagnostic struct {
	Code         Code
	Level        Level
	Span         Span
	Message      string
	Hint         string
	RelatedSpans []Related
	CauseChain   []Cause
}

// New creates a Diagnostic with no code, hint, related spans, or causes.
func New(level Level, span Span, message string) Diagnostic {
	return Diagnostic{Level: level, Span: span, Message: message}
}

// WithCode attaches a stable diagnostic code and returns the receiver for
// chaining.
func (d Diagnostic) WithCode(code Code) Diagnostic {
	d.Code = code
	return d
}

// WithHint attaches a remediation hint.
func (d Diagnostic) WithHint(hint string) Diagnostic {
	d.Hint = hint
	return d
}

// WithRelated appends a related span.
func (d Diagnostic) WithRelated(span Span, label string) Diagnostic {
	d.RelatedSpans = append(d.RelatedSpans, Related{Span: span, Label: label})
	return d
}

// WithCause appends a cause record to the chain.
func (d Diagnostic) WithCause(message string, span *Span) Diagnostic {
	d.CauseChain = append(d.CauseChain, Cause{Message: message, Span: span})
	return d
}

// String renders the human diagnostic format: "{level}[{code}]: {message}"
// with the hint, if any, on the following line.
func (d Diagnostic) String() string {
	s := d.Level.String()
	if d.Code != "" {
		s += "[" + string(d.Code) + "]: " + d.Message
	} else {
		s += ": " + d.Message
	}
	if d.Hint != "" {
		s += "\n  hint: " + d.Hint
	}
	return s
}

// IsError reports whether this diagnostic halts the pipeline.
func (d Diagnostic) IsError() bool { return d.Level == Error }

// AnyError reports whether any diagnostic in diags is error-level.
func AnyError(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.IsError() {
			return true
		}
	}
	return false
}

// ── JSON wire schema ────────────────────────────────────────────────────

type spanJSON struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type relatedJSON struct {
	Span  spanJSON `json:"span"`
	Label string   `json:"label"`
}

type causeJSON struct {
	Message string    `json:"message"`
	Span    *spanJSON `json:"span"`
}

// JSON is the one-line-per-diagnostic wire representation used by both
// semantic (code != nil) and parse (code == nil) diagnostics.
type JSON struct {
	Kind         string        `json:"kind"`
	Level        string        `json:"level"`
	Code         *string       `json:"code"`
	Message      string        `json:"message"`
	Span         spanJSON      `json:"span"`
	Hint         *string       `json:"hint"`
	RelatedSpans []relatedJSON `json:"related_spans"`
	CauseChain   []causeJSON   `json:"cause_chain"`
}

// ToJSON converts a semantic Diagnostic to its wire representation.
func (d Diagnostic) ToJSON() JSON {
	var code *string
	if d.Code != "" {
		c := string(d.Code)
		code = &c
	}
	var hint *string
	if d.Hint != "" {
		h := d.Hint
		hint = &h
	}
	related := make([]relatedJSON, 0, len(d.RelatedSpans))
	for _, r := range d.RelatedSpans {
		related = append(related, relatedJSON{
			Span:  spanJSON{Start: r.Span.Start, End: r.Span.End},
			Label: r.Label,
		})
	}
	causes := make([]causeJSON, 0, len(d.CauseChain))
	for _, c := range d.CauseChain {
		var sp *spanJSON
		if c.Span != nil {
			sp = &spanJSON{Start: c.Span.Start, End: c.Span.End}
		}
		causes = append(causes, causeJSON{Message: c.Message, Span: sp})
	}
	return JSON{
		Kind:         "semantic",
		Level:        d.Level.String(),
		Code:         code,
		Message:      d.Message,
		Span:         spanJSON{Start: d.Span.Start, End: d.Span.End},
		Hint:         hint,
		RelatedSpans: related,
		CauseChain:   causes,
	}
}

// ParseErrorJSON builds a "parse" kind JSON diagnostic (no code) from
// externally-produced lexer/parser error info.
func ParseErrorJSON(message string, start, end int) JSON {
	return JSON{
		Kind:    "parse",
		Level:   "error",
		Message: message,
		Span:    spanJSON{Start: start, End: end},
	}
}

// MarshalLine serializes j as one compact JSON line (no trailing newline).
func (j JSON) MarshalLine() ([]byte, error) {
	return json.Marshal(j)
}
