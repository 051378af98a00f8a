// Package hir implements pass 2 of the pipeline compiler: inlining every
// `define` call so downstream passes see a normalized, define-free
// program. See ADR-024 in the original implementation for the rationale
// behind keeping HIR id-addressed rather than pointer-linked.
package hir

import (
	"fmt"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/resolve"
)

// maxExpansionDepth bounds define inlining; a chain deeper than this is
// necessarily recursive (define bodies cannot reference themselves, so
// honest programs never approach this bound).
const maxExpansionDepth = 64

// ── HIR types ────────────────────────────────────────────────────────

type Program struct {
	Tasks             []Task
	Consts            []Const
	Params            []Param
	SetDirectives     []SetDirective
	ExpandedCallSpans map[idalloc.CallID]astpdl.Span
}

type Task struct {
	Name     string
	TaskID   idalloc.TaskID
	FreqHz   float64
	FreqSpan astpdl.Span
	Body     TaskBody
}

type TaskBodyKind int

const (
	TaskPipeline TaskBodyKind = iota
	TaskModal
)

type TaskBody struct {
	Kind     TaskBodyKind
	Pipeline Pipeline
	Modal    Modal
}

type Pipeline struct {
	Pipes []PipeExpr
	Span  astpdl.Span
}

type ModeEntry struct {
	Name string
	Body Pipeline
}

type SwitchSourceKind int

const (
	SwitchBuffer SwitchSourceKind = iota
	SwitchParam
)

type SwitchSource struct {
	Kind SwitchSourceKind
	Name string
}

type Modal struct {
	Control Pipeline
	Modes   []ModeEntry
	Switch  SwitchSource
	Span    astpdl.Span
}

type PipeSourceKind int

const (
	SourceActorCall PipeSourceKind = iota
	SourceBufferRead
	SourceTapRef
)

type PipeSource struct {
	Kind PipeSourceKind
	Name string // BufferRead / TapRef
	Call ActorCall
}

type PipeElemKind int

const (
	ElemActorCall PipeElemKind = iota
	ElemTap
	ElemProbe
)

type PipeElem struct {
	Kind PipeElemKind
	Call ActorCall
	Name string // Tap / Probe
}

type PipeExpr struct {
	Source   PipeSource
	Elements []PipeElem
	Sink     *string
	Span     astpdl.Span
}

// ActorCall is a concrete, define-free actor call. Args are already
// substituted if this call originated from define expansion.
type ActorCall struct {
	Name            string
	CallID          idalloc.CallID
	CallSpan        astpdl.Span
	Args            []astpdl.Arg
	TypeArgs        []string
	ShapeConstraint *astpdl.ShapeConstraint
}

type Const struct {
	DefID idalloc.DefID
	Name  string
	Value astpdl.Value
}

type Param struct {
	DefID        idalloc.DefID
	Name         string
	DefaultValue astpdl.Scalar
}

type SetDirective struct {
	Name  string
	Value astpdl.SetValue
}

// ── Build ────────────────────────────────────────────────────────────

// Builder expands every define call in a resolved program, allocating
// fresh CallIds for synthesized calls via the same allocator resolve
// used, so the full CallId space stays dense and source-ordered.
type Builder struct {
	alloc   *idalloc.Allocator
	res     resolve.Result
	reg     *registry.Registry
	defines map[string]astpdl.DefineStmt

	expandedSpans map[idalloc.CallID]astpdl.Span
	diags         []diag.Diagnostic
}

// Build runs pass 2 over prog using the name bindings res produced by
// pass 1, returning the normalized HIR and any diagnostics. The returned
// Cert records obligations H1-H3.
func Build(prog astpdl.Program, res resolve.Result, reg *registry.Registry) (Program, Cert, []diag.Diagnostic) {
	b := &Builder{
		alloc:         res.Alloc,
		res:           res,
		reg:           reg,
		defines:       make(map[string]astpdl.DefineStmt),
		expandedSpans: make(map[idalloc.CallID]astpdl.Span),
	}

	for _, stmt := range prog.Statements {
		if stmt.Kind == astpdl.StmtDefine {
			b.defines[stmt.Define.Name.Name] = *stmt.Define
		}
	}

	out := Program{ExpandedCallSpans: b.expandedSpans}
	for _, stmt := range prog.Statements {
		switch stmt.Kind {
		case astpdl.StmtConst:
			c := stmt.Const
			out.Consts = append(out.Consts, Const{
				DefID: res.ConstIDs[c.Name.Name],
				Name:  c.Name.Name,
				Value: c.Value,
			})
		case astpdl.StmtParam:
			p := stmt.Param
			out.Params = append(out.Params, Param{
				DefID:        res.ParamIDs[p.Name.Name],
				Name:         p.Name.Name,
				DefaultValue: p.Value,
			})
		case astpdl.StmtSet:
			s := stmt.Set
			out.SetDirectives = append(out.SetDirectives, SetDirective{Name: s.Name.Name, Value: s.Value})
		case astpdl.StmtTask:
			out.Tasks = append(out.Tasks, b.buildTask(*stmt.Task))
		}
	}

	cert := b.verify(out)
	return out, cert, b.diags
}

func (b *Builder) buildTask(t astpdl.TaskStmt) Task {
	ht := Task{
		Name:     t.Name.Name,
		TaskID:   b.res.TaskIDs[t.Name.Name],
		FreqHz:   t.Freq,
		FreqSpan: t.FreqSpan,
	}
	switch t.Body.Kind {
	case astpdl.TaskPipeline:
		ht.Body = TaskBody{Kind: TaskPipeline, Pipeline: b.buildPipeline(t.Body.Pipeline, nil, 0)}
	case astpdl.TaskModal:
		m := t.Body.Modal
		modal := Modal{
			Control: b.buildPipeline(m.Control.Body, nil, 0),
			Span:    m.Span,
		}
		for _, mode := range m.Modes {
			modal.Modes = append(modal.Modes, ModeEntry{
				Name: mode.Name.Name,
				Body: b.buildPipeline(mode.Body, nil, 0),
			})
		}
		switch m.Switch.Source.Kind {
		case astpdl.SwitchBuffer:
			modal.Switch = SwitchSource{Kind: SwitchBuffer, Name: m.Switch.Source.Name.Name}
		case astpdl.SwitchParam:
			modal.Switch = SwitchSource{Kind: SwitchParam, Name: m.Switch.Source.Name.Name}
		}
		ht.Body = TaskBody{Kind: TaskModal, Modal: modal}
	}
	return ht
}

// subst maps a define's formal parameter name to the actual argument
// supplied at its call site; nil outside of define expansion.
type subst map[string]astpdl.Arg

func (b *Builder) buildPipeline(body astpdl.PipelineBody, sub subst, depth int) Pipeline {
	out := Pipeline{Span: body.Span}
	for _, line := range body.Lines {
		out.Pipes = append(out.Pipes, b.buildPipeExpr(line, sub, depth)...)
	}
	return out
}

// buildPipeExpr returns one or more HIR pipe expressions: normally
// exactly one, but a source or element that resolves to a define expands
// into the define body's own pipe expressions spliced in place.
func (b *Builder) buildPipeExpr(line astpdl.PipeExpr, sub subst, depth int) []PipeExpr {
	var sink *string
	if line.Sink != nil {
		name := line.Sink.Buffer.Name
		sink = &name
	}

	source, expandedBefore := b.buildSource(line.Source, sub, depth)
	var elements []PipeElem
	for _, elem := range line.Elements {
		elements = append(elements, b.buildElem(elem, sub, depth)...)
	}

	result := []PipeExpr{{Source: source, Elements: elements, Sink: sink, Span: line.Span}}
	return append(expandedBefore, result...)
}

// buildSource resolves a pipe's head. If it is an actor call that
// resolves to a define, the define body's pipe expressions are returned
// as additional lines to splice before this one, and the source becomes
// that define body's own effective tail, approximated here by treating
// the expanded define's own last line's source as this line's source
// and prepending the earlier lines. For the common case (single-line defines)
// this degenerates to straightforward substitution.
func (b *Builder) buildSource(src astpdl.PipeSource, sub subst, depth int) (PipeSource, []PipeExpr) {
	switch src.Kind {
	case astpdl.SourceActorCall:
		call, expanded := b.expandCall(src.Call, sub, depth)
		if expanded != nil {
			return expanded.tailSource, expanded.leadingPipes
		}
		return PipeSource{Kind: SourceActorCall, Call: call}, nil
	case astpdl.SourceBufferRead:
		return PipeSource{Kind: SourceBufferRead, Name: src.Ident.Name}, nil
	case astpdl.SourceTapRef:
		return PipeSource{Kind: SourceTapRef, Name: src.Ident.Name}, nil
	}
	return PipeSource{}, nil
}

// buildElem resolves one middle pipe element. A define-call element
// expands to that define's own pipeline flattened into this position:
// every pipe expression the define body produces is absorbed as
// additional elements feeding the same downstream sink.
func (b *Builder) buildElem(elem astpdl.PipeElem, sub subst, depth int) []PipeElem {
	switch elem.Kind {
	case astpdl.ElemActorCall:
		call, expanded := b.expandCall(elem.Call, sub, depth)
		if expanded != nil {
			var out []PipeElem
			for _, p := range expanded.leadingPipes {
				if p.Source.Kind == SourceActorCall {
					out = append(out, PipeElem{Kind: ElemActorCall, Call: p.Source.Call})
				}
				out = append(out, p.Elements...)
			}
			if expanded.tailSource.Kind == SourceActorCall && expanded.tailSource.Call.Name != "" {
				out = append(out, PipeElem{Kind: ElemActorCall, Call: expanded.tailSource.Call})
			}
			return append(out, expanded.tailElements...)
		}
		return []PipeElem{{Kind: ElemActorCall, Call: call}}
	case astpdl.ElemTap:
		return []PipeElem{{Kind: ElemTap, Name: elem.Ident.Name}}
	case astpdl.ElemProbe:
		return []PipeElem{{Kind: ElemProbe, Name: elem.Ident.Name}}
	}
	return nil
}

// expandedDefine carries the spliced result of inlining one define call
// occupying a single position in a pipe expression.
type expandedDefine struct {
	leadingPipes []PipeExpr
	tailSource   PipeSource
	tailElements []PipeElem
}

// expandCall resolves one actor-call-shaped node. If the name resolves to
// a define it is inlined (recursively, bounded by maxExpansionDepth) and
// expanded is non-nil; a fresh CallID is allocated for every actor call
// synthesized this way and recorded in ExpandedCallSpans. If the name
// resolves to an actor, the original CallID resolve allocated is reused
// and expanded is nil.
func (b *Builder) expandCall(call astpdl.ActorCall, sub subst, depth int) (ActorCall, *expandedDefine) {
	substituted := substituteArgs(call.Args, sub)

	if def, ok := b.defines[call.Name.Name]; ok {
		if depth >= maxExpansionDepth {
			b.diags = append(b.diags, diag.New(diag.Error, call.Span,
				fmt.Sprintf("define %q exceeds maximum expansion depth %d (recursive define?)", call.Name.Name, maxExpansionDepth)).
				WithCode(diag.E0600))
			return ActorCall{}, &expandedDefine{}
		}
		inner := bindFormals(def.Params, substituted)
		body := b.buildPipeline(def.Body, inner, depth+1)
		if len(body.Pipes) == 0 {
			return ActorCall{}, &expandedDefine{}
		}
		last := body.Pipes[len(body.Pipes)-1]
		return ActorCall{}, &expandedDefine{
			leadingPipes: body.Pipes[:len(body.Pipes)-1],
			tailSource:   last.Source,
			tailElements: last.Elements,
		}
	}

	// Resolves to a registry actor (or is otherwise unresolved, reported
	// already by pass 1): reuse the CallID resolve allocated for this
	// original call site when present, otherwise allocate fresh (this
	// call is itself inside an expanded define body).
	id, ok := b.res.CallIDs[call.Span]
	if !ok || sub != nil {
		id = b.alloc.AllocCall()
		b.expandedSpans[id] = call.Span
	}
	return ActorCall{
		Name:            call.Name.Name,
		CallID:          id,
		CallSpan:        call.Span,
		Args:            substituted,
		TypeArgs:        identNames(call.TypeArgs),
		ShapeConstraint: call.ShapeConstraint,
	}, nil
}

func identNames(idents []astpdl.Ident) []string {
	if len(idents) == 0 {
		return nil
	}
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = id.Name
	}
	return out
}

// bindFormals pairs a define's formal parameter identifiers with the
// actual arguments supplied at its call site, positionally.
func bindFormals(formals []astpdl.Ident, actuals []astpdl.Arg) subst {
	s := make(subst, len(formals))
	for i, f := range formals {
		if i < len(actuals) {
			s[f.Name] = actuals[i]
		}
	}
	return s
}

// substituteArgs replaces any const/param-reference argument whose name
// matches a formal parameter with the actual argument bound to it.
func substituteArgs(args []astpdl.Arg, sub subst) []astpdl.Arg {
	if sub == nil {
		return args
	}
	out := make([]astpdl.Arg, len(args))
	for i, a := range args {
		if (a.Kind == astpdl.ArgConstRef || a.Kind == astpdl.ArgParamRef || a.Kind == astpdl.ArgTapRef) && a.Ref.Name != "" {
			if actual, ok := sub[a.Ref.Name]; ok {
				out[i] = actual
				continue
			}
		}
		out[i] = a
	}
	return out
}

// ── Cert (H1-H3) ─────────────────────────────────────────────────────

type Cert struct {
	DefinesExpanded bool // H1
	CallIDsUnique   bool // H2
	CallIDsTracked  bool // H3
}

func (c Cert) AllPass() bool { return c.DefinesExpanded && c.CallIDsUnique && c.CallIDsTracked }

func (c Cert) Obligations() []struct {
	Name string
	Pass bool
} {
	return []struct {
		Name string
		Pass bool
	}{
		{"H1_defines_expanded", c.DefinesExpanded},
		{"H2_callids_unique", c.CallIDsUnique},
		{"H3_callids_tracked", c.CallIDsTracked},
	}
}

// verify checks H1-H3 over the built program.
func (b *Builder) verify(prog Program) Cert {
	seen := make(map[idalloc.CallID]bool)
	unique := true
	tracked := true

	var walkCall func(ActorCall)
	walkCall = func(c ActorCall) {
		if seen[c.CallID] {
			unique = false
		}
		seen[c.CallID] = true
		if _, fromResolve := b.res.CallIDs[c.CallSpan]; !fromResolve {
			if _, fromExpansion := prog.ExpandedCallSpans[c.CallID]; !fromExpansion {
				tracked = false
			}
		}
	}

	var walkPipeline func(Pipeline)
	walkPipeline = func(p Pipeline) {
		for _, pe := range p.Pipes {
			if pe.Source.Kind == SourceActorCall {
				walkCall(pe.Source.Call)
			}
			for _, el := range pe.Elements {
				if el.Kind == ElemActorCall {
					walkCall(el.Call)
				}
			}
		}
	}

	for _, t := range prog.Tasks {
		switch t.Body.Kind {
		case TaskPipeline:
			walkPipeline(t.Body.Pipeline)
		case TaskModal:
			walkPipeline(t.Body.Modal.Control)
			for _, m := range t.Body.Modal.Modes {
				walkPipeline(m.Body)
			}
		}
	}

	definesExpanded := true // by construction: buildPipeExpr never emits a define-kind call

	return Cert{DefinesExpanded: definesExpanded, CallIDsUnique: unique, CallIDsTracked: tracked}
}
