// Package resolve implements pass 1 of the pipeline compiler: binding every
// name in a parsed program to the namespace, actor, buffer, tap, or param it
// refers to, and allocating the stable ids that later passes treat as
// semantic identity.
package resolve

import (
	"fmt"
	"sort"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/registry"
)

// CallResolutionKind discriminates what an actor-call name resolved to.
type CallResolutionKind int

const (
	ResolvesToActor CallResolutionKind = iota
	ResolvesToDefine
)

// CallResolution records the outcome of resolving one actor-call name.
type CallResolution struct {
	Kind CallResolutionKind
	Name string
}

// Result is the output of Resolve: a name-bound view over the AST plus the
// id allocator seeded with every declaration and actor call discovered in
// source order.
type Result struct {
	Alloc *idalloc.Allocator

	// DefIds by declared name, in the const/param/define namespaces.
	ConstIDs  map[string]idalloc.DefID
	ParamIDs  map[string]idalloc.DefID
	DefineIDs map[string]idalloc.DefID
	TaskIDs   map[string]idalloc.TaskID

	// CallIDs keyed by the call's span, so BuildHir can look up the
	// original CallID for calls it does not expand.
	CallIDs map[astpdl.Span]idalloc.CallID

	// CallKinds records what each resolved call name bound to.
	CallKinds map[astpdl.Span]CallResolution

	// BufferWriters maps shared-buffer name to the task that writes it.
	BufferWriters map[string]string

	Diagnostics []diag.Diagnostic
}

type namespace int

const (
	nsConst namespace = iota
	nsParam
	nsDefine
	nsTask
)

// Resolve binds every name in prog against reg, reporting diagnostics for
// every error and warning condition in spec §4.2 and allocating DefIds,
// TaskIds, and CallIds in source order. It never returns early: resolve
// produces the most complete partial result it can so later passes (run
// only if no errors occurred) have maximal information for their own
// diagnostics.
func Resolve(prog astpdl.Program, reg *registry.Registry) Result {
	r := Result{
		Alloc:         idalloc.New(),
		ConstIDs:      make(map[string]idalloc.DefID),
		ParamIDs:      make(map[string]idalloc.DefID),
		DefineIDs:     make(map[string]idalloc.DefID),
		TaskIDs:       make(map[string]idalloc.TaskID),
		CallIDs:       make(map[astpdl.Span]idalloc.CallID),
		CallKinds:     make(map[astpdl.Span]CallResolution),
		BufferWriters: make(map[string]string),
	}

	declared := make(map[string]namespace) // cross-namespace collision tracking
	defineNames := make(map[string]bool)
	r.resolveDecls(prog, reg, declared, defineNames)

	return r
}

// resolveDecls walks Program.Statements once, in source order, dispatching
// on Kind. Source order determines DefId/TaskId allocation order (spec
// §4.2's final bullet).
func (r *Result) resolveDecls(prog astpdl.Program, reg *registry.Registry, declared map[string]namespace, defineNames map[string]bool) {
	for _, stmt := range prog.Statements {
		switch stmt.Kind {
		case astpdl.StmtConst:
			c := stmt.Const
			r.declare(declared, nsConst, c.Name, diag.E0001)
			r.ConstIDs[c.Name.Name] = r.Alloc.AllocDef()
		case astpdl.StmtParam:
			p := stmt.Param
			r.declare(declared, nsParam, p.Name, diag.E0002)
			r.ParamIDs[p.Name.Name] = r.Alloc.AllocDef()
		case astpdl.StmtDefine:
			d := stmt.Define
			if reg.Has(d.Name.Name) {
				r.warn(d.Name.Span, diag.W0001, fmt.Sprintf("define %q shadows a registry actor", d.Name.Name))
			}
			r.declare(declared, nsDefine, d.Name, diag.E0003)
			defineNames[d.Name.Name] = true
			r.DefineIDs[d.Name.Name] = r.Alloc.AllocDef()
		case astpdl.StmtTask:
			t := stmt.Task
			r.declare(declared, nsTask, t.Name, diag.E0004)
			r.TaskIDs[t.Name.Name] = r.Alloc.AllocTask()
			r.resolveTaskBody(*t, reg, defineNames)
		case astpdl.StmtSet:
			// set directives need no name resolution; TypeInfer/Analyze
			// consume their values directly.
		}
	}
}

func (r *Result) declare(declared map[string]namespace, ns namespace, id astpdl.Ident, dupCode diag.Code) {
	if prior, ok := declared[id.Name]; ok {
		if prior == ns {
			r.errorf(id.Span, dupCode, "duplicate declaration of %q", id.Name)
		} else {
			r.errorf(id.Span, diag.E0005, "%q collides with a declaration in another namespace", id.Name)
		}
		return
	}
	declared[id.Name] = ns
}

func (r *Result) resolveTaskBody(t astpdl.TaskStmt, reg *registry.Registry, defineNames map[string]bool) {
	switch t.Body.Kind {
	case astpdl.TaskPipeline:
		r.resolvePipeline(t.Name.Name, t.Body.Pipeline, reg, defineNames)
	case astpdl.TaskModal:
		r.resolveModal(t.Name.Name, t.Body.Modal, reg, defineNames)
	}
}

func (r *Result) resolveModal(taskName string, m astpdl.ModalBody, reg *registry.Registry, defineNames map[string]bool) {
	r.resolvePipeline(taskName, m.Control.Body, reg, defineNames)

	modeDecls := make(map[string]bool)
	for _, mode := range m.Modes {
		if modeDecls[mode.Name.Name] {
			r.errorf(mode.Name.Span, diag.E0007, "duplicate mode %q", mode.Name.Name)
		}
		modeDecls[mode.Name.Name] = true
		r.resolvePipeline(taskName, mode.Body, reg, defineNames)
	}

	switch m.Switch.Source.Kind {
	case astpdl.SwitchBuffer, astpdl.SwitchParam:
		if m.Switch.Source.Kind == astpdl.SwitchParam {
			if _, ok := r.ParamIDs[m.Switch.Source.Name.Name]; !ok {
				r.errorf(m.Switch.Source.Name.Span, diag.E0018, "undefined param %q in switch source", m.Switch.Source.Name.Name)
			}
		}
	}

	listed := make(map[string]bool)
	for _, mn := range m.Switch.Modes {
		if !modeDecls[mn.Name] {
			r.errorf(mn.Span, diag.E0019, "switch references undefined mode %q", mn.Name)
			continue
		}
		if listed[mn.Name] {
			r.errorf(mn.Span, diag.E0021, "mode %q listed multiple times in switch", mn.Name)
		}
		listed[mn.Name] = true
	}
	for name := range modeDecls {
		if !listed[name] {
			r.errorf(m.Switch.Span, diag.E0020, fmt.Sprintf("mode %q not listed in switch", name))
		}
	}
	if m.Switch.Default != nil {
		r.warn(m.Switch.Span, diag.W0002, "switch default clause is deprecated")
	}
}

func (r *Result) resolvePipeline(taskName string, body astpdl.PipelineBody, reg *registry.Registry, defineNames map[string]bool) {
	tapDecls := make(map[string]astpdl.Span)
	tapUses := make(map[string]int)
	tapDeclOrder := make(map[string]int)

	// Pass 1: collect every tap declaration up front, so tap-as-argument
	// references (permitted forward, i.e. feedback) resolve regardless of
	// line order; only tap-as-pipe-source references enforce backward-only.
	for lineIdx, pipe := range body.Lines {
		for _, elem := range pipe.Elements {
			if elem.Kind != astpdl.ElemTap {
				continue
			}
			if _, ok := tapDecls[elem.Ident.Name]; ok {
				r.errorf(elem.Ident.Span, diag.E0009, "tap %q already declared", elem.Ident.Name)
				continue
			}
			tapDecls[elem.Ident.Name] = elem.Ident.Span
			tapDeclOrder[elem.Ident.Name] = lineIdx
		}
	}

	// Pass 2: resolve every name against the complete tables above.
	for lineIdx, pipe := range body.Lines {
		r.resolveSource(pipe.Source, reg, defineNames, tapDecls, tapDeclOrder, tapUses, lineIdx)
		for _, elem := range pipe.Elements {
			switch elem.Kind {
			case astpdl.ElemActorCall:
				r.resolveCall(elem.Call, reg, defineNames, tapDecls, tapUses)
			case astpdl.ElemTap, astpdl.ElemProbe:
				// tap declarations were indexed in pass 1; probes carry
				// no name to resolve beyond the span already attached.
			}
		}
		if pipe.Sink != nil {
			if existing, ok := r.BufferWriters[pipe.Sink.Buffer.Name]; ok && existing != taskName {
				r.errorf(pipe.Sink.Buffer.Span, diag.E0010, fmt.Sprintf("buffer %q already written by task %q", pipe.Sink.Buffer.Name, existing))
			} else {
				r.BufferWriters[pipe.Sink.Buffer.Name] = taskName
			}
		}
	}

	for name := range tapDeclOrder {
		if tapUses[name] == 0 {
			// Kept as E0006 for code-stability (diagnostic codes are
			// never reassigned) even though this condition is
			// warning-level.
			r.warn(tapDecls[name], diag.E0006, fmt.Sprintf("tap %q declared but never consumed", name))
		}
	}
}

func (r *Result) resolveSource(src astpdl.PipeSource, reg *registry.Registry, defineNames map[string]bool, tapDecls map[string]astpdl.Span, tapDeclOrder map[string]int, tapUses map[string]int, lineIdx int) {
	switch src.Kind {
	case astpdl.SourceActorCall:
		r.resolveCall(src.Call, reg, defineNames, tapDecls, tapUses)
	case astpdl.SourceTapRef:
		if declLine, ok := tapDeclOrder[src.Ident.Name]; !ok {
			r.errorf(src.Ident.Span, diag.E0008, "undefined tap %q", src.Ident.Name)
		} else {
			tapUses[src.Ident.Name]++
			if declLine >= lineIdx {
				r.errorf(src.Ident.Span, diag.E0024, fmt.Sprintf("tap %q referenced as a pipe source before its declaration", src.Ident.Name))
			}
		}
	case astpdl.SourceBufferRead:
		if _, ok := r.BufferWriters[src.Ident.Name]; !ok {
			r.errorf(src.Ident.Span, diag.E0023, fmt.Sprintf("buffer %q has no writer", src.Ident.Name))
		}
	}
}

func (r *Result) resolveCall(call astpdl.ActorCall, reg *registry.Registry, defineNames map[string]bool, tapDecls map[string]astpdl.Span, tapUses map[string]int) {
	id := r.Alloc.AllocCall()
	r.CallIDs[call.Span] = id

	meta, isActor := reg.Lookup(call.Name.Name)
	_, isDefine := defineNames[call.Name.Name]

	switch {
	case isDefine:
		r.CallKinds[call.Span] = CallResolution{Kind: ResolvesToDefine, Name: call.Name.Name}
	case isActor:
		r.CallKinds[call.Span] = CallResolution{Kind: ResolvesToActor, Name: call.Name.Name}
		if len(call.TypeArgs) > 0 {
			if !meta.IsPolymorphic() {
				r.errorf(call.Span, diag.E0012, fmt.Sprintf("actor %q takes no type parameters", call.Name.Name))
			} else if len(call.TypeArgs) != len(meta.TypeParams) {
				r.errorf(call.Span, diag.E0013, fmt.Sprintf("actor %q expects %d type arguments, got %d", call.Name.Name, len(meta.TypeParams), len(call.TypeArgs)))
			}
		}
	default:
		r.errorf(call.Span, diag.E0011, fmt.Sprintf("unknown actor or define %q", call.Name.Name))
	}

	for _, arg := range call.Args {
		r.resolveArg(arg, tapDecls, tapUses)
	}
}

func (r *Result) resolveArg(arg astpdl.Arg, tapDecls map[string]astpdl.Span, tapUses map[string]int) {
	switch arg.Kind {
	case astpdl.ArgParamRef:
		if _, ok := r.ParamIDs[arg.Ref.Name]; !ok {
			r.errorf(arg.Ref.Span, diag.E0014, fmt.Sprintf("undefined param %q", arg.Ref.Name))
		}
	case astpdl.ArgConstRef:
		if _, ok := r.ConstIDs[arg.Ref.Name]; !ok {
			r.errorf(arg.Ref.Span, diag.E0015, fmt.Sprintf("undefined const %q", arg.Ref.Name))
		}
	case astpdl.ArgTapRef:
		// Tap references used as actor arguments are permitted forward
		// (feedback), unlike tap references used as pipe sources.
		if _, ok := tapDecls[arg.Ref.Name]; !ok {
			r.errorf(arg.Ref.Span, diag.E0022, fmt.Sprintf("undefined tap %q as actor input", arg.Ref.Name))
		} else {
			tapUses[arg.Ref.Name]++
		}
	case astpdl.ArgValue:
		// literal values need no resolution.
	}
}

func (r *Result) errorf(span astpdl.Span, code diag.Code, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, diag.New(diag.Error, span, fmt.Sprintf(format, args...)).WithCode(code))
}

func (r *Result) warn(span astpdl.Span, code diag.Code, message string) {
	r.Diagnostics = append(r.Diagnostics, diag.New(diag.Warning, span, message).WithCode(code))
}

// HasErrors reports whether resolve produced any error-level diagnostic.
func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// SortedDiagnostics returns diagnostics ordered by span start, then end, for
// stable output regardless of internal map iteration order.
func (r Result) SortedDiagnostics() []diag.Diagnostic {
	out := append([]diag.Diagnostic(nil), r.Diagnostics...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.Start != out[j].Span.Start {
			return out[i].Span.Start < out[j].Span.Start
		}
		return out[i].Span.End < out[j].Span.End
	})
	return out
}
