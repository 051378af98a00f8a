// Package thir implements the read-only Typed HIR context: a unified
// query interface wrapping every earlier pass's output (resolve, hir,
// typeinfer, lower, the registry, and the pass-5 graph) with
// precomputed lookup tables so Analyze, Schedule, BuildLir, and
// Codegen never walk the raw AST or HIR themselves.
package thir

import (
	"sort"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/idalloc"
	"github.com/tmineno/pipeit/internal/lower"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/resolve"
	"github.com/tmineno/pipeit/internal/typeinfer"
)

const (
	defaultMemBytes    = 64 * 1024 * 1024
	defaultTickRateHz  = 1_000_000.0
	defaultOverrunPolicy = "stop"
)

// Context wraps every phase output built so far plus the precomputed
// indices and set-directive values downstream passes ask for
// repeatedly.
type Context struct {
	Resolved resolve.Result
	Typed    typeinfer.Result
	Lowered  lower.Program
	Registry *registry.Registry
	HIR      hir.Program

	taskIndex  map[string]int
	constIndex map[string]int
	paramIndex map[string]int
	setIndex   map[string]int

	MemBytes      uint64
	TickRateHz    float64
	TimerSpin     *float64
	OverrunPolicy string

	paramTargetTypes map[string]string
}

// Build constructs a Context from every earlier pass's output. graph is
// needed only to resolve each runtime param's target type by scanning
// actor nodes that reference it.
func Build(hirProg hir.Program, resolved resolve.Result, typed typeinfer.Result, lowered lower.Program, reg *registry.Registry, g graph.ProgramGraph) *Context {
	taskIndex := make(map[string]int, len(hirProg.Tasks))
	for i, t := range hirProg.Tasks {
		taskIndex[t.Name] = i
	}
	constIndex := make(map[string]int, len(hirProg.Consts))
	for i, c := range hirProg.Consts {
		constIndex[c.Name] = i
	}
	paramIndex := make(map[string]int, len(hirProg.Params))
	for i, p := range hirProg.Params {
		paramIndex[p.Name] = i
	}
	setIndex := make(map[string]int, len(hirProg.SetDirectives))
	for i, s := range hirProg.SetDirectives {
		setIndex[s.Name] = i
	}

	c := &Context{
		Resolved:      resolved,
		Typed:         typed,
		Lowered:       lowered,
		Registry:      reg,
		HIR:           hirProg,
		taskIndex:     taskIndex,
		constIndex:    constIndex,
		paramIndex:    paramIndex,
		setIndex:      setIndex,
		MemBytes:      defaultMemBytes,
		TickRateHz:    defaultTickRateHz,
		OverrunPolicy: defaultOverrunPolicy,
	}

	if v, ok := findSetSize(hirProg.SetDirectives, setIndex, "mem"); ok {
		c.MemBytes = v
	}
	if v, ok := findSetFreq(hirProg.SetDirectives, setIndex, "tick_rate"); ok {
		c.TickRateHz = v
	}
	if v, ok := findSetNumber(hirProg.SetDirectives, setIndex, "timer_spin"); ok {
		c.TimerSpin = &v
	}
	if v, ok := findSetIdent(hirProg.SetDirectives, setIndex, "overrun"); ok {
		c.OverrunPolicy = v
	}

	c.paramTargetTypes = resolveParamTargetTypes(hirProg, lowered, reg, g)
	return c
}

// ── Query methods ─────────────────────────────────────────────────────

func (c *Context) TaskInfo(name string) (hir.Task, bool) {
	i, ok := c.taskIndex[name]
	if !ok {
		return hir.Task{}, false
	}
	return c.HIR.Tasks[i], true
}

func (c *Context) ConstInfo(name string) (hir.Const, bool) {
	i, ok := c.constIndex[name]
	if !ok {
		return hir.Const{}, false
	}
	return c.HIR.Consts[i], true
}

func (c *Context) ParamInfo(name string) (hir.Param, bool) {
	i, ok := c.paramIndex[name]
	if !ok {
		return hir.Param{}, false
	}
	return c.HIR.Params[i], true
}

func (c *Context) SetDirective(name string) (hir.SetDirective, bool) {
	i, ok := c.setIndex[name]
	if !ok {
		return hir.SetDirective{}, false
	}
	return c.HIR.SetDirectives[i], true
}

// ParamTargetType returns the target-language type a runtime param
// resolves to: the type the first actor parameter consuming it
// declares, or a type inferred from the param's default value when no
// actor constrains it.
func (c *Context) ParamTargetType(name string) string {
	if t, ok := c.paramTargetTypes[name]; ok {
		return t
	}
	if p, ok := c.ParamInfo(name); ok {
		return scalarTargetType(p.DefaultValue)
	}
	return "double"
}

// ConcreteActor looks up call's concrete metadata, preferring Lower's
// monomorphized instance over the registry's declared (possibly
// polymorphic) one.
func (c *Context) ConcreteActor(actorName string, callID idalloc.CallID) (registry.ActorMeta, bool) {
	if m, ok := c.Lowered.ConcreteActors[callID]; ok {
		return m, true
	}
	return c.Registry.Lookup(actorName)
}

func (c *Context) ResolveConstToU32(name string) (uint32, bool) {
	cst, ok := c.ConstInfo(name)
	if !ok || cst.Value.Kind != astpdl.ValScalar || cst.Value.Scalar.Kind != astpdl.ScalarNumber {
		return 0, false
	}
	return uint32(cst.Value.Scalar.Number), true
}

func (c *Context) ResolveConstArrayLen(name string) (uint32, bool) {
	cst, ok := c.ConstInfo(name)
	if !ok {
		return 0, false
	}
	switch cst.Value.Kind {
	case astpdl.ValArray:
		return uint32(len(cst.Value.Array)), true
	case astpdl.ValScalar:
		if cst.Value.Scalar.Kind == astpdl.ScalarNumber {
			return uint32(cst.Value.Scalar.Number), true
		}
	}
	return 0, false
}

// ── Dimension resolution (shared with internal/analyze) ─────────────────

func (c *Context) ResolveShapeDim(dim astpdl.ShapeDim) (uint32, bool) {
	if dim.Kind == astpdl.DimLiteral {
		return dim.Literal, true
	}
	return c.ResolveConstToU32(dim.Ref.Name)
}

func (c *Context) ResolveArgToU32(arg astpdl.Arg) (uint32, bool) {
	switch arg.Kind {
	case astpdl.ArgValue:
		switch arg.Val.Kind {
		case astpdl.ValScalar:
			if arg.Val.Scalar.Kind == astpdl.ScalarNumber {
				return uint32(arg.Val.Scalar.Number), true
			}
		case astpdl.ValArray:
			return uint32(len(arg.Val.Array)), true
		}
	case astpdl.ArgConstRef:
		return c.ResolveConstArrayLen(arg.Ref.Name)
	}
	return 0, false
}

// ── Additional query helpers ──────────────────────────────────────────
//
// Small read-only query functions over a program, beyond the minimum
// the pass-dependency model requires.

// TasksByFrequency returns every task sorted by ascending clock
// frequency, ties broken by source order.
func (c *Context) TasksByFrequency() []hir.Task {
	tasks := make([]hir.Task, len(c.HIR.Tasks))
	copy(tasks, c.HIR.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].FreqHz < tasks[j].FreqHz })
	return tasks
}

// ActorsUsedByTask returns the sorted, de-duplicated set of actor names
// referenced anywhere in task's pipelines.
func (c *Context) ActorsUsedByTask(taskName string) []string {
	task, ok := c.TaskInfo(taskName)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	switch task.Body.Kind {
	case hir.TaskPipeline:
		collectActorNames(task.Body.Pipeline, seen)
	case hir.TaskModal:
		collectActorNames(task.Body.Modal.Control, seen)
		for _, m := range task.Body.Modal.Modes {
			collectActorNames(m.Body, seen)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func collectActorNames(p hir.Pipeline, seen map[string]bool) {
	for _, pipe := range p.Pipes {
		if pipe.Source.Kind == hir.SourceActorCall {
			seen[pipe.Source.Call.Name] = true
		}
		for _, elem := range pipe.Elements {
			if elem.Kind == hir.ElemActorCall {
				seen[elem.Call.Name] = true
			}
		}
	}
}

// ── Internal helpers ─────────────────────────────────────────────────────

func findSetSize(directives []hir.SetDirective, index map[string]int, name string) (uint64, bool) {
	i, ok := index[name]
	if !ok || directives[i].Value.Kind != astpdl.SetSize {
		return 0, false
	}
	return directives[i].Value.Size, true
}

func findSetFreq(directives []hir.SetDirective, index map[string]int, name string) (float64, bool) {
	i, ok := index[name]
	if !ok || directives[i].Value.Kind != astpdl.SetFreq {
		return 0, false
	}
	return directives[i].Value.Number, true
}

func findSetNumber(directives []hir.SetDirective, index map[string]int, name string) (float64, bool) {
	i, ok := index[name]
	if !ok || directives[i].Value.Kind != astpdl.SetNumber {
		return 0, false
	}
	return directives[i].Value.Number, true
}

func findSetIdent(directives []hir.SetDirective, index map[string]int, name string) (string, bool) {
	i, ok := index[name]
	if !ok || directives[i].Value.Kind != astpdl.SetIdent {
		return "", false
	}
	return directives[i].Value.Ident.Name, true
}

func scalarTargetType(s astpdl.Scalar) string {
	switch {
	case s.Kind == astpdl.ScalarNumber && s.IsIntLiteral:
		return "int"
	case s.Kind == astpdl.ScalarNumber:
		return "double"
	case s.Kind == astpdl.ScalarString:
		return "string"
	default:
		return "double"
	}
}

// resolveParamTargetTypes scans every actor node in g for ParamRef
// arguments, resolving each to the target type its consuming actor's
// parameter declares. Params never referenced by an actor fall back to
// a type inferred from their default value.
func resolveParamTargetTypes(hirProg hir.Program, lowered lower.Program, reg *registry.Registry, g graph.ProgramGraph) map[string]string {
	result := make(map[string]string)

	paramDefaults := make(map[string]astpdl.Scalar, len(hirProg.Params))
	for _, p := range hirProg.Params {
		paramDefaults[p.Name] = p.DefaultValue
	}
	if len(paramDefaults) == 0 {
		return result
	}

	taskNames := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		taskNames = append(taskNames, name)
	}
	sort.Strings(taskNames)

	for _, taskName := range taskNames {
		for _, sub := range g.Tasks[taskName].Subgraphs() {
			for _, node := range sub.Nodes {
				if node.Kind != graph.KindActor {
					continue
				}
				call := node.Call
				for i, arg := range call.Args {
					if arg.Kind != astpdl.ArgParamRef {
						continue
					}
					name := arg.Ref.Name
					if _, already := result[name]; already {
						continue
					}
					def, known := paramDefaults[name]
					if !known {
						continue
					}
					meta, ok := lowered.ConcreteActors[call.CallID]
					if !ok {
						meta, ok = reg.Lookup(call.Name)
					}
					if !ok || i >= len(meta.Params) {
						continue
					}
					result[name] = paramTypeTargetType(meta.Params[i].ParamType.Tag, def)
				}
			}
		}
	}

	for name, def := range paramDefaults {
		if _, ok := result[name]; !ok {
			result[name] = scalarTargetType(def)
		}
	}
	return result
}

func paramTypeTargetType(tag registry.ParamTypeTag, fallback astpdl.Scalar) string {
	switch tag {
	case registry.ParamInt:
		return "int"
	case registry.ParamFloat:
		return "float"
	case registry.ParamDouble:
		return "double"
	default:
		return scalarTargetType(fallback)
	}
}
