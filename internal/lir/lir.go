// Package lir implements pass 8 of the pipeline compiler: BuildLir
// consolidates every downstream artifact (schedule, rates, repetition
// vectors, resolved parameter types) into the single representation
// Codegen consumes, and verifies its own completeness via cert R1-R2.
package lir

import (
	"sort"

	"github.com/tmineno/pipeit/internal/analyze"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/schedule"
	"github.com/tmineno/pipeit/internal/thir"
)

// interTaskBufferSlack is extra capacity added beyond the producer's raw
// per-period output, absorbing jitter between a writer and readers
// running at different K-factors.
const interTaskBufferSlack = 1

// TaskLir is one task's consolidated scheduling artifact: its PASS
// schedule, K-factor, and declared frequency, unpacked for direct
// Codegen consumption without needing a second schedule.Result lookup.
type TaskLir struct {
	Kind    schedule.TaskScheduleKind
	Pipe    schedule.SubgraphSchedule
	Control schedule.SubgraphSchedule
	Modes   []schedule.ModeSchedule
	KFactor uint32
	FreqHz  float64
}

// BufferLir is one inter-task shared buffer's consolidated shape: its
// element type (resolved from the producing actor's declared output
// type), and its capacity (producer rate × reader count, plus slack).
type BufferLir struct {
	Name          string
	ElemType      string
	Capacity      uint32
	ConsumerCount int
}

// ParamLir is one runtime parameter's resolved target-language type.
type ParamLir struct {
	Name       string
	TargetType string
}

// Program is the complete pass-8 artifact.
type Program struct {
	Tasks   map[string]TaskLir
	Buffers map[string]BufferLir
	Params  []ParamLir
}

// Cert is machine-checkable evidence for the R1-R2 proof obligations.
type Cert struct {
	R1LirComplete   bool
	R2LirConsistent bool
}

func (c Cert) AllPass() bool { return c.R1LirComplete && c.R2LirConsistent }

// Result is the output of BuildLir.
type Result struct {
	Lir         Program
	Cert        Cert
	Diagnostics []diag.Diagnostic
}

func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// BuildLir runs pass 8 over every task, inter-task buffer, and runtime
// parameter in tc/g, using ar's resolved rates and sr's schedule.
func BuildLir(tc *thir.Context, g graph.ProgramGraph, ar analyze.Result, sr schedule.Result) Result {
	b := &builder{tc: tc, g: g, ar: ar, sr: sr}
	tasks := b.buildTasks()
	buffers := b.buildBuffers()
	params := b.buildParams()

	prog := Program{Tasks: tasks, Buffers: buffers, Params: params}
	return Result{
		Lir:  prog,
		Cert: verify(prog, sr, tc),
	}
}

type builder struct {
	tc *thir.Context
	g  graph.ProgramGraph
	ar analyze.Result
	sr schedule.Result
}

func (b *builder) buildTasks() map[string]TaskLir {
	tasks := make(map[string]TaskLir, len(b.sr.Scheduled.Tasks))
	for name, meta := range b.sr.Scheduled.Tasks {
		tasks[name] = TaskLir{
			Kind:    meta.Kind,
			Pipe:    meta.Pipe,
			Control: meta.Control,
			Modes:   meta.Modes,
			KFactor: meta.KFactor,
			FreqHz:  meta.FreqHz,
		}
	}
	return tasks
}

// buildBuffers consolidates every inter-task edge sharing a buffer name
// into one BufferLir: its element type (from the producing actor's
// declared output type) and its capacity across all readers.
func (b *builder) buildBuffers() map[string]BufferLir {
	type acc struct {
		elemType string
		hasType  bool
		rate     uint32
		readers  map[string]bool
	}
	accs := make(map[string]*acc)

	names := make([]string, 0)
	for _, e := range b.g.InterTaskEdges {
		a, ok := accs[e.BufferName]
		if !ok {
			a = &acc{readers: make(map[string]bool)}
			accs[e.BufferName] = a
			names = append(names, e.BufferName)
		}
		a.readers[e.ReaderTask] = true

		if !a.hasType {
			if tg, ok := b.g.Tasks[e.WriterTask]; ok {
				sub := writerSubgraph(tg, e.WriterNode)
				if call, ok := producerActorFor(sub, e.WriterNode); ok {
					if meta, ok := b.tc.ConcreteActor(call.Name, call.CallID); ok {
						if ct, ok := meta.OutType.AsConcrete(); ok {
							a.elemType = ct.String()
							a.hasType = true
						}
					}
				}
			}
		}
		if sa, ok := b.ar.Subgraphs[writerSubgraph(b.g.Tasks[e.WriterTask], e.WriterNode)]; ok && sa != nil {
			if r, ok := sa.Rates[e.WriterNode]; ok && r.Out > a.rate {
				a.rate = r.Out
			}
		}
	}

	sort.Strings(names)
	buffers := make(map[string]BufferLir, len(accs))
	for _, name := range names {
		a := accs[name]
		elemType := a.elemType
		if !a.hasType {
			elemType = "float"
		}
		rate := a.rate
		if rate == 0 {
			rate = 1
		}
		buffers[name] = BufferLir{
			Name:          name,
			ElemType:      elemType,
			Capacity:      rate*uint32(len(a.readers)) + interTaskBufferSlack,
			ConsumerCount: len(a.readers),
		}
	}
	return buffers
}

func (b *builder) buildParams() []ParamLir {
	params := make([]ParamLir, 0, len(b.tc.HIR.Params))
	for _, p := range b.tc.HIR.Params {
		params = append(params, ParamLir{Name: p.Name, TargetType: b.tc.ParamTargetType(p.Name)})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// writerSubgraph returns the subgraph of tg that holds the BufferWrite
// node id: the pipeline body, or a modal task's control or mode body.
// It falls back to the pipeline body when no subgraph holds id.
func writerSubgraph(tg *graph.TaskGraph, id graph.NodeID) *graph.Subgraph {
	if tg == nil {
		return nil
	}
	for _, sub := range tg.Subgraphs() {
		if _, ok := graph.FindNode(sub, id); ok {
			return sub
		}
	}
	return &tg.Pipe
}

// producerActorFor walks backward from a BufferWrite node through any
// pass-through nodes (fork, probe) until it finds the actor call feeding
// it, mirroring the pass-through treatment internal/analyze's rate
// propagation already relies on.
func producerActorFor(sub *graph.Subgraph, id graph.NodeID) (hir.ActorCall, bool) {
	current := id
	visited := make(map[graph.NodeID]bool)
	for {
		if visited[current] {
			return hir.ActorCall{}, false
		}
		visited[current] = true

		var pred graph.NodeID
		found := false
		for _, e := range sub.Edges {
			if e.Target == current {
				pred = e.Source
				found = true
				break
			}
		}
		if !found {
			return hir.ActorCall{}, false
		}
		node, ok := graph.FindNode(sub, pred)
		if !ok {
			return hir.ActorCall{}, false
		}
		if node.Kind == graph.KindActor {
			return node.Call, true
		}
		current = pred
	}
}

// verify checks the R1-R2 proof obligations: every scheduled task
// appears in the LIR (R1), and every inter-task buffer has a non-zero
// capacity and at least one reader (R2).
func verify(prog Program, sr schedule.Result, tc *thir.Context) Cert {
	r1 := true
	for name := range sr.Scheduled.Tasks {
		if _, ok := prog.Tasks[name]; !ok {
			r1 = false
			break
		}
	}

	r2 := true
	for _, buf := range prog.Buffers {
		if buf.Capacity == 0 || buf.ConsumerCount == 0 {
			r2 = false
			break
		}
	}

	return Cert{R1LirComplete: r1, R2LirConsistent: r2}
}
