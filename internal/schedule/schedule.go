// Package schedule implements pass 7 of the pipeline compiler: for
// every subgraph, a Periodic Asynchronous Static Schedule (PASS), a
// deterministic topological firing order with per-node repetition
// counts and per-edge buffer capacities, plus each task's K-factor.
package schedule

import (
	"sort"
	"strconv"

	"github.com/tmineno/pipeit/internal/analyze"
	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/thir"
)

// sustainableTimerPeriodNs is the floor below which a task's effective
// tick period is considered unsustainable for a cooperative OS
// scheduler (~100kHz).
const sustainableTimerPeriodNs = 10_000.0

// FiringEntry is one node's place in a subgraph's firing order.
type FiringEntry struct {
	NodeID          graph.NodeID
	RepetitionCount uint32
}

// EdgeKey identifies one intra-subgraph edge for buffer sizing.
type EdgeKey struct {
	Source, Target graph.NodeID
}

// SubgraphSchedule is the PASS for one subgraph.
type SubgraphSchedule struct {
	Firings     []FiringEntry
	EdgeBuffers map[EdgeKey]uint32
}

// TaskScheduleKind mirrors graph.TaskGraphKind.
type TaskScheduleKind int

const (
	TaskSchedulePipeline TaskScheduleKind = iota
	TaskScheduleModal
)

// ModeSchedule is one modal task's named mode schedule.
type ModeSchedule struct {
	Name     string
	Schedule SubgraphSchedule
}

// TaskMeta is the full scheduling result for one task.
type TaskMeta struct {
	Kind    TaskScheduleKind
	Pipe    SubgraphSchedule // TaskSchedulePipeline
	Control SubgraphSchedule // TaskScheduleModal
	Modes   []ModeSchedule   // TaskScheduleModal
	KFactor uint32
	FreqHz  float64
}

// ScheduledProgram is the complete pass-7 artifact.
type ScheduledProgram struct {
	Tasks map[string]TaskMeta
}

// Cert is machine-checkable evidence for the S1-S2 proof obligations.
type Cert struct {
	S1AllTasksScheduled bool
	S2AllNodesFired     bool
}

func (c Cert) AllPass() bool { return c.S1AllTasksScheduled && c.S2AllNodesFired }

// Result is the output of Schedule.
type Result struct {
	Scheduled   ScheduledProgram
	Cert        Cert
	Diagnostics []diag.Diagnostic
}

func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// Schedule runs pass 7 over every task in g, using ar's repetition
// vectors and tc for task frequencies and the system tick rate.
func Schedule(tc *thir.Context, g graph.ProgramGraph, ar analyze.Result) Result {
	s := &scheduler{tc: tc, g: g, ar: ar, tasks: make(map[string]TaskMeta)}
	s.scheduleAllTasks()
	cert := verify(s.tasks, g, tc)
	return Result{
		Scheduled:   ScheduledProgram{Tasks: s.tasks},
		Cert:        cert,
		Diagnostics: s.diags,
	}
}

type scheduler struct {
	tc    *thir.Context
	g     graph.ProgramGraph
	ar    analyze.Result
	tasks map[string]TaskMeta
	diags []diag.Diagnostic
}

func (s *scheduler) errorf(code diag.Code, span astpdl.Span, msg string) {
	s.diags = append(s.diags, diag.New(diag.Error, span, msg).WithCode(code))
}

func (s *scheduler) warnf(code diag.Code, span astpdl.Span, msg string) {
	s.diags = append(s.diags, diag.New(diag.Warning, span, msg).WithCode(code))
}

func (s *scheduler) scheduleAllTasks() {
	names := make([]string, 0, len(s.tc.HIR.Tasks))
	for _, t := range s.tc.HIR.Tasks {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		task, _ := s.tc.TaskInfo(name)
		s.scheduleTask(task)
	}
}

func (s *scheduler) scheduleTask(task hir.Task) {
	tg, ok := s.g.Tasks[task.Name]
	if !ok {
		return
	}

	var meta TaskMeta
	switch tg.Kind {
	case graph.TaskGraphPipeline:
		sched, ok := s.sortSubgraph(task.Name, "pipeline", &tg.Pipe)
		if !ok {
			return
		}
		meta = TaskMeta{Kind: TaskSchedulePipeline, Pipe: sched}
	case graph.TaskGraphModal:
		ctrlSched, ok := s.sortSubgraph(task.Name, "control", &tg.Control)
		if !ok {
			return
		}
		modes := make([]ModeSchedule, 0, len(tg.Modes))
		for i := range tg.Modes {
			m := &tg.Modes[i]
			if sched, ok := s.sortSubgraph(task.Name, m.Name, &m.Body); ok {
				modes = append(modes, ModeSchedule{Name: m.Name, Schedule: sched})
			}
		}
		meta = TaskMeta{Kind: TaskScheduleModal, Control: ctrlSched, Modes: modes}
	}

	k := computeKFactor(task.FreqHz, s.tc.TickRateHz)
	timerHz := task.FreqHz / float64(k)
	periodNs := 1_000_000_000.0 / timerHz
	if periodNs < sustainableTimerPeriodNs {
		s.warnf(diag.W0400, task.FreqSpan, "effective tick period is unsustainable for a cooperative scheduler")
	}

	meta.KFactor = k
	meta.FreqHz = task.FreqHz
	s.tasks[task.Name] = meta
}

// sortSubgraph runs Kahn's algorithm over sub, excluding back-edges,
// with deterministic node-id tie-breaking at every step.
func (s *scheduler) sortSubgraph(taskName, label string, sub *graph.Subgraph) (SubgraphSchedule, bool) {
	if len(sub.Nodes) == 0 {
		return SubgraphSchedule{EdgeBuffers: make(map[EdgeKey]uint32)}, true
	}

	backEdges := graph.IdentifyBackEdges(sub, s.g.Cycles)

	inDegree := make(map[graph.NodeID]int, len(sub.Nodes))
	adj := make(map[graph.NodeID][]graph.NodeID, len(sub.Nodes))
	for _, n := range sub.Nodes {
		inDegree[n.ID] = 0
		adj[n.ID] = nil
	}
	for _, e := range sub.Edges {
		if backEdges[[2]graph.NodeID{e.Source, e.Target}] {
			continue
		}
		inDegree[e.Target]++
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var queue []graph.NodeID
	for _, n := range sub.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	sortNodeIDs(queue)

	rv := s.repVectorFor(sub)

	var firings []FiringEntry
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		count := rv[id]
		if count == 0 {
			count = 1
		}
		firings = append(firings, FiringEntry{NodeID: id, RepetitionCount: count})

		next := append([]graph.NodeID(nil), adj[id]...)
		sortNodeIDs(next)
		for _, nb := range next {
			inDegree[nb]--
			if inDegree[nb] == 0 {
				queue = append(queue, nb)
				sortNodeIDs(queue)
			}
		}
	}

	if len(firings) < len(sub.Nodes) {
		scheduled := make(map[graph.NodeID]bool, len(firings))
		for _, f := range firings {
			scheduled[f.NodeID] = true
		}
		stuck := 0
		for _, n := range sub.Nodes {
			if !scheduled[n.ID] {
				stuck++
			}
		}
		s.errorf(diag.E0400, astpdl.Span{}, "cannot schedule subgraph \""+label+"\" of task \""+taskName+"\": "+strconv.Itoa(stuck)+" node(s) in unresolvable cycle")
		return SubgraphSchedule{}, false
	}

	edgeBuffers := s.computeEdgeBuffers(sub, rv, backEdges)
	return SubgraphSchedule{Firings: firings, EdgeBuffers: edgeBuffers}, true
}

func (s *scheduler) repVectorFor(sub *graph.Subgraph) map[graph.NodeID]uint32 {
	if sa, ok := s.ar.Subgraphs[sub]; ok && sa != nil {
		return sa.RepVector
	}
	return nil
}

// computeEdgeBuffers sizes every forward edge at production_rate(src) ×
// rv(src), and every back-edge at the delay actor's initial token count.
func (s *scheduler) computeEdgeBuffers(sub *graph.Subgraph, rv map[graph.NodeID]uint32, backEdges map[[2]graph.NodeID]bool) map[EdgeKey]uint32 {
	buffers := make(map[EdgeKey]uint32, len(sub.Edges))
	sa := s.ar.Subgraphs[sub]

	for _, e := range sub.Edges {
		key := EdgeKey{Source: e.Source, Target: e.Target}
		if backEdges[[2]graph.NodeID{e.Source, e.Target}] {
			buffers[key] = delayInitialTokens(sub, e.Source)
			continue
		}
		p := uint32(1)
		if sa != nil {
			if r, ok := sa.Rates[e.Source]; ok && r.Out != 0 {
				p = r.Out
			}
		}
		rvSrc := rv[e.Source]
		if rvSrc == 0 {
			rvSrc = 1
		}
		buffers[key] = p * rvSrc
	}
	return buffers
}

// delayInitialTokens reads a delay actor's first argument as an
// integer literal initial-token count, defaulting to 1 if it isn't one.
func delayInitialTokens(sub *graph.Subgraph, id graph.NodeID) uint32 {
	n, ok := graph.FindNode(sub, id)
	if !ok || n.Kind != graph.KindActor || n.Call.Name != "delay" || len(n.Call.Args) == 0 {
		return 1
	}
	arg := n.Call.Args[0]
	if arg.Kind != astpdl.ArgValue || arg.Val.Kind != astpdl.ValScalar || arg.Val.Scalar.Kind != astpdl.ScalarNumber {
		return 1
	}
	return uint32(arg.Val.Scalar.Number)
}

func sortNodeIDs(ids []graph.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// computeKFactor returns ceil(freq/tick_rate) clamped to a minimum of 1.
func computeKFactor(freqHz, tickRateHz float64) uint32 {
	if freqHz <= tickRateHz {
		return 1
	}
	k := freqHz / tickRateHz
	ik := uint32(k)
	if float64(ik) < k {
		ik++
	}
	return ik
}

// verify checks the S1-S2 proof obligations: every HIR task got a
// schedule (S1), and every subgraph's firing order covers each of its
// nodes exactly once (S2).
func verify(tasks map[string]TaskMeta, g graph.ProgramGraph, tc *thir.Context) Cert {
	return Cert{
		S1AllTasksScheduled: verifyS1AllTasksScheduled(tasks, tc),
		S2AllNodesFired:     verifyS2AllNodesFired(tasks, g),
	}
}

func verifyS1AllTasksScheduled(tasks map[string]TaskMeta, tc *thir.Context) bool {
	for _, t := range tc.HIR.Tasks {
		if _, ok := tasks[t.Name]; !ok {
			return false
		}
	}
	return true
}

func verifyS2AllNodesFired(tasks map[string]TaskMeta, g graph.ProgramGraph) bool {
	for name, tg := range g.Tasks {
		meta, ok := tasks[name]
		if !ok {
			return false
		}
		switch meta.Kind {
		case TaskSchedulePipeline:
			if !checkSubgraphCoverage(meta.Pipe, &tg.Pipe) {
				return false
			}
		case TaskScheduleModal:
			if !checkSubgraphCoverage(meta.Control, &tg.Control) {
				return false
			}
			scheduledModes := make(map[string]ModeSchedule, len(meta.Modes))
			for _, m := range meta.Modes {
				scheduledModes[m.Name] = m
			}
			for i := range tg.Modes {
				m := &tg.Modes[i]
				ms, ok := scheduledModes[m.Name]
				if !ok || !checkSubgraphCoverage(ms.Schedule, &m.Body) {
					return false
				}
			}
		}
	}
	return true
}

// checkSubgraphCoverage verifies sched fires every node in sub exactly
// once, with no duplicates and no extras.
func checkSubgraphCoverage(sched SubgraphSchedule, sub *graph.Subgraph) bool {
	if len(sched.Firings) != len(sub.Nodes) {
		return false
	}
	fired := make(map[graph.NodeID]bool, len(sched.Firings))
	for _, f := range sched.Firings {
		if fired[f.NodeID] {
			return false
		}
		fired[f.NodeID] = true
	}
	for _, n := range sub.Nodes {
		if !fired[n.ID] {
			return false
		}
	}
	return true
}
