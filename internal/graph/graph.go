// Package graph implements pass 5 of the pipeline compiler: BuildGraph.
// It materializes each task body as a typed dataflow graph of nodes
// (actors, forks, probes, buffer reads/writes) and edges, wires
// inter-task shared-buffer edges, and detects non-trivial cycles so
// Analyze and Schedule can reason about feedback loops without
// re-walking the HIR.
package graph

import (
	"fmt"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/hir"
)

// NodeID is unique across the whole program graph, not just one subgraph.
type NodeID uint32

type NodeKind int

const (
	KindActor NodeKind = iota
	KindFork
	KindProbe
	KindBufferRead
	KindBufferWrite
)

// Node is one dataflow-graph node. Only the fields relevant to Kind are
// populated; the rest are zero.
type Node struct {
	ID         NodeID
	Kind       NodeKind
	Call       hir.ActorCall // KindActor
	TapName    string        // KindFork
	ProbeName  string        // KindProbe
	BufferName string        // KindBufferRead, KindBufferWrite
	Span       astpdl.Span
}

type Edge struct {
	Source, Target NodeID
}

// Subgraph is one self-contained dataflow graph: a task's pipeline body,
// or one of a modal task's control/mode bodies.
type Subgraph struct {
	Nodes []Node
	Edges []Edge
}

type TaskGraphKind int

const (
	TaskGraphPipeline TaskGraphKind = iota
	TaskGraphModal
)

type ModeSubgraph struct {
	Name string
	Body Subgraph
}

// TaskGraph is the set of subgraphs making up one task.
type TaskGraph struct {
	Kind    TaskGraphKind
	Pipe    Subgraph       // TaskGraphPipeline
	Control Subgraph       // TaskGraphModal
	Modes   []ModeSubgraph // TaskGraphModal
}

// Subgraphs returns every subgraph belonging to this task, in a
// deterministic order (pipeline; or control then modes in source order).
// A pointer receiver is required: the returned *Subgraph values must be
// stable across calls so they can key a SubgraphIndex map.
func (tg *TaskGraph) Subgraphs() []*Subgraph {
	switch tg.Kind {
	case TaskGraphPipeline:
		return []*Subgraph{&tg.Pipe}
	case TaskGraphModal:
		subs := []*Subgraph{&tg.Control}
		for i := range tg.Modes {
			subs = append(subs, &tg.Modes[i].Body)
		}
		return subs
	}
	return nil
}

// InterTaskEdge connects a BufferWrite node in the writer task to the
// matching BufferRead node in a reader task. These cross a subgraph
// boundary so they live on ProgramGraph rather than any one Subgraph.
type InterTaskEdge struct {
	WriterTask string
	WriterNode NodeID
	ReaderTask string
	ReaderNode NodeID
	BufferName string
}

// ProgramGraph is the complete pass-5 artifact. Tasks holds pointers so
// repeated TaskGraph.Subgraphs() calls return stable *Subgraph
// identities for SubgraphIndex/GraphQueryCtx to key on.
type ProgramGraph struct {
	Tasks          map[string]*TaskGraph
	InterTaskEdges []InterTaskEdge
	// Cycles holds every non-trivial simple cycle found in any subgraph,
	// as an ordered list of node ids walking the cycle once.
	Cycles [][]NodeID
}

type Result struct {
	Graph       ProgramGraph
	Diagnostics []diag.Diagnostic
}

func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// Build runs pass 5 over an already-expanded, already-typed HIR program.
func Build(prog hir.Program) Result {
	b := &builder{nextID: 0, tasks: make(map[string]*TaskGraph)}
	for _, t := range prog.Tasks {
		b.buildTask(t)
	}
	b.wireInterTaskEdges()
	b.detectCycles()

	return Result{
		Graph: ProgramGraph{
			Tasks:          b.tasks,
			InterTaskEdges: b.interTaskEdges,
			Cycles:         b.cycles,
		},
		Diagnostics: b.diags,
	}
}

type builder struct {
	nextID         NodeID
	tasks          map[string]*TaskGraph
	interTaskEdges []InterTaskEdge
	cycles         [][]NodeID
	diags          []diag.Diagnostic
}

func (b *builder) alloc() NodeID {
	id := b.nextID
	b.nextID++
	return id
}

func (b *builder) buildTask(t hir.Task) {
	switch t.Body.Kind {
	case hir.TaskPipeline:
		b.tasks[t.Name] = &TaskGraph{Kind: TaskGraphPipeline, Pipe: b.buildSubgraph(t.Name, t.Body.Pipeline)}
	case hir.TaskModal:
		control := b.buildSubgraph(t.Name, t.Body.Modal.Control)
		modes := make([]ModeSubgraph, 0, len(t.Body.Modal.Modes))
		for _, m := range t.Body.Modal.Modes {
			modes = append(modes, ModeSubgraph{Name: m.Name, Body: b.buildSubgraph(t.Name, m.Body)})
		}
		b.tasks[t.Name] = &TaskGraph{Kind: TaskGraphModal, Control: control, Modes: modes}
	}
}

// pendingTapRef records a pipe expression whose source is a tap
// reference: the edge from the fork node materializing that tap can
// only be wired once every ElemTap in the subgraph has been seen.
type pendingTapRef struct {
	tapName string
	firstID NodeID
	span    astpdl.Span
}

func (b *builder) buildSubgraph(taskName string, p hir.Pipeline) Subgraph {
	sub := &Subgraph{}
	forksByTap := make(map[string]NodeID)
	var pending []pendingTapRef

	for _, pipe := range p.Pipes {
		var chain []NodeID

		switch pipe.Source.Kind {
		case hir.SourceActorCall:
			id := b.alloc()
			sub.Nodes = append(sub.Nodes, Node{ID: id, Kind: KindActor, Call: pipe.Source.Call, Span: pipe.Source.Call.CallSpan})
			chain = append(chain, id)
		case hir.SourceBufferRead:
			id := b.alloc()
			sub.Nodes = append(sub.Nodes, Node{ID: id, Kind: KindBufferRead, BufferName: pipe.Source.Name, Span: pipe.Span})
			chain = append(chain, id)
		case hir.SourceTapRef:
			// No node of its own: the first element's node becomes the
			// fork's extra consumer, wired in the second pass below.
		}

		for _, elem := range pipe.Elements {
			var id NodeID
			switch elem.Kind {
			case hir.ElemActorCall:
				id = b.alloc()
				sub.Nodes = append(sub.Nodes, Node{ID: id, Kind: KindActor, Call: elem.Call, Span: elem.Call.CallSpan})
			case hir.ElemTap:
				id = b.alloc()
				sub.Nodes = append(sub.Nodes, Node{ID: id, Kind: KindFork, TapName: elem.Name, Span: pipe.Span})
				forksByTap[elem.Name] = id
			case hir.ElemProbe:
				id = b.alloc()
				sub.Nodes = append(sub.Nodes, Node{ID: id, Kind: KindProbe, ProbeName: elem.Name, Span: pipe.Span})
			}
			chain = append(chain, id)
		}

		if pipe.Sink != nil {
			id := b.alloc()
			sub.Nodes = append(sub.Nodes, Node{ID: id, Kind: KindBufferWrite, BufferName: *pipe.Sink, Span: pipe.Span})
			chain = append(chain, id)
		}

		for i := 0; i+1 < len(chain); i++ {
			sub.Edges = append(sub.Edges, Edge{Source: chain[i], Target: chain[i+1]})
		}

		if pipe.Source.Kind == hir.SourceTapRef && len(chain) > 0 {
			pending = append(pending, pendingTapRef{tapName: pipe.Source.Name, firstID: chain[0], span: pipe.Span})
		}
	}

	for _, p := range pending {
		forkID, ok := forksByTap[p.tapName]
		if !ok {
			b.errorf(p.span, diag.E0500, "tap %q not found in graph for task %q", p.tapName, taskName)
			continue
		}
		sub.Edges = append(sub.Edges, Edge{Source: forkID, Target: p.firstID})
	}

	return *sub
}

// wireInterTaskEdges connects every BufferRead node to the matching
// BufferWrite node in another task's subgraph, in deterministic
// (reader task name, reader node id) order.
func (b *builder) wireInterTaskEdges() {
	type writer struct {
		task string
		node NodeID
	}
	writers := make(map[string]writer)

	taskNames := make([]string, 0, len(b.tasks))
	for name := range b.tasks {
		taskNames = append(taskNames, name)
	}
	sortStrings(taskNames)

	for _, name := range taskNames {
		for _, sub := range b.tasks[name].Subgraphs() {
			for _, n := range sub.Nodes {
				if n.Kind == KindBufferWrite {
					writers[n.BufferName] = writer{task: name, node: n.ID}
				}
			}
		}
	}

	for _, name := range taskNames {
		for _, sub := range b.tasks[name].Subgraphs() {
			for _, n := range sub.Nodes {
				if n.Kind != KindBufferRead {
					continue
				}
				w, ok := writers[n.BufferName]
				if !ok {
					continue // resolved already guarantees a writer exists; defensive only
				}
				b.interTaskEdges = append(b.interTaskEdges, InterTaskEdge{
					WriterTask: w.task,
					WriterNode: w.node,
					ReaderTask: name,
					ReaderNode: n.ID,
					BufferName: n.BufferName,
				})
			}
		}
	}
}

// detectCycles runs Tarjan's algorithm on every subgraph and, for every
// non-trivial strongly connected component, extracts one simple cycle
// walking through it. Only one representative cycle per SCC is needed
// since downstream passes only care that a delay actor appears
// somewhere in the feedback loop.
func (b *builder) detectCycles() {
	taskNames := make([]string, 0, len(b.tasks))
	for name := range b.tasks {
		taskNames = append(taskNames, name)
	}
	sortStrings(taskNames)

	for _, name := range taskNames {
		for _, sub := range b.tasks[name].Subgraphs() {
			for _, scc := range tarjanSCCs(sub) {
				if len(scc) < 2 && !selfLoop(sub, scc[0]) {
					continue
				}
				if cyc := extractCycle(sub, scc); cyc != nil {
					b.cycles = append(b.cycles, cyc)
				}
			}
		}
	}
}

func selfLoop(sub *Subgraph, id NodeID) bool {
	for _, e := range sub.Edges {
		if e.Source == id && e.Target == id {
			return true
		}
	}
	return false
}

// tarjanSCCs returns every strongly connected component of sub, single
// nodes included, in the order Tarjan's algorithm completes them (fixed
// by sub's node and edge order, so deterministic). detectCycles drops
// the trivial ones.
func tarjanSCCs(sub *Subgraph) [][]NodeID {
	adj := make(map[NodeID][]NodeID)
	for _, e := range sub.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var (
		index   = make(map[NodeID]int)
		low     = make(map[NodeID]int)
		onStack = make(map[NodeID]bool)
		stack   []NodeID
		counter int
		sccs    [][]NodeID
	)

	var strongconnect func(v NodeID)
	strongconnect = func(v NodeID) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] {
				if index[w] < low[v] {
					low[v] = index[w]
				}
			}
		}

		if low[v] == index[v] {
			var comp []NodeID
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, comp)
		}
	}

	for _, n := range sub.Nodes {
		if _, seen := index[n.ID]; !seen {
			strongconnect(n.ID)
		}
	}
	return sccs
}

// extractCycle walks a simple cycle through the nodes in scc by DFS,
// starting from the smallest node id for determinism.
func extractCycle(sub *Subgraph, scc []NodeID) []NodeID {
	in := make(map[NodeID]bool, len(scc))
	start := scc[0]
	for _, id := range scc {
		in[id] = true
		if id < start {
			start = id
		}
	}
	if len(scc) == 1 {
		return []NodeID{start}
	}

	adj := make(map[NodeID][]NodeID)
	for _, e := range sub.Edges {
		if in[e.Source] && in[e.Target] {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	visited := make(map[NodeID]bool)
	var path []NodeID
	var dfs func(v NodeID) bool
	dfs = func(v NodeID) bool {
		visited[v] = true
		path = append(path, v)
		for _, w := range adj[v] {
			if w == start && len(path) > 1 {
				return true
			}
			if !visited[w] && dfs(w) {
				return true
			}
		}
		path = path[:len(path)-1]
		visited[v] = false
		return false
	}
	if dfs(start) {
		return path
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (b *builder) errorf(span astpdl.Span, code diag.Code, format string, args ...any) {
	b.diags = append(b.diags, diag.New(diag.Error, span, fmt.Sprintf(format, args...)).WithCode(code))
}
