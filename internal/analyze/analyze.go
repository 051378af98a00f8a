// Package analyze implements pass 6 of the pipeline compiler: solving
// SDF balance equations over each subgraph the graph pass built,
// inferring shapes that weren't locally resolvable, validating
// inter-task shared-buffer rate compatibility, and checking delay
// presence and parameter type compatibility. No cert is produced for
// this pass; its diagnostics alone gate the pipeline.
package analyze

import (
	"math/big"
	"sort"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/thir"
)

// NodeRate is a node's resolved per-firing input and output token count.
type NodeRate struct {
	In, Out uint32
}

// SubgraphAnalysis is the balance-equation solution for one subgraph.
type SubgraphAnalysis struct {
	Rates     map[graph.NodeID]NodeRate
	RepVector map[graph.NodeID]uint32
}

// Result is the output of Analyze.
type Result struct {
	Subgraphs   map[*graph.Subgraph]*SubgraphAnalysis
	Diagnostics []diag.Diagnostic
}

func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// Analyze runs pass 6 over every subgraph in g, using tc to resolve
// actor metadata, consts, params, and set directives.
func Analyze(tc *thir.Context, g graph.ProgramGraph) Result {
	a := &analyzer{
		tc:     tc,
		g:      g,
		result: Result{Subgraphs: make(map[*graph.Subgraph]*SubgraphAnalysis)},
	}
	a.run()
	a.checkCycles()
	a.checkInterTaskRates()
	a.checkSwitchControlTypes()
	return a.result
}

type analyzer struct {
	tc     *thir.Context
	g      graph.ProgramGraph
	result Result
}

func (a *analyzer) errorf(code diag.Code, span astpdl.Span, msg string) {
	a.result.Diagnostics = append(a.result.Diagnostics, diag.New(diag.Error, span, msg).WithCode(code))
}

func (a *analyzer) warnf(code diag.Code, span astpdl.Span, msg string) {
	a.result.Diagnostics = append(a.result.Diagnostics, diag.New(diag.Warning, span, msg).WithCode(code))
}

func (a *analyzer) run() {
	names := make([]string, 0, len(a.g.Tasks))
	for name := range a.g.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tg := a.g.Tasks[name]
		for _, sub := range tg.Subgraphs() {
			a.analyzeSubgraph(name, sub)
		}
	}
}

func (a *analyzer) analyzeSubgraph(taskName string, sub *graph.Subgraph) {
	sa := &SubgraphAnalysis{Rates: make(map[graph.NodeID]NodeRate)}
	a.result.Subgraphs[sub] = sa

	// Step 1: resolve every actor node's port rates from local
	// information (literal shape, explicit arg, call-site constraint,
	// span-length inference).
	for _, n := range sub.Nodes {
		if n.Kind != graph.KindActor {
			continue
		}
		meta, ok := a.tc.ConcreteActor(n.Call.Name, n.Call.CallID)
		if !ok {
			continue
		}
		rate := NodeRate{}
		if in, ok := ResolvePortRate(meta.InShape, meta, n.Call.Args, n.Call.ShapeConstraint, a.tc); ok {
			rate.In = in
		}
		if out, ok := ResolvePortRate(meta.OutShape, meta, n.Call.Args, n.Call.ShapeConstraint, a.tc); ok {
			rate.Out = out
		}
		a.checkDimensionConflicts(n, meta)
		sa.Rates[n.ID] = rate
	}

	// Step 2: propagate rates along edges until a fixpoint, so an
	// unconstrained producer (no locally-resolvable shape) inherits its
	// sole consumer's requirement, and vice versa for passthrough nodes
	// (fork, probe, buffer read/write) that have no shape of their own.
	a.propagateRates(sub, sa)

	for _, n := range sub.Nodes {
		r := sa.Rates[n.ID]
		if n.Kind == graph.KindActor && (r.In == 0 || r.Out == 0) {
			a.errorf(diag.E0300, n.Span, "unresolved frame dimension for actor \""+n.Call.Name+"\"")
		}
	}

	// Step 3: solve the repetition vector over the subgraph, excluding
	// back-edges.
	backEdges := graph.IdentifyBackEdges(sub, a.g.Cycles)
	rv, ok := a.solveRepetitionVector(sub, sa.Rates, backEdges)
	if !ok {
		a.errorf(diag.E0304, firstNodeSpan(sub), "SDF balance equations have no integer solution for task \""+taskName+"\"")
		return
	}
	sa.RepVector = rv

	// Step 6: param type compatibility.
	for _, n := range sub.Nodes {
		if n.Kind != graph.KindActor {
			continue
		}
		meta, ok := a.tc.ConcreteActor(n.Call.Name, n.Call.CallID)
		if !ok {
			continue
		}
		a.checkParamTypes(n, meta)
	}
}

func firstNodeSpan(sub *graph.Subgraph) astpdl.Span {
	if len(sub.Nodes) == 0 {
		return astpdl.Span{}
	}
	return sub.Nodes[0].Span
}

// checkDimensionConflicts re-resolves each symbolic dimension through
// every available source and flags E0302 when more than one source
// resolves and they disagree.
func (a *analyzer) checkDimensionConflicts(n graph.Node, meta registry.ActorMeta) {
	unresolvedSymbolic := 0
	for name := range symbolicDimNames(meta) {
		if idx, ok := paramIndexByName(meta, name); !ok || idx >= len(n.Call.Args) {
			unresolvedSymbolic++
			continue
		} else if _, ok := a.tc.ResolveArgToU32(n.Call.Args[idx]); !ok {
			unresolvedSymbolic++
		}
	}
	warnedAmbiguity := false

	checkShape := func(shape registry.PortShape) {
		for dimIdx, d := range shape.Dims {
			if d.Kind != registry.CountSymbolic {
				continue
			}
			var values []uint32
			explicit := false
			if idx, ok := paramIndexByName(meta, d.Symbol); ok && idx < len(n.Call.Args) {
				if v, ok := a.tc.ResolveArgToU32(n.Call.Args[idx]); ok {
					values = append(values, v)
					explicit = true
				}
			}
			if n.Call.ShapeConstraint != nil && dimIdx < len(n.Call.ShapeConstraint.Dims) {
				if v, ok := a.tc.ResolveShapeDim(n.Call.ShapeConstraint.Dims[dimIdx]); ok {
					values = append(values, v)
					explicit = true
				}
			}
			if v, ok := SpanArgLengthForDim(d.Symbol, meta, n.Call.Args, a.tc); ok {
				values = append(values, v)
				if !explicit && unresolvedSymbolic > 1 && !warnedAmbiguity {
					a.warnf(diag.W0300, n.Span, "dimension \""+d.Symbol+"\" on actor \""+n.Call.Name+"\" inferred from span length among multiple unresolved dimensions; resolved by parameter declaration order")
					warnedAmbiguity = true
				}
			}
			for i := 1; i < len(values); i++ {
				if values[i] != values[0] {
					a.errorf(diag.E0302, n.Span, "conflicting dimension sources for \""+d.Symbol+"\" on actor \""+n.Call.Name+"\"")
					break
				}
			}
		}
	}
	checkShape(meta.InShape)
	checkShape(meta.OutShape)
}

// propagateRates runs a bounded fixpoint pass: any node with an
// unresolved rate on one side inherits it from its unique neighbor on
// that side, when that neighbor's matching rate is already known. Fork,
// probe, and buffer nodes are always pass-through (in == out).
func (a *analyzer) propagateRates(sub *graph.Subgraph, sa *SubgraphAnalysis) {
	preds := make(map[graph.NodeID][]graph.NodeID)
	succs := make(map[graph.NodeID][]graph.NodeID)
	for _, e := range sub.Edges {
		succs[e.Source] = append(succs[e.Source], e.Target)
		preds[e.Target] = append(preds[e.Target], e.Source)
	}

	for i := 0; i < len(sub.Nodes)+1; i++ {
		changed := false
		for _, n := range sub.Nodes {
			r := sa.Rates[n.ID]

			if n.Kind != graph.KindActor {
				if r.In == 0 && r.Out != 0 {
					r.In = r.Out
					changed = true
				} else if r.Out == 0 && r.In != 0 {
					r.Out = r.In
					changed = true
				}
			}

			if r.In == 0 {
				if ps := preds[n.ID]; len(ps) == 1 {
					if pr, ok := sa.Rates[ps[0]]; ok && pr.Out != 0 {
						r.In = pr.Out
						changed = true
					}
				}
			}
			if r.Out == 0 {
				if ss := succs[n.ID]; len(ss) == 1 {
					if sr, ok := sa.Rates[ss[0]]; ok && sr.In != 0 {
						r.Out = sr.In
						changed = true
					}
				}
			}
			sa.Rates[n.ID] = r
		}
		if !changed {
			break
		}
	}
}

// solveRepetitionVector solves rv[tgt] = production(src)*rv[src] /
// consumption(tgt) along every forward (non-back) edge, using exact
// rational arithmetic so the final scale-to-integers step is exact.
func (a *analyzer) solveRepetitionVector(sub *graph.Subgraph, rates map[graph.NodeID]NodeRate, backEdges map[[2]graph.NodeID]bool) (map[graph.NodeID]uint32, bool) {
	if len(sub.Nodes) == 0 {
		return map[graph.NodeID]uint32{}, true
	}

	rv := make(map[graph.NodeID]*big.Rat)
	rv[sub.Nodes[0].ID] = big.NewRat(1, 1)

	adjForward := make(map[graph.NodeID][]graph.Edge)
	for _, e := range sub.Edges {
		if backEdges[[2]graph.NodeID{e.Source, e.Target}] {
			continue
		}
		adjForward[e.Source] = append(adjForward[e.Source], e)
		adjForward[e.Target] = append(adjForward[e.Target], e)
	}

	queue := []graph.NodeID{sub.Nodes[0].ID}
	visited := map[graph.NodeID]bool{sub.Nodes[0].ID: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adjForward[cur] {
			var src, tgt graph.NodeID
			var forward bool
			if e.Source == cur {
				src, tgt, forward = e.Source, e.Target, true
			} else {
				src, tgt, forward = e.Source, e.Target, false
			}
			p := rates[src].Out
			c := rates[tgt].In
			if p == 0 || c == 0 {
				return nil, false
			}
			if forward {
				if visited[tgt] {
					continue
				}
				rv[tgt] = new(big.Rat).Quo(new(big.Rat).Mul(rv[src], big.NewRat(int64(p), 1)), big.NewRat(int64(c), 1))
				visited[tgt] = true
				queue = append(queue, tgt)
			} else {
				if visited[src] {
					continue
				}
				rv[src] = new(big.Rat).Quo(new(big.Rat).Mul(rv[tgt], big.NewRat(int64(c), 1)), big.NewRat(int64(p), 1))
				visited[src] = true
				queue = append(queue, src)
			}
		}
	}

	for _, n := range sub.Nodes {
		if rv[n.ID] == nil {
			rv[n.ID] = big.NewRat(1, 1)
		}
	}

	return scaleToIntegers(rv)
}

// scaleToIntegers multiplies every rational rv entry by the LCM of
// their denominators so every value becomes a positive integer.
func scaleToIntegers(rv map[graph.NodeID]*big.Rat) (map[graph.NodeID]uint32, bool) {
	lcm := big.NewInt(1)
	for _, r := range rv {
		d := r.Denom()
		g := new(big.Int).GCD(nil, nil, lcm, d)
		lcm.Div(lcm, g)
		lcm.Mul(lcm, d)
	}

	out := make(map[graph.NodeID]uint32, len(rv))
	for id, r := range rv {
		scaled := new(big.Int).Mul(r.Num(), new(big.Int).Div(lcm, r.Denom()))
		if !scaled.IsInt64() || scaled.Sign() <= 0 {
			return nil, false
		}
		v := scaled.Int64()
		if v > int64(^uint32(0)) {
			return nil, false
		}
		out[id] = uint32(v)
	}
	return out, true
}

func (a *analyzer) checkCycles() {
	for _, cycle := range a.g.Cycles {
		hasDelay := false
		for _, sub := range allSubgraphs(a.g) {
			for _, id := range cycle {
				n, ok := graph.FindNode(sub, id)
				if ok && n.Kind == graph.KindActor && n.Call.Name == "delay" {
					hasDelay = true
				}
			}
		}
		if !hasDelay {
			a.errorf(diag.E0305, astpdl.Span{}, "feedback loop has no delay actor")
		}
	}
}

func allSubgraphs(g graph.ProgramGraph) []*graph.Subgraph {
	names := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	var subs []*graph.Subgraph
	for _, name := range names {
		subs = append(subs, g.Tasks[name].Subgraphs()...)
	}
	return subs
}

// checkInterTaskRates validates that every inter-task buffer's producer
// and consumer agree on tokens-per-second.
func (a *analyzer) checkInterTaskRates() {
	for _, ite := range a.g.InterTaskEdges {
		writerFreq, ok1 := a.taskFreq(ite.WriterTask)
		readerFreq, ok2 := a.taskFreq(ite.ReaderTask)
		if !ok1 || !ok2 {
			continue
		}
		writerRate, ok3 := a.nodeRateByTask(ite.WriterTask, ite.WriterNode)
		readerRate, ok4 := a.nodeRateByTask(ite.ReaderTask, ite.ReaderNode)
		if !ok3 || !ok4 {
			continue
		}
		producedPerSec := float64(writerRate.Out) * writerFreq
		consumedPerSec := float64(readerRate.In) * readerFreq
		if producedPerSec != consumedPerSec {
			a.errorf(diag.E0306, astpdl.Span{}, "shared buffer \""+ite.BufferName+"\" rate mismatch between \""+ite.WriterTask+"\" and \""+ite.ReaderTask+"\"")
		}
	}
}

func (a *analyzer) taskFreq(taskName string) (float64, bool) {
	t, ok := a.tc.TaskInfo(taskName)
	if !ok {
		return 0, false
	}
	return t.FreqHz, true
}

func (a *analyzer) nodeRateByTask(taskName string, id graph.NodeID) (NodeRate, bool) {
	tg, ok := a.g.Tasks[taskName]
	if !ok {
		return NodeRate{}, false
	}
	for _, sub := range tg.Subgraphs() {
		if sa, ok := a.result.Subgraphs[sub]; ok {
			if r, ok := sa.Rates[id]; ok {
				return r, true
			}
		}
	}
	return NodeRate{}, false
}

// checkParamTypes validates every ArgParamRef argument's target type
// against the actor parameter's expected tag (E0308). A modal task's
// switch-control parameter is checked by checkSwitchControlTypes.
func (a *analyzer) checkParamTypes(n graph.Node, meta registry.ActorMeta) {
	for i, arg := range n.Call.Args {
		if arg.Kind != astpdl.ArgParamRef || i >= len(meta.Params) {
			continue
		}
		p := meta.Params[i]
		if p.Kind != registry.KindParam {
			continue
		}
		want := paramTypeName(p.ParamType.Tag)
		got := a.tc.ParamTargetType(arg.Ref.Name)
		if want != "" && got != want && !numericCompatible(want, got) {
			a.errorf(diag.E0308, arg.Span, "parameter \""+arg.Ref.Name+"\" does not match expected type for actor \""+n.Call.Name+"\"")
		}
	}
}

// checkSwitchControlTypes special-cases a modal task's switch source:
// a param-supplied ctrl must resolve to an int-compatible target type.
func (a *analyzer) checkSwitchControlTypes() {
	for _, t := range a.tc.HIR.Tasks {
		if t.Body.Kind != hir.TaskModal {
			continue
		}
		sw := t.Body.Modal.Switch
		if sw.Kind != hir.SwitchParam {
			continue
		}
		if _, declared := a.tc.ParamInfo(sw.Name); !declared {
			// An undeclared switch param is reported by Resolve (E0018).
			continue
		}
		got := a.tc.ParamTargetType(sw.Name)
		if got != "int" {
			a.errorf(diag.E0310, t.Body.Modal.Span, "switch control parameter \""+sw.Name+"\" for task \""+t.Name+"\" must resolve to int32")
		}
	}
}

func paramTypeName(tag registry.ParamTypeTag) string {
	switch tag {
	case registry.ParamInt, registry.ParamTypeParamTag:
		return "int"
	case registry.ParamFloat:
		return "float"
	case registry.ParamDouble:
		return "double"
	case registry.ParamString:
		return "string"
	case registry.ParamSpanFloat:
		return "span_float"
	case registry.ParamSpanDouble:
		return "span_double"
	case registry.ParamSpanTypeParamTag:
		return "span"
	}
	return ""
}

// numericCompatible treats int/float/double as mutually widenable for
// the purpose of this check; Lower already verified the precise
// widening path (L2).
func numericCompatible(want, got string) bool {
	numeric := map[string]bool{"int": true, "float": true, "double": true}
	return numeric[want] && numeric[got]
}
