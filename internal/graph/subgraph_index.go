package graph

// indexMinGraphSize is the node+edge count below which a linear scan is
// cheaper than building and consulting an index.
const indexMinGraphSize = 32

// SubgraphIndex gives O(1) node and adjacency lookups for one Subgraph,
// in place of linear scans over its nodes and edges. Analyze and
// Schedule do not use it; they scan subgraphs directly.
type SubgraphIndex struct {
	nodePos        map[NodeID]int
	firstInEdgePos map[NodeID]int
	firstOutEdgePos map[NodeID]int
	inCount        map[NodeID]int
	outCount       map[NodeID]int
	edgeExists     map[[2]NodeID]bool
}

// BuildSubgraphIndex indexes sub for repeated lookups.
func BuildSubgraphIndex(sub *Subgraph) *SubgraphIndex {
	idx := &SubgraphIndex{
		nodePos:         make(map[NodeID]int, len(sub.Nodes)),
		firstInEdgePos:  make(map[NodeID]int),
		firstOutEdgePos: make(map[NodeID]int),
		inCount:         make(map[NodeID]int),
		outCount:        make(map[NodeID]int),
		edgeExists:      make(map[[2]NodeID]bool, len(sub.Edges)),
	}
	for i, n := range sub.Nodes {
		idx.nodePos[n.ID] = i
	}
	for i, e := range sub.Edges {
		if _, ok := idx.firstInEdgePos[e.Target]; !ok {
			idx.firstInEdgePos[e.Target] = i
		}
		if _, ok := idx.firstOutEdgePos[e.Source]; !ok {
			idx.firstOutEdgePos[e.Source] = i
		}
		idx.inCount[e.Target]++
		idx.outCount[e.Source]++
		idx.edgeExists[[2]NodeID{e.Source, e.Target}] = true
	}
	return idx
}

func shouldIndex(sub *Subgraph) bool {
	return len(sub.Nodes)+len(sub.Edges) >= indexMinGraphSize
}

func (idx *SubgraphIndex) Node(sub *Subgraph, id NodeID) (Node, bool) {
	i, ok := idx.nodePos[id]
	if !ok {
		return Node{}, false
	}
	return sub.Nodes[i], true
}

func (idx *SubgraphIndex) FirstIncomingEdge(sub *Subgraph, id NodeID) (Edge, bool) {
	i, ok := idx.firstInEdgePos[id]
	if !ok {
		return Edge{}, false
	}
	return sub.Edges[i], true
}

func (idx *SubgraphIndex) FirstOutgoingEdge(sub *Subgraph, id NodeID) (Edge, bool) {
	i, ok := idx.firstOutEdgePos[id]
	if !ok {
		return Edge{}, false
	}
	return sub.Edges[i], true
}

func (idx *SubgraphIndex) IncomingCount(id NodeID) int { return idx.inCount[id] }
func (idx *SubgraphIndex) OutgoingCount(id NodeID) int { return idx.outCount[id] }

func (idx *SubgraphIndex) HasEdge(src, tgt NodeID) bool {
	return idx.edgeExists[[2]NodeID{src, tgt}]
}

// BuildSubgraphIndices indexes every subgraph in g large enough to
// benefit, keyed by the Subgraph's own identity.
func BuildSubgraphIndices(g *ProgramGraph) map[*Subgraph]*SubgraphIndex {
	indices := make(map[*Subgraph]*SubgraphIndex)
	taskNames := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		taskNames = append(taskNames, name)
	}
	sortStrings(taskNames)
	for _, name := range taskNames {
		tg := g.Tasks[name]
		for _, sub := range tg.Subgraphs() {
			if shouldIndex(sub) {
				indices[sub] = BuildSubgraphIndex(sub)
			}
		}
	}
	return indices
}

// FindNode performs a plain linear scan for id; used as the fallback
// when a subgraph wasn't large enough to index.
func FindNode(sub *Subgraph, id NodeID) (Node, bool) {
	for _, n := range sub.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// IdentifyBackEdges locates, for every cycle that belongs entirely to
// sub, the single edge outgoing from that cycle's delay actor. That
// edge is the back-edge Schedule excludes from its forward topological
// sort.
func IdentifyBackEdges(sub *Subgraph, cycles [][]NodeID) map[[2]NodeID]bool {
	backEdges := make(map[[2]NodeID]bool)
	nodeIDs := make(map[NodeID]bool, len(sub.Nodes))
	for _, n := range sub.Nodes {
		nodeIDs[n.ID] = true
	}

cycleLoop:
	for _, cycle := range cycles {
		for _, id := range cycle {
			if !nodeIDs[id] {
				continue cycleLoop
			}
		}
		for i, nid := range cycle {
			node, ok := FindNode(sub, nid)
			if !ok || node.Kind != KindActor || node.Call.Name != "delay" {
				continue
			}
			next := cycle[(i+1)%len(cycle)]
			for _, e := range sub.Edges {
				if e.Source == nid && e.Target == next {
					backEdges[[2]NodeID{nid, next}] = true
					break
				}
			}
			break
		}
	}
	return backEdges
}

// GraphQueryCtx wraps a set of subgraph indices, falling back to a
// linear scan whenever a particular subgraph wasn't large enough to
// index.
type GraphQueryCtx struct {
	indices map[*Subgraph]*SubgraphIndex
}

func NewGraphQueryCtx(indices map[*Subgraph]*SubgraphIndex) *GraphQueryCtx {
	return &GraphQueryCtx{indices: indices}
}

func (q *GraphQueryCtx) NodeIn(sub *Subgraph, id NodeID) (Node, bool) {
	if idx, ok := q.indices[sub]; ok {
		if n, ok := idx.Node(sub, id); ok {
			return n, true
		}
	}
	return FindNode(sub, id)
}

func (q *GraphQueryCtx) IncomingEdgeCount(sub *Subgraph, id NodeID) int {
	if idx, ok := q.indices[sub]; ok {
		return idx.IncomingCount(id)
	}
	count := 0
	for _, e := range sub.Edges {
		if e.Target == id {
			count++
		}
	}
	return count
}

func (q *GraphQueryCtx) OutgoingEdgeCount(sub *Subgraph, id NodeID) int {
	if idx, ok := q.indices[sub]; ok {
		return idx.OutgoingCount(id)
	}
	count := 0
	for _, e := range sub.Edges {
		if e.Source == id {
			count++
		}
	}
	return count
}
