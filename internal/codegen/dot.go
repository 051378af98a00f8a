// dot.go is a Graphviz DOT renderer: a pure, side-effect-free string
// formatter over an already-built ProgramGraph. Reachable via --emit
// dot, it sorts all map-derived output by deterministic keys so
// identical input produces identical output byte-for-byte.
package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmineno/pipeit/internal/graph"
)

// RenderDOT renders g as a Graphviz DOT string: one cluster per task
// (nested control/mode clusters for modal tasks), back-edges in a cycle
// drawn bold-blue, probes drawn as a side-tap off a bypassed main edge,
// and inter-task edges drawn dashed-red outside every cluster.
func RenderDOT(g graph.ProgramGraph) string {
	var b strings.Builder
	b.WriteString("digraph pipit {\n")
	b.WriteString("    rankdir=LR;\n")
	b.WriteString("    node [fontname=\"Helvetica\", fontsize=10];\n")
	b.WriteString("    edge [fontname=\"Helvetica\", fontsize=9];\n")

	names := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tg := g.Tasks[name]
		sanitized := sanitizeDot(name)
		b.WriteString("\n")
		switch tg.Kind {
		case graph.TaskGraphPipeline:
			fmt.Fprintf(&b, "    subgraph cluster_%s {\n", sanitized)
			fmt.Fprintf(&b, "        label=\"task: %s\";\n", name)
			b.WriteString("        style=rounded;\n        color=gray50;\n")
			writeSubgraphContents(&b, sanitized, "", &tg.Pipe, cycleEdgesFor(&tg.Pipe, g.Cycles), "        ")
			b.WriteString("    }\n")
		case graph.TaskGraphModal:
			fmt.Fprintf(&b, "    subgraph cluster_%s {\n", sanitized)
			fmt.Fprintf(&b, "        label=\"task: %s\";\n", name)
			b.WriteString("        style=rounded;\n        color=gray50;\n")

			b.WriteString("\n")
			fmt.Fprintf(&b, "        subgraph cluster_%s_control {\n", sanitized)
			b.WriteString("            label=\"control\";\n            style=dashed;\n            color=gray70;\n")
			writeSubgraphContents(&b, sanitized, "control", &tg.Control, cycleEdgesFor(&tg.Control, g.Cycles), "            ")
			b.WriteString("        }\n")

			for i := range tg.Modes {
				m := &tg.Modes[i]
				modeSan := sanitizeDot(m.Name)
				b.WriteString("\n")
				fmt.Fprintf(&b, "        subgraph cluster_%s_%s {\n", sanitized, modeSan)
				fmt.Fprintf(&b, "            label=\"mode: %s\";\n", m.Name)
				b.WriteString("            style=dashed;\n            color=gray70;\n")
				writeSubgraphContents(&b, sanitized, modeSan, &m.Body, cycleEdgesFor(&m.Body, g.Cycles), "            ")
				b.WriteString("        }\n")
			}
			b.WriteString("    }\n")
		}
	}

	if len(g.InterTaskEdges) > 0 {
		b.WriteString("\n    // Inter-task edges\n")
		for _, ite := range g.InterTaskEdges {
			writerPrefix := findNodePrefix(g.Tasks[ite.WriterTask], sanitizeDot(ite.WriterTask), ite.WriterNode)
			readerPrefix := findNodePrefix(g.Tasks[ite.ReaderTask], sanitizeDot(ite.ReaderTask), ite.ReaderNode)
			fmt.Fprintf(&b, "    %s_n%d -> %s_n%d [label=\"%s\", style=dashed, color=red, penwidth=2];\n",
				writerPrefix, uint32(ite.WriterNode), readerPrefix, uint32(ite.ReaderNode), ite.BufferName)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func sanitizeDot(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func dotNodeID(task, prefix string, id graph.NodeID) string {
	if prefix == "" {
		return fmt.Sprintf("%s_n%d", task, uint32(id))
	}
	return fmt.Sprintf("%s_%s_n%d", task, prefix, uint32(id))
}

func nodeLabel(n graph.Node) string {
	switch n.Kind {
	case graph.KindActor:
		return n.Call.Name
	case graph.KindFork:
		return ":" + n.TapName
	case graph.KindProbe:
		return "?" + n.ProbeName
	case graph.KindBufferRead:
		return "@" + n.BufferName
	case graph.KindBufferWrite:
		return "->" + n.BufferName
	}
	return ""
}

func nodeAttrs(n graph.Node) string {
	shape, color := "box", "lightblue"
	switch n.Kind {
	case graph.KindFork:
		shape, color = "diamond", "lightyellow"
	case graph.KindProbe:
		shape, color = "circle", "lightgreen"
	case graph.KindBufferRead, graph.KindBufferWrite:
		shape, color = "cylinder", "lightsalmon"
	}
	return fmt.Sprintf("shape=%s, style=filled, fillcolor=%s, label=\"%s\"", shape, color, nodeLabel(n))
}

// writeSubgraphContents renders sub's nodes and edges. Probes are drawn
// as a side-branch: the main A -> probe -> B chain becomes a bypass
// edge A -> B plus a dashed, non-constraining tap edge A -> probe.
func writeSubgraphContents(b *strings.Builder, task, prefix string, sub *graph.Subgraph, cycleEdges map[[2]graph.NodeID]bool, indent string) {
	probeIDs := make(map[graph.NodeID]bool)
	for _, n := range sub.Nodes {
		if n.Kind == graph.KindProbe {
			probeIDs[n.ID] = true
		}
	}

	probePred := make(map[graph.NodeID]graph.NodeID)
	probeSucc := make(map[graph.NodeID]graph.NodeID)
	for _, e := range sub.Edges {
		if probeIDs[e.Target] {
			probePred[e.Target] = e.Source
		}
		if probeIDs[e.Source] {
			probeSucc[e.Source] = e.Target
		}
	}

	for _, n := range sub.Nodes {
		fmt.Fprintf(b, "%s%s [%s];\n", indent, dotNodeID(task, prefix, n.ID), nodeAttrs(n))
	}
	b.WriteString("\n")

	probeEdge := make(map[[2]graph.NodeID]bool)
	for _, e := range sub.Edges {
		if probeIDs[e.Source] || probeIDs[e.Target] {
			probeEdge[[2]graph.NodeID{e.Source, e.Target}] = true
		}
	}

	for _, e := range sub.Edges {
		if probeEdge[[2]graph.NodeID{e.Source, e.Target}] {
			continue
		}
		src := dotNodeID(task, prefix, e.Source)
		tgt := dotNodeID(task, prefix, e.Target)
		if cycleEdges[[2]graph.NodeID{e.Source, e.Target}] {
			fmt.Fprintf(b, "%s%s -> %s [style=bold, color=blue];\n", indent, src, tgt)
		} else {
			fmt.Fprintf(b, "%s%s -> %s;\n", indent, src, tgt)
		}
	}

	probeIDList := make([]graph.NodeID, 0, len(probeIDs))
	for id := range probeIDs {
		probeIDList = append(probeIDList, id)
	}
	sort.Slice(probeIDList, func(i, j int) bool { return probeIDList[i] < probeIDList[j] })

	for _, pid := range probeIDList {
		pred, hasPred := probePred[pid]
		succ, hasSucc := probeSucc[pid]
		if hasPred && hasSucc {
			fmt.Fprintf(b, "%s%s -> %s;\n", indent, dotNodeID(task, prefix, pred), dotNodeID(task, prefix, succ))
		}
		if hasPred {
			fmt.Fprintf(b, "%s%s -> %s [style=dashed, constraint=false];\n", indent, dotNodeID(task, prefix, pred), dotNodeID(task, prefix, pid))
		}
	}
}

// cycleEdgesFor collects the back-edge of every cycle entirely contained
// in sub (the edge leaving the cycle's delay actor, as chosen by
// graph.IdentifyBackEdges), for bold-blue back-edge rendering.
func cycleEdgesFor(sub *graph.Subgraph, cycles [][]graph.NodeID) map[[2]graph.NodeID]bool {
	nodeIDs := make(map[graph.NodeID]bool, len(sub.Nodes))
	for _, n := range sub.Nodes {
		nodeIDs[n.ID] = true
	}
	edges := make(map[[2]graph.NodeID]bool)
	for _, cycle := range cycles {
		contained := true
		for _, id := range cycle {
			if !nodeIDs[id] {
				contained = false
				break
			}
		}
		if !contained || len(cycle) == 0 {
			continue
		}
		for e := range graph.IdentifyBackEdges(sub, [][]graph.NodeID{cycle}) {
			edges[e] = true
		}
	}
	return edges
}

// findNodePrefix locates which of a task's subgraphs (pipeline; or
// control/a named mode) contains id, returning the DOT cluster prefix
// used to address its node.
func findNodePrefix(tg *graph.TaskGraph, taskSanitized string, id graph.NodeID) string {
	if tg == nil {
		return taskSanitized
	}
	switch tg.Kind {
	case graph.TaskGraphPipeline:
		return taskSanitized
	case graph.TaskGraphModal:
		if _, ok := graph.FindNode(&tg.Control, id); ok {
			return taskSanitized + "_control"
		}
		for i := range tg.Modes {
			if _, ok := graph.FindNode(&tg.Modes[i].Body, id); ok {
				return taskSanitized + "_" + sanitizeDot(tg.Modes[i].Name)
			}
		}
	}
	return taskSanitized
}
