package schedule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmineno/pipeit/internal/graph"
)

// RenderGantt renders sched/g as a Mermaid Gantt chart: one section per
// task (control plus one per mode for modal tasks), with each firing
// entry placed ASAP, starting at the max end time of its forward-edge
// predecessors, running in parallel with independent branches after a
// fork. Probes are zero-duration and omitted from the chart.
func RenderGantt(sched ScheduledProgram, g graph.ProgramGraph) string {
	var b strings.Builder
	b.WriteString("gantt\n")
	b.WriteString("    title PASS Schedule Timing\n")
	b.WriteString("    dateFormat x\n")
	b.WriteString("    axisFormat %Q\n")

	names := make([]string, 0, len(sched.Tasks))
	for name := range sched.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		meta := sched.Tasks[name]
		tg, ok := g.Tasks[name]
		if !ok {
			continue
		}
		emitTaskSection(&b, name, meta, tg)
	}

	return b.String()
}

func emitTaskSection(b *strings.Builder, taskName string, meta TaskMeta, tg *graph.TaskGraph) {
	prefix := sanitizeGantt(taskName)
	freq := formatFreq(meta.FreqHz)

	switch meta.Kind {
	case TaskSchedulePipeline:
		if tg.Kind != graph.TaskGraphPipeline {
			return
		}
		b.WriteString("\n")
		fmt.Fprintf(b, "    section %s [pipeline] (K=%d, %s)\n", taskName, meta.KFactor, freq)
		emitSubgraphFirings(b, meta.Pipe, &tg.Pipe, prefix)
	case TaskScheduleModal:
		if tg.Kind != graph.TaskGraphModal {
			return
		}
		b.WriteString("\n")
		fmt.Fprintf(b, "    section %s [control] (K=%d, %s)\n", taskName, meta.KFactor, freq)
		emitSubgraphFirings(b, meta.Control, &tg.Control, prefix+"_ctrl")

		modeSubs := make(map[string]*graph.Subgraph, len(tg.Modes))
		for i := range tg.Modes {
			modeSubs[tg.Modes[i].Name] = &tg.Modes[i].Body
		}
		for _, ms := range meta.Modes {
			b.WriteString("\n")
			fmt.Fprintf(b, "    section %s [mode: %s]\n", taskName, ms.Name)
			if sub, ok := modeSubs[ms.Name]; ok {
				emitSubgraphFirings(b, ms.Schedule, sub, prefix+"_"+sanitizeGantt(ms.Name))
			}
		}
	}
}

// emitSubgraphFirings places each firing entry at the earliest time its
// forward-edge predecessors allow, skipping back-edges (identified by a
// source appearing after its target in firing order) and omitting
// zero-duration probe nodes from the rendered chart.
func emitSubgraphFirings(b *strings.Builder, sched SubgraphSchedule, sub *graph.Subgraph, idPrefix string) {
	if len(sched.Firings) == 0 {
		return
	}

	position := make(map[graph.NodeID]int, len(sched.Firings))
	for i, f := range sched.Firings {
		position[f.NodeID] = i
	}

	predecessors := make(map[graph.NodeID][]graph.NodeID)
	for _, e := range sub.Edges {
		sp, sok := position[e.Source]
		tp, tok := position[e.Target]
		if sok && tok && sp < tp {
			predecessors[e.Target] = append(predecessors[e.Target], e.Source)
		}
	}

	endTime := make(map[graph.NodeID]uint64, len(sched.Firings))
	taskIndex := 0

	for _, entry := range sched.Firings {
		node, found := graph.FindNode(sub, entry.NodeID)
		isProbe := found && node.Kind == graph.KindProbe

		var start uint64
		for _, p := range predecessors[entry.NodeID] {
			if et, ok := endTime[p]; ok && et > start {
				start = et
			}
		}

		duration := uint64(entry.RepetitionCount)
		if isProbe {
			duration = 0
		}
		end := start + duration
		endTime[entry.NodeID] = end

		if isProbe {
			continue
		}

		label := fmt.Sprintf("node_%d", uint32(entry.NodeID))
		if found {
			label = ganttNodeLabel(node)
		}

		id := fmt.Sprintf("%s_%d", idPrefix, taskIndex)
		fmt.Fprintf(b, "    %s x%d :%s, %d, %d\n", label, entry.RepetitionCount, id, start, end)
		taskIndex++
	}
}

// ganttNodeLabel returns a Mermaid-safe label: Mermaid Gantt uses ":" as
// the task/metadata separator, so fork/probe/buffer names are wrapped
// in a name(...) form rather than using pipit's ":name"/"?name" syntax.
func ganttNodeLabel(n graph.Node) string {
	switch n.Kind {
	case graph.KindActor:
		return n.Call.Name
	case graph.KindFork:
		return "fork(" + n.TapName + ")"
	case graph.KindProbe:
		return "probe(" + n.ProbeName + ")"
	case graph.KindBufferRead:
		return "read(" + n.BufferName + ")"
	case graph.KindBufferWrite:
		return "write(" + n.BufferName + ")"
	}
	return ""
}

func formatFreq(freqHz float64) string {
	switch {
	case freqHz >= 1_000_000.0:
		mhz := freqHz / 1_000_000.0
		if mhz == float64(uint64(mhz)) {
			return fmt.Sprintf("%dMHz", uint64(mhz))
		}
		return fmt.Sprintf("%.1fMHz", mhz)
	case freqHz >= 1_000.0:
		khz := freqHz / 1_000.0
		if khz == float64(uint64(khz)) {
			return fmt.Sprintf("%dkHz", uint64(khz))
		}
		return fmt.Sprintf("%.1fkHz", khz)
	default:
		return fmt.Sprintf("%dHz", uint64(freqHz))
	}
}

func sanitizeGantt(name string) string {
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
