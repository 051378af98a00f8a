// Package codegen implements pass 9 of the pipeline compiler. Per
// spec.md §4.9 the final source-text rendering is intentionally
// mechanical and out of scope for the core; this package renders the
// consolidated LIR into a minimal, deterministic skeleton, plus the
// Graphviz DOT diagnostic renderer spec.md §5 refers to when it
// describes "DOT/Gantt/artifact renderers" sorting all map-derived
// output by deterministic keys.
package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/lir"
	"github.com/tmineno/pipeit/internal/schedule"
)

// Options carries the caller-supplied rendering options: a release flag,
// extra include paths, and a provenance string embedded as a leading
// comment in generated source.
type Options struct {
	Release      bool
	IncludePaths []string
	Provenance   string
}

// GeneratedCode is the final rendered source text.
type GeneratedCode struct {
	Source string
}

// Result is the output of Codegen.
type Result struct {
	Generated   GeneratedCode
	Diagnostics []diag.Diagnostic
}

func (r Result) HasErrors() bool { return diag.AnyError(r.Diagnostics) }

// Codegen renders g/sr/lr into final source text: a leading provenance
// comment, one declaration per runtime parameter and inter-task buffer,
// then one function per task firing its schedule's nodes in order.
func Codegen(g graph.ProgramGraph, sr schedule.Result, lr lir.Result, opts Options) Result {
	var b strings.Builder
	writeHeader(&b, opts)
	writeParams(&b, lr.Lir.Params)
	writeBuffers(&b, lr.Lir.Buffers)
	writeTasks(&b, g, lr.Lir.Tasks)
	return Result{Generated: GeneratedCode{Source: b.String()}}
}

func writeHeader(b *strings.Builder, opts Options) {
	if opts.Provenance != "" {
		fmt.Fprintf(b, "// %s\n", opts.Provenance)
	}
	mode := "debug"
	if opts.Release {
		mode = "release"
	}
	fmt.Fprintf(b, "// generated by pipeit (%s build)\n\n", mode)
}

func writeParams(b *strings.Builder, params []lir.ParamLir) {
	for _, p := range params {
		fmt.Fprintf(b, "%s param_%s;\n", p.TargetType, p.Name)
	}
	if len(params) > 0 {
		b.WriteString("\n")
	}
}

func writeBuffers(b *strings.Builder, buffers map[string]lir.BufferLir) {
	names := make([]string, 0, len(buffers))
	for name := range buffers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf := buffers[name]
		fmt.Fprintf(b, "%s buffer_%s[%d];\n", buf.ElemType, name, buf.Capacity)
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}
}

func writeTasks(b *strings.Builder, g graph.ProgramGraph, tasks map[string]lir.TaskLir) {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := tasks[name]
		fmt.Fprintf(b, "// task %s: freq=%gHz k=%d\n", name, t.FreqHz, t.KFactor)
		fmt.Fprintf(b, "void task_%s(void) {\n", name)
		switch t.Kind {
		case schedule.TaskSchedulePipeline:
			writeFirings(b, firingSubgraph(g, name, ""), t.Pipe, "    ")
		case schedule.TaskScheduleModal:
			writeFirings(b, firingSubgraph(g, name, "control"), t.Control, "    ")
			for _, m := range t.Modes {
				fmt.Fprintf(b, "    // mode %s\n", m.Name)
				writeFirings(b, firingSubgraph(g, name, m.Name), m.Schedule, "    ")
			}
		}
		b.WriteString("}\n\n")
	}
}

// firingSubgraph resolves the *graph.Subgraph a TaskLir schedule's node
// ids refer to, so writeFirings can recover each node's kind and call.
func firingSubgraph(g graph.ProgramGraph, taskName, part string) *graph.Subgraph {
	tg, ok := g.Tasks[taskName]
	if !ok {
		return nil
	}
	switch {
	case part == "":
		return &tg.Pipe
	case part == "control":
		return &tg.Control
	default:
		for i := range tg.Modes {
			if tg.Modes[i].Name == part {
				return &tg.Modes[i].Body
			}
		}
	}
	return nil
}

func writeFirings(b *strings.Builder, sub *graph.Subgraph, sched schedule.SubgraphSchedule, indent string) {
	if sub == nil {
		return
	}
	for _, f := range sched.Firings {
		node, ok := graph.FindNode(sub, f.NodeID)
		if !ok {
			continue
		}
		switch node.Kind {
		case graph.KindActor:
			fmt.Fprintf(b, "%sfor (uint32_t i = 0; i < %du; ++i) %s();\n", indent, f.RepetitionCount, node.Call.Name)
		case graph.KindFork:
			fmt.Fprintf(b, "%s// fork :%s\n", indent, node.TapName)
		case graph.KindProbe:
			fmt.Fprintf(b, "%s// probe ?%s\n", indent, node.ProbeName)
		case graph.KindBufferRead:
			fmt.Fprintf(b, "%s// read @%s\n", indent, node.BufferName)
		case graph.KindBufferWrite:
			fmt.Fprintf(b, "%s// write ->%s\n", indent, node.BufferName)
		}
	}
}
