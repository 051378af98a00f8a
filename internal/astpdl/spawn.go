package astpdl

import (
	"fmt"

	"github.com/tmineno/pipeit/internal/diag"
)

// ExpandSpawns expands every `name[idx=begin..end] { ... }` spawn clause
// into N independent, non-spawned tasks named "name__spawn_<i>", with
// the index variable substituted by its literal value wherever it's
// referenced in the task body (const-ref actor arguments and shape
// constraint dimensions). Runs before name resolution so the resolver
// only ever sees plain tasks.
func ExpandSpawns(prog Program) (Program, []diag.Diagnostic) {
	var diags []diag.Diagnostic
	consts := collectIntegerConsts(prog.Statements)

	out := make([]Statement, 0, len(prog.Statements))
	for _, stmt := range prog.Statements {
		if stmt.Kind != StmtTask || stmt.Task.Spawn == nil {
			out = append(out, stmt)
			continue
		}
		expanded, d := expandOneTask(*stmt.Task, *stmt.Task.Spawn, consts, stmt.Span)
		diags = append(diags, d...)
		out = append(out, expanded...)
	}

	return Program{Statements: out, Span: prog.Span}, diags
}

func collectIntegerConsts(stmts []Statement) map[string]uint32 {
	consts := make(map[string]uint32)
	for _, stmt := range stmts {
		if stmt.Kind != StmtConst {
			continue
		}
		c := stmt.Const
		if c.Value.Kind != ValScalar || c.Value.Scalar.Kind != ScalarNumber || !c.Value.Scalar.IsIntLiteral {
			continue
		}
		n := c.Value.Scalar.Number
		if n >= 0 {
			consts[c.Name.Name] = uint32(n)
		}
	}
	return consts
}

func resolveSpawnBound(bound SpawnBound, consts map[string]uint32, diags *[]diag.Diagnostic) (uint32, bool) {
	switch bound.Kind {
	case SpawnBoundLiteral:
		return bound.Literal, true
	case SpawnBoundConstRef:
		if v, ok := consts[bound.Ref.Name]; ok {
			return v, true
		}
		*diags = append(*diags, diag.New(diag.Error, bound.Ref.Span,
			fmt.Sprintf("unknown const %q in spawn bound", bound.Ref.Name)).WithCode(diag.E0029))
		return 0, false
	}
	return 0, false
}

func expandOneTask(task TaskStmt, spawn SpawnClause, consts map[string]uint32, stmtSpan Span) ([]Statement, []diag.Diagnostic) {
	var diags []diag.Diagnostic
	begin, ok1 := resolveSpawnBound(spawn.Begin, consts, &diags)
	end, ok2 := resolveSpawnBound(spawn.End, consts, &diags)
	if !ok1 || !ok2 {
		return nil, diags
	}
	if begin >= end {
		diags = append(diags, diag.New(diag.Error, spawn.Span,
			fmt.Sprintf("spawn range %d..%d is empty (begin must be < end)", begin, end)).WithCode(diag.E0026))
		return nil, diags
	}

	idxVar := spawn.IndexVar.Name
	out := make([]Statement, 0, end-begin)
	for i := begin; i < end; i++ {
		newTask := TaskStmt{
			Freq:     task.Freq,
			FreqSpan: task.FreqSpan,
			Name:     Ident{Name: fmt.Sprintf("%s__spawn_%d", task.Name.Name, i), Span: task.Name.Span},
			Body:     substituteTaskBody(task.Body, idxVar, i),
			Spawn:    nil,
		}
		out = append(out, Statement{Kind: StmtTask, Span: stmtSpan, Task: &newTask})
	}
	return out, diags
}

func substituteTaskBody(body TaskBody, idxVar string, idxVal uint32) TaskBody {
	switch body.Kind {
	case TaskPipeline:
		return TaskBody{Kind: TaskPipeline, Pipeline: substitutePipelineBody(body.Pipeline, idxVar, idxVal)}
	case TaskModal:
		return TaskBody{Kind: TaskModal, Modal: substituteModalBody(body.Modal, idxVar, idxVal)}
	}
	return body
}

func substituteModalBody(mb ModalBody, idxVar string, idxVal uint32) ModalBody {
	modes := make([]ModeBlock, len(mb.Modes))
	for i, m := range mb.Modes {
		modes[i] = ModeBlock{Name: m.Name, Body: substitutePipelineBody(m.Body, idxVar, idxVal), Span: m.Span}
	}
	return ModalBody{
		Control: ControlBlock{Body: substitutePipelineBody(mb.Control.Body, idxVar, idxVal), Span: mb.Control.Span},
		Modes:   modes,
		Switch:  mb.Switch,
		Span:    mb.Span,
	}
}

func substitutePipelineBody(pb PipelineBody, idxVar string, idxVal uint32) PipelineBody {
	lines := make([]PipeExpr, len(pb.Lines))
	for i, pe := range pb.Lines {
		lines[i] = substitutePipeExpr(pe, idxVar, idxVal)
	}
	return PipelineBody{Lines: lines, Span: pb.Span}
}

func substitutePipeExpr(pe PipeExpr, idxVar string, idxVal uint32) PipeExpr {
	elements := make([]PipeElem, len(pe.Elements))
	for i, e := range pe.Elements {
		elements[i] = substitutePipeElem(e, idxVar, idxVal)
	}
	return PipeExpr{
		Source:   substitutePipeSource(pe.Source, idxVar, idxVal),
		Elements: elements,
		Sink:     pe.Sink,
		Span:     pe.Span,
	}
}

func substitutePipeSource(src PipeSource, idxVar string, idxVal uint32) PipeSource {
	if src.Kind == SourceActorCall {
		src.Call = substituteActorCall(src.Call, idxVar, idxVal)
	}
	return src
}

func substitutePipeElem(elem PipeElem, idxVar string, idxVal uint32) PipeElem {
	if elem.Kind == ElemActorCall {
		elem.Call = substituteActorCall(elem.Call, idxVar, idxVal)
	}
	return elem
}

func substituteActorCall(ac ActorCall, idxVar string, idxVal uint32) ActorCall {
	args := make([]Arg, len(ac.Args))
	for i, a := range ac.Args {
		args[i] = substituteArg(a, idxVar, idxVal)
	}
	ac.Args = args
	if ac.ShapeConstraint != nil {
		sc := substituteShapeConstraint(*ac.ShapeConstraint, idxVar, idxVal)
		ac.ShapeConstraint = &sc
	}
	return ac
}

func substituteArg(a Arg, idxVar string, idxVal uint32) Arg {
	if a.Kind == ArgConstRef && a.Ref.Name == idxVar {
		return Arg{
			Kind: ArgValue,
			Val:  Value{Kind: ValScalar, Scalar: Scalar{Kind: ScalarNumber, Number: float64(idxVal), IsIntLiteral: true, Span: a.Ref.Span}},
			Span: a.Span,
		}
	}
	return a
}

func substituteShapeConstraint(sc ShapeConstraint, idxVar string, idxVal uint32) ShapeConstraint {
	dims := make([]ShapeDim, len(sc.Dims))
	for i, d := range sc.Dims {
		if d.Kind == DimConstRef && d.Ref.Name == idxVar {
			dims[i] = ShapeDim{Kind: DimLiteral, Literal: idxVal, Span: d.Span}
			continue
		}
		dims[i] = d
	}
	return ShapeConstraint{Dims: dims, Span: sc.Span}
}
