package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/ptype"
	"github.com/tmineno/pipeit/internal/registry"
)

func sp(start, end int) astpdl.Span { return astpdl.Span{Start: start, End: end} }

func ident(name string, start int) astpdl.Ident {
	return astpdl.Ident{Name: name, Span: sp(start, start+len(name))}
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Add(registry.ActorMeta{
		Name:     "gain",
		InType:   registry.Concrete(ptype.Float),
		InCount:  registry.Lit(1),
		OutType:  registry.Concrete(ptype.Float),
		OutCount: registry.Lit(1),
	})
	return r
}

// actorCallTask builds a one-line pipeline task: `taskName(): actorName() -> sinkName`.
func actorCallTask(taskName, sinkName, actorName string, base int) astpdl.Statement {
	call := astpdl.ActorCall{Name: ident(actorName, base), Span: sp(base, base+1)}
	pipe := astpdl.PipeExpr{
		Source: astpdl.PipeSource{Kind: astpdl.SourceActorCall, Call: call, Span: call.Span},
		Sink:   &astpdl.Sink{Buffer: ident(sinkName, base+10), Span: sp(base+10, base+11)},
		Span:   sp(base, base+11),
	}
	body := astpdl.PipelineBody{Lines: []astpdl.PipeExpr{pipe}, Span: pipe.Span}
	task := &astpdl.TaskStmt{
		Name: ident(taskName, base+20),
		Body: astpdl.TaskBody{Kind: astpdl.TaskPipeline, Pipeline: body},
	}
	return astpdl.Statement{Kind: astpdl.StmtTask, Task: task, Span: task.Name.Span}
}

func TestResolveUnknownActor(t *testing.T) {
	reg := testRegistry()
	prog := astpdl.Program{Statements: []astpdl.Statement{
		actorCallTask("t1", "out1", "nosuchactor", 0),
	}}

	res := Resolve(prog, reg)
	require.True(t, res.HasErrors())
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == diag.E0011 {
			found = true
		}
	}
	assert.True(t, found, "expected E0011 for unknown actor")
}

func TestResolveKnownActorNoErrors(t *testing.T) {
	reg := testRegistry()
	prog := astpdl.Program{Statements: []astpdl.Statement{
		actorCallTask("t1", "out1", "gain", 0),
	}}

	res := Resolve(prog, reg)
	assert.False(t, res.HasErrors())
	assert.Equal(t, 1, res.Alloc.CallCount())
}

func TestResolveDuplicateBufferWriter(t *testing.T) {
	reg := testRegistry()
	prog := astpdl.Program{Statements: []astpdl.Statement{
		actorCallTask("t1", "shared", "gain", 0),
		actorCallTask("t2", "shared", "gain", 100),
	}}

	res := Resolve(prog, reg)
	require.True(t, res.HasErrors())
	var codes []diag.Code
	for _, d := range res.Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, diag.E0010)
}

func TestResolveDuplicateTask(t *testing.T) {
	reg := testRegistry()
	prog := astpdl.Program{Statements: []astpdl.Statement{
		actorCallTask("dup", "out1", "gain", 0),
		actorCallTask("dup", "out2", "gain", 100),
	}}

	res := Resolve(prog, reg)
	require.True(t, res.HasErrors())
	var codes []diag.Code
	for _, d := range res.Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, diag.E0004)
}

func TestResolveUndefinedBufferRead(t *testing.T) {
	reg := testRegistry()
	src := astpdl.PipeSource{Kind: astpdl.SourceBufferRead, Ident: ident("nope", 0), Span: sp(0, 4)}
	pipe := astpdl.PipeExpr{Source: src, Span: sp(0, 4)}
	body := astpdl.PipelineBody{Lines: []astpdl.PipeExpr{pipe}, Span: pipe.Span}
	task := &astpdl.TaskStmt{Name: ident("t1", 20), Body: astpdl.TaskBody{Kind: astpdl.TaskPipeline, Pipeline: body}}
	prog := astpdl.Program{Statements: []astpdl.Statement{{Kind: astpdl.StmtTask, Task: task}}}

	res := Resolve(prog, reg)
	require.True(t, res.HasErrors())
	assert.Equal(t, diag.E0023, res.Diagnostics[0].Code)
}

func TestResolveUnusedTapWarns(t *testing.T) {
	reg := testRegistry()
	call := astpdl.ActorCall{Name: ident("gain", 0), Span: sp(0, 1)}
	src := astpdl.PipeSource{Kind: astpdl.SourceActorCall, Call: call, Span: call.Span}
	tapElem := astpdl.PipeElem{Kind: astpdl.ElemTap, Ident: ident("unused", 5), Span: sp(5, 11)}
	pipe := astpdl.PipeExpr{Source: src, Elements: []astpdl.PipeElem{tapElem}, Span: sp(0, 11)}
	body := astpdl.PipelineBody{Lines: []astpdl.PipeExpr{pipe}, Span: pipe.Span}
	task := &astpdl.TaskStmt{Name: ident("t1", 20), Body: astpdl.TaskBody{Kind: astpdl.TaskPipeline, Pipeline: body}}
	prog := astpdl.Program{Statements: []astpdl.Statement{{Kind: astpdl.StmtTask, Task: task}}}

	res := Resolve(prog, reg)
	assert.False(t, res.HasErrors())
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.E0006, res.Diagnostics[0].Code)
	assert.Equal(t, diag.Warning, res.Diagnostics[0].Level)
}
