// Package astpdl holds the syntax tree produced by the (external) PDL
// lexer/parser. Every node carries a byte-range Span used exclusively for
// diagnostics; spans never participate in semantic identity, that is the
// job of the stable ids allocated in internal/idalloc.
package astpdl

import "github.com/tmineno/pipeit/internal/diag"

// Span is a byte-offset range in the source text.
type Span = diag.Span

// Ident is an identifier with its source text and span.
type Ident struct {
	Name string
	Span Span
}

// Program is a complete PDL source file: an ordered sequence of top-level
// statements.
type Program struct {
	Statements []Statement
	Span       Span
}

// Statement is a top-level declaration. Exactly one of the payload fields
// matching Kind is non-nil; the others are nil.
type Statement struct {
	Kind   StatementKind
	Span   Span
	Set    *SetStmt
	Const  *ConstStmt
	Param  *ParamStmt
	Define *DefineStmt
	Task   *TaskStmt
}

// StatementKind discriminates the five top-level statement forms.
type StatementKind int

const (
	StmtSet StatementKind = iota
	StmtConst
	StmtParam
	StmtDefine
	StmtTask
)

// ── set ──

// SetStmt binds a compiler-wide tunable, e.g. `set tick_rate = 1MHz`.
type SetStmt struct {
	Name  Ident
	Value SetValue
}

// SetValueKind discriminates the scalar forms a SetStmt's RHS can take.
type SetValueKind int

const (
	SetNumber SetValueKind = iota
	SetSize
	SetFreq
	SetString
	SetIdent
)

// SetValue is the right-hand side of a set statement.
type SetValue struct {
	Kind   SetValueKind
	Number float64
	Size   uint64
	Str    string
	Ident  Ident
	Span   Span
}

// ── const / param ──

// ConstStmt declares a compile-time constant.
type ConstStmt struct {
	Name  Ident
	Value Value
}

// ParamStmt declares a runtime-tunable scalar with a default value.
type ParamStmt struct {
	Name  Ident
	Value Scalar
}

// ── define ──

// DefineStmt declares a named, parameterized pipeline fragment inlined at
// every call site during BuildHir.
type DefineStmt struct {
	Name   Ident
	Params []Ident
	Body   PipelineBody
}

// ── task ──

// TaskStmt declares a clocked task.
type TaskStmt struct {
	Freq     float64
	FreqSpan Span
	Name     Ident
	Body     TaskBody
	Spawn    *SpawnClause
}

// SpawnBoundKind discriminates a literal spawn-range bound from a
// const-reference one.
type SpawnBoundKind int

const (
	SpawnBoundLiteral SpawnBoundKind = iota
	SpawnBoundConstRef
)

// SpawnBound is one endpoint of a spawn clause's index range.
type SpawnBound struct {
	Kind    SpawnBoundKind
	Literal uint32
	Ref     Ident
	Span    Span
}

// SpawnClause declares `name[idx=begin..end]` on a task: expanded into
// one independent task per index value in [begin, end) before name
// resolution, substituting the index variable wherever it's referenced
// in the task body.
type SpawnClause struct {
	IndexVar Ident
	Begin    SpawnBound
	End      SpawnBound
	Span     Span
}

// TaskBodyKind discriminates a simple pipeline task from a modal one.
type TaskBodyKind int

const (
	TaskPipeline TaskBodyKind = iota
	TaskModal
)

// TaskBody is either a single pipeline or a modal subgraph selection.
type TaskBody struct {
	Kind     TaskBodyKind
	Pipeline PipelineBody
	Modal    ModalBody
}

// ModalBody is a control subgraph, a set of named mode subgraphs, and the
// switch selector choosing between them at run time.
type ModalBody struct {
	Control ControlBlock
	Modes   []ModeBlock
	Switch  SwitchStmt
	Span    Span
}

// ControlBlock is the `control { ... }` subgraph of a modal task.
type ControlBlock struct {
	Body PipelineBody
	Span Span
}

// ModeBlock is one `mode name { ... }` subgraph of a modal task.
type ModeBlock struct {
	Name Ident
	Body PipelineBody
	Span Span
}

// SwitchSourceKind discriminates a buffer-driven switch from a
// param-driven one.
type SwitchSourceKind int

const (
	SwitchBuffer SwitchSourceKind = iota
	SwitchParam
)

// SwitchSource is the control input selecting the active mode.
type SwitchSource struct {
	Kind SwitchSourceKind
	Name Ident
}

// SwitchStmt names the modes reachable from the control subgraph's output.
type SwitchStmt struct {
	Source  SwitchSource
	Modes   []Ident
	Default *Ident
	Span    Span
}

// ── pipeline body / pipe expression ──

// PipelineBody is an ordered sequence of pipe expressions.
type PipelineBody struct {
	Lines []PipeExpr
	Span  Span
}

// PipeExpr is one `source | elem | elem ... -> sink?` line.
type PipeExpr struct {
	Source   PipeSource
	Elements []PipeElem
	Sink     *Sink
	Span     Span
}

// PipeSourceKind discriminates the three legal forms of a pipe's head.
type PipeSourceKind int

const (
	SourceBufferRead PipeSourceKind = iota
	SourceTapRef
	SourceActorCall
)

// PipeSource is the left-most element of a pipe expression.
type PipeSource struct {
	Kind   PipeSourceKind
	Ident  Ident // BufferRead / TapRef name
	Call   ActorCall
	Span   Span
}

// PipeElemKind discriminates the three forms a middle pipe element can take.
type PipeElemKind int

const (
	ElemActorCall PipeElemKind = iota
	ElemTap
	ElemProbe
)

// PipeElem is one element between a pipe's source and its optional sink.
type PipeElem struct {
	Kind  PipeElemKind
	Call  ActorCall
	Ident Ident // Tap / Probe name
	Span  Span
}

// Sink is the `-> name` shared-buffer write terminating a pipe expression.
type Sink struct {
	Buffer Ident
	Span   Span
}

// ActorCall is `name(args)` with optional explicit type arguments and a
// shape constraint.
type ActorCall struct {
	Name            Ident
	Args            []Arg
	TypeArgs        []Ident
	ShapeConstraint *ShapeConstraint
	Span            Span
}

// ShapeConstraint is a compile-time shape override: `actor(...)[d0, d1,...]`.
type ShapeConstraint struct {
	Dims []ShapeDim
	Span Span
}

// ShapeDimKind discriminates a literal dimension from a const-reference one.
type ShapeDimKind int

const (
	DimLiteral ShapeDimKind = iota
	DimConstRef
)

// ShapeDim is a single dimension within a ShapeConstraint.
type ShapeDim struct {
	Kind    ShapeDimKind
	Literal uint32
	Ref     Ident
	Span    Span
}

// ── arguments ──

// ArgKind discriminates the four positional-argument forms.
type ArgKind int

const (
	ArgValue ArgKind = iota
	ArgParamRef
	ArgConstRef
	ArgTapRef
)

// Arg is one positional actor-call argument.
type Arg struct {
	Kind  ArgKind
	Val   Value
	Ref   Ident // ParamRef / ConstRef / TapRef name
	Span  Span
}

// ── values ──

// ValueKind discriminates a scalar value from an array of scalars.
type ValueKind int

const (
	ValScalar ValueKind = iota
	ValArray
)

// Value is either a single Scalar or an Array of them.
type Value struct {
	Kind    ValueKind
	Scalar  Scalar
	Array   []Scalar
	Span    Span
}

// ScalarKind discriminates the five scalar literal/reference forms.
type ScalarKind int

const (
	ScalarNumber ScalarKind = iota
	ScalarFreq
	ScalarSize
	ScalarString
	ScalarIdent
)

// Scalar is a single literal or a bare-identifier const reference.
// IsIntLiteral records whether a ScalarNumber was written without a
// fractional part. Type inference uses it to default int literals to
// int32 and float literals to float.
type Scalar struct {
	Kind        ScalarKind
	Number      float64
	IsIntLiteral bool
	Size        uint64
	Str         string
	Ident       Ident
	Span        Span
}
