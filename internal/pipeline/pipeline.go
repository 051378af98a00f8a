// Package pipeline orchestrates the nine middle-end passes (Resolve
// through Codegen) behind one entry point: it expands spawn clauses,
// runs each pass in dependency order, turns a failed proof-obligation
// cert into a synthetic E06xx diagnostic, and stops at the first pass
// that produces an error. RequiredPasses lets a caller ask for less
// than the full pipeline, e.g. an --emit graph run that never needs
// TypeInfer or Lower.
package pipeline

import (
	"fmt"
	"time"

	"github.com/tmineno/pipeit/internal/analyze"
	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/codegen"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/graph"
	"github.com/tmineno/pipeit/internal/hir"
	"github.com/tmineno/pipeit/internal/lir"
	"github.com/tmineno/pipeit/internal/lower"
	"github.com/tmineno/pipeit/internal/registry"
	"github.com/tmineno/pipeit/internal/resolve"
	"github.com/tmineno/pipeit/internal/schedule"
	"github.com/tmineno/pipeit/internal/thir"
	"github.com/tmineno/pipeit/internal/typeinfer"
)

// PassID names one of the nine middle-end passes, in pipeline order.
type PassID int

const (
	PassResolve PassID = iota
	PassBuildHir
	PassTypeInfer
	PassLower
	PassBuildGraph
	PassAnalyze
	PassSchedule
	PassBuildLir
	PassCodegen
)

func (p PassID) String() string {
	switch p {
	case PassResolve:
		return "resolve"
	case PassBuildHir:
		return "build_hir"
	case PassTypeInfer:
		return "type_infer"
	case PassLower:
		return "lower"
	case PassBuildGraph:
		return "build_graph"
	case PassAnalyze:
		return "analyze"
	case PassSchedule:
		return "schedule"
	case PassBuildLir:
		return "build_lir"
	case PassCodegen:
		return "codegen"
	default:
		return "unknown_pass"
	}
}

// AllPasses lists every pass in pipeline order.
var AllPasses = []PassID{
	PassResolve, PassBuildHir, PassTypeInfer, PassLower, PassBuildGraph,
	PassAnalyze, PassSchedule, PassBuildLir, PassCodegen,
}

// PassDescriptor declares one pass's direct data dependencies, its cache
// invalidation key, and the proof obligations it checks (if any).
type PassDescriptor struct {
	Name            string
	Inputs          []PassID
	InvalidationKey string
	Invariants      []string
}

// descriptor returns the static dependency table entry for id. Inputs are
// the passes whose artifacts id reads directly, not everything upstream
// of it, so that RequiredPasses can compute a minimal pass list for a
// terminal short of the full pipeline (e.g. BuildGraph only needs HIR,
// not a completed type check).
func descriptor(id PassID) PassDescriptor {
	switch id {
	case PassResolve:
		return PassDescriptor{Name: "resolve", InvalidationKey: "source_text"}
	case PassBuildHir:
		return PassDescriptor{
			Name:            "build_hir",
			Inputs:          []PassID{PassResolve},
			InvalidationKey: "source_text",
			Invariants:      []string{"H1_defines_expanded", "H2_callids_unique", "H3_callids_tracked"},
		}
	case PassTypeInfer:
		return PassDescriptor{Name: "type_infer", Inputs: []PassID{PassBuildHir}, InvalidationKey: "source_text+registry"}
	case PassLower:
		return PassDescriptor{
			Name:            "lower",
			Inputs:          []PassID{PassTypeInfer},
			InvalidationKey: "source_text+registry",
			Invariants:      []string{"L1_type_consistency", "L2_widening_safety", "L3_rate_shape_preservation", "L4_monomorphization_soundness", "L5_no_fallback_typing"},
		}
	case PassBuildGraph:
		return PassDescriptor{Name: "build_graph", Inputs: []PassID{PassBuildHir}, InvalidationKey: "source_text"}
	case PassAnalyze:
		return PassDescriptor{Name: "analyze", Inputs: []PassID{PassTypeInfer, PassLower, PassBuildGraph}, InvalidationKey: "source_text+registry"}
	case PassSchedule:
		return PassDescriptor{
			Name:            "schedule",
			Inputs:          []PassID{PassAnalyze},
			InvalidationKey: "source_text+registry",
			Invariants:      []string{"S1_all_tasks_scheduled", "S2_all_nodes_fired"},
		}
	case PassBuildLir:
		return PassDescriptor{
			Name:            "build_lir",
			Inputs:          []PassID{PassAnalyze, PassSchedule},
			InvalidationKey: "source_text+registry",
			Invariants:      []string{"R1_lir_complete", "R2_lir_consistent"},
		}
	case PassCodegen:
		return PassDescriptor{Name: "codegen", Inputs: []PassID{PassSchedule, PassBuildLir}, InvalidationKey: "source_text+registry"}
	default:
		return PassDescriptor{Name: "unknown"}
	}
}

// RequiredPasses returns the minimal ordered list of passes that must run
// to produce terminal's artifact: a post-order depth-first walk of the
// dependency graph rooted at terminal, so every input lands before the
// pass that consumes it.
func RequiredPasses(terminal PassID) []PassID {
	visited := make(map[PassID]bool, len(AllPasses))
	result := make([]PassID, 0, len(AllPasses))

	var visit func(id PassID)
	visit = func(id PassID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range descriptor(id).Inputs {
			visit(dep)
		}
		result = append(result, id)
	}
	visit(terminal)
	return result
}

// PassTiming records how long one pass took, for --verbose timing reports.
type PassTiming struct {
	Pass     PassID
	Duration time.Duration
}

// PipelineError reports which pass first produced an error-level
// diagnostic, stopping the pipeline.
type PipelineError struct {
	FailingPass PassID
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stopped: pass %s reported an error", e.FailingPass)
}

// CompilationState accumulates every pass's artifact plus the running
// diagnostic list, as one flat struct: nothing here requires splitting
// the upstream (pre-Thir) and downstream (Thir-consuming) artifacts
// apart, so they live together for simplicity.
type CompilationState struct {
	Registry *registry.Registry
	Source   string
	Program  astpdl.Program

	Resolved resolve.Result
	HIR      hir.Program
	HIRCert  hir.Cert
	Typed    typeinfer.Result
	Lowered  lower.Result
	Graph    graph.Result
	Thir     *thir.Context
	Analysis analyze.Result
	Schedule schedule.Result
	Lir      lir.Result
	Codegen  codegen.Result

	Diagnostics []diag.Diagnostic
	HasError    bool
	Provenance  Provenance
	Timings     []PassTiming
}

// NewCompilationState seeds a CompilationState from parsed source, ready
// for RunPipeline. Provenance is computed immediately since it depends
// only on raw source text and the registry, not on any pass artifact.
func NewCompilationState(source string, prog astpdl.Program, reg *registry.Registry) (*CompilationState, error) {
	prov, err := ComputeProvenance(source, reg)
	if err != nil {
		return nil, err
	}
	return &CompilationState{
		Registry:   reg,
		Source:     source,
		Program:    prog,
		Provenance: prov,
	}, nil
}

// OnPassComplete is invoked once per pass with that pass's own
// diagnostics (not the running total) and how long it took. Callers use
// it to drive --verbose logging; RunPipeline itself never logs.
type OnPassComplete func(id PassID, diags []diag.Diagnostic, elapsed time.Duration)

func (s *CompilationState) finishPass(id PassID, diags []diag.Diagnostic, hasErr bool, start time.Time, onPassComplete OnPassComplete) error {
	elapsed := time.Since(start)
	s.Diagnostics = append(s.Diagnostics, diags...)
	s.Timings = append(s.Timings, PassTiming{Pass: id, Duration: elapsed})
	if onPassComplete != nil {
		onPassComplete(id, diags, elapsed)
	}
	if hasErr {
		s.HasError = true
		return &PipelineError{FailingPass: id}
	}
	return nil
}

// RunPipeline expands spawn clauses, then runs every pass RequiredPasses
// reports for terminal, in order. It stops and returns a *PipelineError
// the moment any pass's diagnostics include an error.
func RunPipeline(state *CompilationState, terminal PassID, codegenOpts codegen.Options, onPassComplete OnPassComplete) error {
	required := RequiredPasses(terminal)
	need := func(id PassID) bool {
		for _, p := range required {
			if p == id {
				return true
			}
		}
		return false
	}

	expanded, spawnDiags := astpdl.ExpandSpawns(state.Program)
	state.Program = expanded
	state.Diagnostics = append(state.Diagnostics, spawnDiags...)
	if diag.AnyError(spawnDiags) {
		state.HasError = true
		return &PipelineError{FailingPass: PassResolve}
	}

	if need(PassResolve) {
		start := time.Now()
		state.Resolved = resolve.Resolve(state.Program, state.Registry)
		if err := state.finishPass(PassResolve, state.Resolved.Diagnostics, state.Resolved.HasErrors(), start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassBuildHir) {
		start := time.Now()
		hirProg, cert, diags := hir.Build(state.Program, state.Resolved, state.Registry)
		state.HIR, state.HIRCert = hirProg, cert
		hasErr := diag.AnyError(diags)
		if !cert.AllPass() {
			diags = append(diags, diag.New(diag.Error, astpdl.Span{}, "HIR verification failed").WithCode(diag.E0600))
			hasErr = true
		}
		if err := state.finishPass(PassBuildHir, diags, hasErr, start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassTypeInfer) {
		start := time.Now()
		state.Typed = typeinfer.Infer(state.HIR, state.Registry)
		if err := state.finishPass(PassTypeInfer, state.Typed.Diagnostics, diag.AnyError(state.Typed.Diagnostics), start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassLower) {
		start := time.Now()
		state.Lowered = lower.LowerAndVerify(state.HIR, state.Typed, state.Registry)
		diags := state.Lowered.Diagnostics
		hasErr := state.Lowered.HasErrors()
		if !state.Lowered.Cert.AllPass() {
			diags = append(diags, diag.New(diag.Error, astpdl.Span{}, "lowering verification failed").WithCode(diag.E0601))
			hasErr = true
		}
		if err := state.finishPass(PassLower, diags, hasErr, start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassBuildGraph) {
		start := time.Now()
		state.Graph = graph.Build(state.HIR)
		if err := state.finishPass(PassBuildGraph, state.Graph.Diagnostics, state.Graph.HasErrors(), start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassAnalyze) || need(PassSchedule) || need(PassBuildLir) || need(PassCodegen) {
		if err := state.runThirAndDownstream(required, codegenOpts, onPassComplete); err != nil {
			return err
		}
	}

	return nil
}

// runThirAndDownstream builds the one ThirContext that Analyze, Schedule,
// BuildLir and Codegen all read from, then runs whichever of those four
// passes required names, in dependency order.
func (s *CompilationState) runThirAndDownstream(required []PassID, codegenOpts codegen.Options, onPassComplete OnPassComplete) error {
	need := func(id PassID) bool {
		for _, p := range required {
			if p == id {
				return true
			}
		}
		return false
	}

	s.Thir = thir.Build(s.HIR, s.Resolved, s.Typed, s.Lowered.Lowered, s.Registry, s.Graph.Graph)

	if need(PassAnalyze) {
		start := time.Now()
		s.Analysis = analyze.Analyze(s.Thir, s.Graph.Graph)
		if err := s.finishPass(PassAnalyze, s.Analysis.Diagnostics, s.Analysis.HasErrors(), start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassSchedule) {
		start := time.Now()
		s.Schedule = schedule.Schedule(s.Thir, s.Graph.Graph, s.Analysis)
		diags := s.Schedule.Diagnostics
		hasErr := s.Schedule.HasErrors()
		if !s.Schedule.Cert.AllPass() {
			diags = append(diags, diag.New(diag.Error, astpdl.Span{}, "schedule verification failed").WithCode(diag.E0602))
			hasErr = true
		}
		if err := s.finishPass(PassSchedule, diags, hasErr, start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassBuildLir) {
		start := time.Now()
		s.Lir = lir.BuildLir(s.Thir, s.Graph.Graph, s.Analysis, s.Schedule)
		diags := s.Lir.Diagnostics
		hasErr := s.Lir.HasErrors()
		if !s.Lir.Cert.AllPass() {
			diags = append(diags, diag.New(diag.Error, astpdl.Span{}, "LIR verification failed").WithCode(diag.E0603))
			hasErr = true
		}
		if err := s.finishPass(PassBuildLir, diags, hasErr, start, onPassComplete); err != nil {
			return err
		}
	}

	if need(PassCodegen) {
		start := time.Now()
		codegenOpts.Provenance = s.Provenance.SourceHashHex()
		s.Codegen = codegen.Codegen(s.Graph.Graph, s.Schedule, s.Lir, codegenOpts)
		if err := s.finishPass(PassCodegen, s.Codegen.Diagnostics, s.Codegen.HasErrors(), start, onPassComplete); err != nil {
			return err
		}
	}

	return nil
}
