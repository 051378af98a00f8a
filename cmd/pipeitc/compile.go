package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/codegen"
	"github.com/tmineno/pipeit/internal/diag"
	"github.com/tmineno/pipeit/internal/pipeline"
)

// applyDefaultTickRate prepends a `set tick_rate = ...` statement when
// rate is positive and the source does not already declare its own.
// pipeit.toml's tick_rate is a project-wide default, not an override.
func applyDefaultTickRate(prog astpdl.Program, rate float64) astpdl.Program {
	if rate <= 0 {
		return prog
	}
	for _, stmt := range prog.Statements {
		if stmt.Kind == astpdl.StmtSet && stmt.Set != nil && stmt.Set.Name.Name == "tick_rate" {
			return prog
		}
	}
	defaultSet := astpdl.Statement{
		Kind: astpdl.StmtSet,
		Set: &astpdl.SetStmt{
			Name:  astpdl.Ident{Name: "tick_rate"},
			Value: astpdl.SetValue{Kind: astpdl.SetFreq, Number: rate},
		},
	}
	prog.Statements = append([]astpdl.Statement{defaultSet}, prog.Statements...)
	return prog
}

// terminalForEmit maps an --emit mode to the last pipeline pass it
// needs. ast, manifest, and build-info need no pass at all; they are
// handled before this table is consulted.
func terminalForEmit(emit string) pipeline.PassID {
	switch emit {
	case "graph", "dot":
		return pipeline.PassBuildGraph
	case "schedule", "gantt":
		return pipeline.PassSchedule
	case "lir":
		return pipeline.PassBuildLir
	case "cpp", "exe":
		return pipeline.PassCodegen
	default:
		return pipeline.PassCodegen
	}
}

func runCompile(ctx context.Context, opts *cliOptions, sourcePath string) error {
	if err := validateFlagCombination(opts); err != nil {
		return err
	}

	logger := newLogger(opts)
	fs := newAfs()

	switch opts.emit {
	case "build-info":
		return runBuildInfo(ctx, fs, opts, sourcePath)
	case "manifest":
		return runManifest(ctx, fs, opts)
	}

	prog, rawSource, err := loadProgram(ctx, fs, sourcePath)
	if err != nil {
		return err
	}

	if opts.emit == "ast" {
		return runEmitAST(prog)
	}

	reg, err := loadRegistry(ctx, fs, opts.includes, opts.actorPaths, opts.actorMeta)
	if err != nil {
		return err
	}

	prog = applyDefaultTickRate(prog, opts.tickRate)

	state, err := pipeline.NewCompilationState(string(rawSource), prog, reg)
	if err != nil {
		return err
	}

	terminal := terminalForEmit(opts.emit)
	onPass := func(id pipeline.PassID, diags []diag.Diagnostic, elapsed time.Duration) {
		logger.Debug("pass complete", "pass", id.String(), "elapsed", elapsed, "diagnostics", len(diags))
	}

	runErr := pipeline.RunPipeline(state, terminal, codegenOptionsFrom(opts), onPass)

	hadErrors := reportDiagnostics(os.Stdout, state.Diagnostics, opts.diagFormat == "json")
	if runErr != nil {
		if hadErrors {
			return errDiagnostics
		}
		return runErr
	}

	switch opts.emit {
	case "graph":
		fmt.Fprintln(os.Stdout, renderGraphText(state))
		return finishOK(hadErrors)
	case "dot":
		fmt.Println(codegen.RenderDOT(state.Graph.Graph))
		return finishOK(hadErrors)
	case "schedule":
		fmt.Fprintln(os.Stdout, renderScheduleText(state))
		return finishOK(hadErrors)
	case "gantt":
		fmt.Println(renderGantt(state))
		return finishOK(hadErrors)
	case "lir":
		fmt.Fprintln(os.Stdout, renderLirText(state))
		return finishOK(hadErrors)
	case "cpp":
		return writeOutput(opts.output, state.Codegen.Generated.Source)
	case "exe":
		return compileToExe(opts, state.Codegen.Generated.Source)
	}
	return finishOK(hadErrors)
}

// errDiagnostics is a sentinel distinguishing "the pipeline itself
// failed" (exit 1, already reported) from usageError (exit 2).
var errDiagnostics = fmt.Errorf("compilation reported diagnostic errors")

func finishOK(hadErrors bool) error {
	if hadErrors {
		return errDiagnostics
	}
	return nil
}

func writeOutput(path, contents string) error {
	if path == "" || path == "-" {
		fmt.Print(contents)
		return nil
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func compileToExe(opts *cliOptions, cppSource string) error {
	tmp, err := os.CreateTemp("", "pipeitc-*.cpp")
	if err != nil {
		return fmt.Errorf("writing temporary cpp source: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(cppSource); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temporary cpp source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	args := append(strings.Fields(opts.cflags), "-o", opts.output, tmp.Name())
	cmd := exec.Command(opts.cc, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", opts.cc, err)
	}
	return nil
}
