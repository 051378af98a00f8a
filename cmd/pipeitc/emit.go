package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/viant/afs"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/pipeline"
	"github.com/tmineno/pipeit/internal/schedule"
)

// runEmitAST prints the spawn-expanded AST as indented JSON. Spawn
// expansion runs here too (mirroring what RunPipeline does internally)
// so --emit ast shows what every later pass actually sees.
func runEmitAST(prog astpdl.Program) error {
	expanded, diags := astpdl.ExpandSpawns(prog)
	hadErrors := reportDiagnostics(os.Stdout, diags, false)
	data, err := json.MarshalIndent(expanded, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return finishOK(hadErrors)
}

func runManifest(ctx context.Context, fs afs.Service, opts *cliOptions) error {
	reg, err := loadRegistry(ctx, fs, opts.includes, opts.actorPaths, opts.actorMeta)
	if err != nil {
		return err
	}
	out, err := reg.CanonicalJSON()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// runBuildInfo never parses sourcePath as JSON: spec.md §7 allows
// --emit build-info even when the source is not parse-valid, since
// provenance binds to the raw source bytes, not to anything derived
// from them.
func runBuildInfo(ctx context.Context, fs afs.Service, opts *cliOptions, sourcePath string) error {
	rawSource, err := fs.DownloadWithURL(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("reading source %s: %w", sourcePath, err)
	}
	reg, err := loadRegistry(ctx, fs, opts.includes, opts.actorPaths, opts.actorMeta)
	if err != nil {
		return err
	}
	prov, err := pipeline.ComputeProvenance(string(rawSource), reg)
	if err != nil {
		return err
	}
	out, err := prov.ToJSON()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func renderGraphText(state *pipeline.CompilationState) string {
	data, _ := json.MarshalIndent(state.Graph.Graph, "", "  ")
	return string(data)
}

func renderScheduleText(state *pipeline.CompilationState) string {
	data, _ := json.MarshalIndent(state.Schedule.Scheduled, "", "  ")
	return string(data)
}

func renderLirText(state *pipeline.CompilationState) string {
	data, _ := json.MarshalIndent(state.Lir.Lir, "", "  ")
	return string(data)
}

func renderGantt(state *pipeline.CompilationState) string {
	return schedule.RenderGantt(state.Schedule.Scheduled, state.Graph.Graph)
}
