package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/pipeline"
)

func TestValidateFlagCombinationRejectsActorMetaWithEmitManifest(t *testing.T) {
	opts := &cliOptions{actorMeta: "actors.json", emit: "manifest"}
	err := validateFlagCombination(opts)
	require.Error(t, err)
	var usageErr *usageError
	require.ErrorAs(t, err, &usageErr)
}

func TestValidateFlagCombinationRejectsActorMetaWithIncludes(t *testing.T) {
	opts := &cliOptions{actorMeta: "actors.json", includes: []string{"a.json"}, emit: "exe"}
	err := validateFlagCombination(opts)
	require.Error(t, err)
}

func TestValidateFlagCombinationRejectsUnknownEmit(t *testing.T) {
	opts := &cliOptions{emit: "bogus"}
	require.Error(t, validateFlagCombination(opts))
}

func TestValidateFlagCombinationAcceptsEveryCanonicalEmitMode(t *testing.T) {
	for _, mode := range []string{"ast", "manifest", "build-info", "graph", "schedule", "lir", "cpp", "exe", "dot", "gantt"} {
		opts := &cliOptions{emit: mode, diagFormat: "text"}
		assert.NoError(t, validateFlagCombination(opts), "mode %s", mode)
	}
}

func TestValidateFlagCombinationRejectsUnknownDiagnosticFormat(t *testing.T) {
	opts := &cliOptions{emit: "exe", diagFormat: "yaml"}
	require.Error(t, validateFlagCombination(opts))
}

func TestTerminalForEmitMapsEachModeToExpectedPass(t *testing.T) {
	cases := map[string]pipeline.PassID{
		"graph":    pipeline.PassBuildGraph,
		"dot":      pipeline.PassBuildGraph,
		"schedule": pipeline.PassSchedule,
		"gantt":    pipeline.PassSchedule,
		"lir":      pipeline.PassBuildLir,
		"cpp":      pipeline.PassCodegen,
		"exe":      pipeline.PassCodegen,
	}
	for mode, want := range cases {
		assert.Equal(t, want, terminalForEmit(mode), "mode %s", mode)
	}
}

func TestLoadProjectConfigReturnsZeroValueWhenFileMissing(t *testing.T) {
	cfg, err := loadProjectConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, ProjectConfig{}, cfg)
}

func TestLoadProjectConfigParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeit.toml")
	contents := `tick_rate = 48000.0
cc = "clang++"
cflags = "-O3"
actor_path = ["./actors", "./vendor/actors"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := loadProjectConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 48000.0, cfg.TickRate)
	assert.Equal(t, "clang++", cfg.CC)
	assert.Equal(t, "-O3", cfg.CFlags)
	assert.Equal(t, []string{"./actors", "./vendor/actors"}, cfg.ActorPath)
}

func TestApplyDefaultTickRatePrependsSetStmtWhenAbsent(t *testing.T) {
	prog := astpdl.Program{Statements: []astpdl.Statement{{Kind: astpdl.StmtTask}}}
	out := applyDefaultTickRate(prog, 48000)
	require.Len(t, out.Statements, 2)
	require.Equal(t, astpdl.StmtSet, out.Statements[0].Kind)
	assert.Equal(t, "tick_rate", out.Statements[0].Set.Name.Name)
	assert.Equal(t, astpdl.SetFreq, out.Statements[0].Set.Value.Kind)
	assert.Equal(t, 48000.0, out.Statements[0].Set.Value.Number)
}

func TestApplyDefaultTickRateLeavesExplicitSourceDirectiveAlone(t *testing.T) {
	prog := astpdl.Program{Statements: []astpdl.Statement{
		{Kind: astpdl.StmtSet, Set: &astpdl.SetStmt{
			Name:  astpdl.Ident{Name: "tick_rate"},
			Value: astpdl.SetValue{Kind: astpdl.SetFreq, Number: 96000},
		}},
	}}
	out := applyDefaultTickRate(prog, 48000)
	require.Len(t, out.Statements, 1)
	assert.Equal(t, 96000.0, out.Statements[0].Set.Value.Number)
}

func TestApplyDefaultTickRateNoOpWhenRateZero(t *testing.T) {
	prog := astpdl.Program{Statements: []astpdl.Statement{{Kind: astpdl.StmtTask}}}
	out := applyDefaultTickRate(prog, 0)
	assert.Equal(t, prog, out)
}
