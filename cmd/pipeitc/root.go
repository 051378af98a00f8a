package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/afs"

	"github.com/tmineno/pipeit/internal/codegen"
)

// cliOptions collects every persistent flag the root command exposes:
// source/output paths, registry inputs, the emit mode, codegen and
// build-tool options, and logging/config knobs.
type cliOptions struct {
	output      string
	includes    []string
	actorPaths  []string
	actorMeta   string
	emit        string
	release     bool
	cc          string
	cflags      string
	verbose     bool
	logFormat   string
	diagFormat  string
	projectToml string
	tickRate    float64
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           "pipeitc [source]",
		Short:         "Compile a PDL program into a generated task-graph runtime",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyProjectConfig(cmd, opts); err != nil {
				return newUsageError("loading %s: %v", opts.projectToml, err)
			}
			return runCompile(cmd.Context(), opts, args[0])
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "a.out", "output path")
	cmd.PersistentFlags().StringArrayVarP(&opts.includes, "include", "I", nil, "actor metadata manifest to merge into the registry (repeatable)")
	cmd.PersistentFlags().StringArrayVar(&opts.actorPaths, "actor-path", nil, "directory of actor metadata manifests to merge (repeatable)")
	cmd.PersistentFlags().StringVar(&opts.actorMeta, "actor-meta", "", "single manifest JSON for a hermetic build (conflicts with --emit manifest)")
	cmd.PersistentFlags().StringVar(&opts.emit, "emit", "exe", "ast|manifest|build-info|graph|schedule|lir|cpp|exe|dot|gantt")
	cmd.PersistentFlags().BoolVar(&opts.release, "release", false, "enable release-mode codegen")
	cmd.PersistentFlags().StringVar(&opts.cc, "cc", "c++", "C++ compiler invoked for --emit exe")
	cmd.PersistentFlags().StringVar(&opts.cflags, "cflags", "-O2", "flags passed to --cc")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log per-pass timing at debug level")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "text|json")
	cmd.PersistentFlags().StringVar(&opts.diagFormat, "diagnostic-format", "text", "text|json")
	cmd.PersistentFlags().StringVar(&opts.projectToml, "config", "pipeit.toml", "project config file")

	cmd.AddCommand(newWatchCmd(opts))
	return cmd
}

func newLogger(opts *cliOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

func newAfs() afs.Service { return afs.New() }

// codegenOptionsFrom builds the codegen.Options this run's flags imply.
// Provenance is filled in by the pipeline itself once it has computed it.
func codegenOptionsFrom(opts *cliOptions) codegen.Options {
	return codegen.Options{
		Release:      opts.release,
		IncludePaths: append(append([]string(nil), opts.includes...), opts.actorPaths...),
	}
}

func validateFlagCombination(opts *cliOptions) error {
	if opts.actorMeta != "" && opts.emit == "manifest" {
		return newUsageError("--actor-meta cannot be combined with --emit manifest (E0700)")
	}
	if opts.actorMeta != "" && (len(opts.includes) > 0 || len(opts.actorPaths) > 0) {
		return newUsageError("--actor-meta cannot be combined with --include/--actor-path")
	}
	switch opts.emit {
	case "ast", "manifest", "build-info", "graph", "schedule", "lir", "cpp", "exe", "dot", "gantt":
	default:
		return newUsageError("unknown --emit mode %q", opts.emit)
	}
	switch opts.diagFormat {
	case "text", "json":
	default:
		return newUsageError("unknown --diagnostic-format %q", opts.diagFormat)
	}
	return nil
}

func ctxForRun() context.Context { return context.Background() }

// applyProjectConfig fills in cc/cflags/actor-path from pipeit.toml for
// whichever of those flags the user did not pass explicitly. An
// explicit flag always wins over the config file.
func applyProjectConfig(cmd *cobra.Command, opts *cliOptions) error {
	cfg, err := loadProjectConfig(opts.projectToml)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("cc") && cfg.CC != "" {
		opts.cc = cfg.CC
	}
	if !cmd.Flags().Changed("cflags") && cfg.CFlags != "" {
		opts.cflags = cfg.CFlags
	}
	if !cmd.Flags().Changed("actor-path") {
		opts.actorPaths = append(opts.actorPaths, cfg.ActorPath...)
	}
	opts.tickRate = cfg.TickRate
	return nil
}
