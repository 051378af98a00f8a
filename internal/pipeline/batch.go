package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tmineno/pipeit/internal/astpdl"
	"github.com/tmineno/pipeit/internal/codegen"
	"github.com/tmineno/pipeit/internal/registry"
)

// Job is one source file's compilation input.
type Job struct {
	Name        string
	Source      string
	Program     astpdl.Program
	Registry    *registry.Registry
	Terminal    PassID
	CodegenOpts codegen.Options
}

// BatchResult pairs a Job's name with the CompilationState RunPipeline
// produced for it, or the error building/running the pipeline returned.
type BatchResult struct {
	Name  string
	State *CompilationState
	Err   error
}

// RunBatch compiles every job concurrently, at most limit at a time (0
// means unlimited). Unlike a typical errgroup usage, one job's error
// does not cancel its siblings: a compilation error in one source file
// is that file's own diagnostic, not a reason to abort independent
// compilations sharing only the calling process. Each CompilationState
// is wholly owned by its job. Results are returned in the same order
// jobs were given.
func RunBatch(ctx context.Context, jobs []Job, limit int) []BatchResult {
	results := make([]BatchResult, len(jobs))
	eg, _ := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}

	for i, job := range jobs {
		i, job := i, job
		eg.Go(func() error {
			state, err := NewCompilationState(job.Source, job.Program, job.Registry)
			if err != nil {
				results[i] = BatchResult{Name: job.Name, Err: err}
				return nil
			}
			runErr := RunPipeline(state, job.Terminal, job.CodegenOpts, nil)
			results[i] = BatchResult{Name: job.Name, State: state, Err: runErr}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
