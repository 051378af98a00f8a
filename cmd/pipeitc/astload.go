package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"

	"github.com/tmineno/pipeit/internal/astpdl"
)

// loadProgram reads sourcePath, the narrow JSON interface the lexer and
// parser (external to this compiler, per the language's own scope)
// hand off to the rest of the pipeline: a serialized astpdl.Program.
// Returns the raw bytes too, since provenance binds to that byte-stable
// text rather than to any in-memory representation of it.
func loadProgram(ctx context.Context, fs afs.Service, sourcePath string) (astpdl.Program, []byte, error) {
	data, err := fs.DownloadWithURL(ctx, sourcePath)
	if err != nil {
		return astpdl.Program{}, nil, fmt.Errorf("reading source %s: %w", sourcePath, err)
	}
	var prog astpdl.Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return astpdl.Program{}, nil, fmt.Errorf("parsing source ast %s: %w", sourcePath, err)
	}
	return prog, data, nil
}
