// Command pipeitc compiles a PDL program into a generated task-graph
// runtime. See root.go for the flag surface.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCmd()
	cmd.SetContext(ctxForRun())

	err := cmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintln(os.Stderr, err)

	var usageErr *usageError
	if errors.As(err, &usageErr) {
		os.Exit(exitUsage)
	}
	if errors.Is(err, errDiagnostics) {
		os.Exit(exitDiagnostics)
	}
	os.Exit(exitUsage)
}
