package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tmineno/pipeit/internal/diag"
)

// exitCode mirrors spec.md §7: 0 success, 1 diagnostic errors, 2 usage
// errors (bad flags, conflicting options, I/O failures before any
// diagnostic could even be produced).
const (
	exitOK          = 0
	exitDiagnostics = 1
	exitUsage       = 2
)

// usageError marks a failure that should exit 2 rather than 1: wrong
// flag combinations, missing files, malformed JSON input. Diagnostic
// errors the compiler itself emits during compilation are plain
// diag.Diagnostic values and exit 1, never this.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func newUsageError(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// reportDiagnostics writes diags to w in the requested format and
// reports whether any of them is an error (the caller uses this to pick
// between exitOK and exitDiagnostics).
func reportDiagnostics(w io.Writer, diags []diag.Diagnostic, jsonFormat bool) bool {
	enc := json.NewEncoder(w)
	for _, d := range diags {
		if jsonFormat {
			_ = enc.Encode(d.ToJSON())
			continue
		}
		fmt.Fprintln(w, d.String())
	}
	return diag.AnyError(diags)
}
