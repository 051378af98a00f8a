package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// newWatchCmd recompiles sourcePath every time it changes on disk, the
// way a file watcher drives incremental reindexing elsewhere in the
// pack: add the file (and its directory, since editors often replace a
// file rather than writing it in place) to an fsnotify.Watcher and
// recompile on every Write/Create event, debounced slightly so a
// editor's multi-event save doesn't trigger redundant rebuilds.
func newWatchCmd(opts *cliOptions) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [source]",
		Short: "Recompile a PDL source file whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], debounce)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "quiet period after a change before recompiling")
	return cmd
}

func runWatch(opts *cliOptions, sourcePath string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(sourcePath); err != nil {
		return fmt.Errorf("watching %s: %w", sourcePath, err)
	}
	if err := watcher.Add(filepath.Dir(sourcePath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(sourcePath), err)
	}

	recompile := func() {
		ctx := ctxForRun()
		if err := runCompile(ctx, opts, sourcePath); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	recompile()

	var timer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(sourcePath) || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, recompile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "watch error:", err)
		}
	}
}
