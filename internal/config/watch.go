package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// WatchFile watches a single file (the tasks file, or a learned-pattern
// file) for external rewrites — the PRD parser and other out-of-process
// collaborators write these files directly — and invokes onChange whenever
// fsnotify observes a Write or Create event for it. Adapted from the
// teacher's internal/core/mangle_watcher.go fsnotify-watcher idiom, narrowed
// to a single file instead of a directory tree of rule files.
//
// WatchFile blocks until ctx is cancelled or the watcher errors
// unrecoverably; callers typically run it in its own goroutine.
func WatchFile(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				onChange()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Transient watcher errors (e.g. EINTR) are non-fatal; keep
			// watching rather than tearing down the loop.
		}
	}
}
