package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jienckebd/devloop/internal/diff"
	"github.com/jienckebd/devloop/internal/logging"
	"github.com/jienckebd/devloop/internal/validation"
)

// applyChanges writes a validated change-set to disk: create/update
// write full content, patch applies each search/replace pair in order
// (using the possibly fuzz-corrected Search the Validation Gate already
// rewrote in place), and delete removes the file. Operations run in
// order; the first failure aborts the remaining ones, since a partially
// applied change-set is exactly what the next fix-task attempt needs to
// see to diagnose what happened. log may be nil (logging disabled); when
// enabled, each update/patch records a hunk-based before/after summary via
// internal/diff, the only production call site for that package's Engine.
func applyChanges(changes []validation.Change, log *logging.Logger) error {
	for _, c := range changes {
		if err := applyOne(c, log); err != nil {
			return fmt.Errorf("apply %s (%s): %w", c.Path, c.Kind, err)
		}
	}
	return nil
}

func applyOne(c validation.Change, log *logging.Logger) error {
	switch c.Kind {
	case validation.OpCreate:
		if dir := filepath.Dir(c.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return os.WriteFile(c.Path, []byte(c.Content), 0o644)

	case validation.OpUpdate:
		before, _ := os.ReadFile(c.Path)
		if dir := filepath.Dir(c.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := os.WriteFile(c.Path, []byte(c.Content), 0o644); err != nil {
			return err
		}
		logApplyDiff(log, c.Path, string(before), c.Content)
		return nil

	case validation.OpPatch:
		content, err := os.ReadFile(c.Path)
		if err != nil {
			return err
		}
		before := string(content)
		text := before
		for _, p := range c.Patches {
			if !strings.Contains(text, p.Search) {
				return fmt.Errorf("patch anchor no longer present: %q", truncate(p.Search, 60))
			}
			text = strings.Replace(text, p.Search, p.Replace, 1)
		}
		if err := os.WriteFile(c.Path, []byte(text), 0o644); err != nil {
			return err
		}
		logApplyDiff(log, c.Path, before, text)
		return nil

	case validation.OpDelete:
		err := os.Remove(c.Path)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("unknown operation kind %q", c.Kind)
	}
}

// logApplyDiff records the hunk-based apply log entry for one update/patch
// operation. When log is nil or disabled (debug_mode off, the production
// default) the diff computation itself is skipped, not just its output.
func logApplyDiff(log *logging.Logger, path, before, after string) {
	if log == nil || !log.Enabled() {
		return
	}
	fd := diff.ComputeDiff(path, path, before, after)
	log.Info("applied %s:\n%s", path, diff.Summarize(fd))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// decodePayload unmarshals an IPC message's raw JSON payload into v.
func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
