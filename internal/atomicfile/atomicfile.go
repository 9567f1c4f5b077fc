// Package atomicfile implements the write discipline shared by the Task
// Store, Hierarchical Metrics, and Checkpoint persistence:
// serialize to a temp file, verify it round-trips, then rename over the
// target. Built on github.com/google/renameio/v2, which already performs
// the tmp-write, fsync, and atomic-rename sequence safely (including the
// directory fsync most hand-rolled versions skip).
package atomicfile

import (
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
)

// WriteJSON marshals v to JSON and atomically writes it to path, verifying
// the written bytes unmarshal cleanly into a fresh value of the same shape
// before the temp file is renamed into place (renameio renames only after
// the write+fsync succeeds, so a partial write never reaches path).
// verify, when non-nil, is called with the round-tripped bytes so callers
// can check shape invariants beyond "valid JSON" (e.g. "master.tasks is
// present").
func WriteJSON(path string, v interface{}, verify func([]byte) error) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	// Round-trip check before ever touching disk: catches encoder bugs
	// early without a second filesystem round-trip.
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("round-trip check failed for %s: %w", path, err)
	}
	if verify != nil {
		if err := verify(data); err != nil {
			return fmt.Errorf("shape check failed for %s: %w", path, err)
		}
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads and unmarshals the JSON file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := renameio.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
