package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunTasksSucceedsAgainstAPopulatedStore(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "tasks.json"), []byte(`{"master":{"tasks":[
		{"id":"1","title":"write handler","status":"pending"},
		{"id":"2","title":"add tests","status":"done"}
	],"metadata":{"updated":"2026-01-01T00:00:00Z"}}}`), 0o644))

	workspace = ws
	configPath = "devloop.yaml"
	defer func() { workspace = ""; configPath = "devloop.yaml" }()

	require.NoError(t, runTasks(tasksCmd, nil))
}

func TestRunTasksSucceedsAgainstAnEmptyStore(t *testing.T) {
	ws := t.TempDir()

	workspace = ws
	configPath = "devloop.yaml"
	defer func() { workspace = ""; configPath = "devloop.yaml" }()

	require.NoError(t, runTasks(tasksCmd, nil))
}
