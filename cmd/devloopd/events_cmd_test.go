package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunEventsWithNoLogFileYetSucceeds(t *testing.T) {
	ws := t.TempDir()

	workspace = ws
	configPath = "devloop.yaml"
	defer func() { workspace = ""; configPath = "devloop.yaml" }()

	require.NoError(t, runEvents(eventsCmd, nil))
}

func TestRunEventsReadsAppendedJSONLines(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".devloop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".devloop", "events.jsonl"),
		[]byte(`{"id":1,"type":"task:complete","severity":"info","timestamp":"2026-01-01T00:00:00Z"}`+"\n"+
			`{"id":2,"type":"task:blocked","severity":"warn","timestamp":"2026-01-01T00:00:01Z"}`+"\n"),
		0o644))

	workspace = ws
	configPath = "devloop.yaml"
	eventsSince = 0
	eventsTypes = nil
	eventsLimit = 100
	defer func() { workspace = ""; configPath = "devloop.yaml" }()

	require.NoError(t, runEvents(eventsCmd, nil))
}

func TestRunEventsFiltersBySince(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".devloop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".devloop", "events.jsonl"),
		[]byte(`{"id":1,"type":"task:complete","severity":"info","timestamp":"2026-01-01T00:00:00Z"}`+"\n"),
		0o644))

	workspace = ws
	configPath = "devloop.yaml"
	eventsSince = 1
	eventsTypes = nil
	eventsLimit = 100
	defer func() { workspace = ""; configPath = "devloop.yaml"; eventsSince = 0 }()

	require.NoError(t, runEvents(eventsCmd, nil))
}
