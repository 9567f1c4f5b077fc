package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTasksFile(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, s.AllTasks())
}

func TestLoadFlattensSubtasksAndPersistsMasterShape(t *testing.T) {
	dir := t.TempDir()
	path := writeTasksFile(t, dir, `{
		"master": {
			"tasks": [
				{"id": "1", "title": "Parent", "status": "pending", "priority": "high",
				 "subtasks": [{"id": "1", "title": "Child", "status": "pending"}]}
			],
			"metadata": {"updated": "2026-01-01T00:00:00Z"}
		}
	}`)

	s, err := Load(path)
	require.NoError(t, err)

	all := s.AllTasks()
	require.Len(t, all, 2)

	var child *Task
	for _, ts := range all {
		if ts.ParentID == "1" {
			child = ts
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, "1.1", child.ID)

	require.NoError(t, s.UpdateStatus("1", StatusDone))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"master"`)
	assert.Contains(t, string(raw), `"subtasks"`)
}

func TestLoadAcceptsFlatAndBareArrayShapes(t *testing.T) {
	dir := t.TempDir()
	flatPath := writeTasksFile(t, dir, `{"tasks": [{"id": "1", "title": "A", "status": "pending"}]}`)
	s, err := Load(flatPath)
	require.NoError(t, err)
	assert.Len(t, s.AllTasks(), 1)

	bareDir := t.TempDir()
	barePath := filepath.Join(bareDir, "tasks.json")
	require.NoError(t, os.WriteFile(barePath, []byte(`[{"id": "1", "title": "A", "status": "pending"}]`), 0o644))
	s2, err := Load(barePath)
	require.NoError(t, err)
	assert.Len(t, s2.AllTasks(), 1)
}

func TestPendingOrdering(t *testing.T) {
	dir := t.TempDir()
	path := writeTasksFile(t, dir, `{"master":{"tasks":[
		{"id":"1","title":"low","status":"pending","priority":"low"},
		{"id":"2","title":"inprog","status":"in-progress","priority":"low"},
		{"id":"3","title":"critical","status":"pending","priority":"critical"}
	],"metadata":{"updated":"2026-01-01T00:00:00Z"}}}`)

	s, err := Load(path)
	require.NoError(t, err)

	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "2", pending[0].ID) // in-progress first
	assert.Equal(t, "3", pending[1].ID) // then by priority
	assert.Equal(t, "1", pending[2].ID)
}

func TestCreateFixTaskIncrementsRetryAndBlocksOnCapExceeded(t *testing.T) {
	dir := t.TempDir()
	path := writeTasksFile(t, dir, `{"master":{"tasks":[{"id":"7","title":"orig","status":"pending"}],"metadata":{"updated":"2026-01-01T00:00:00Z"}}}`)

	s, err := Load(path, WithMaxRetries(2))
	require.NoError(t, err)

	fix1, err := s.CreateFixTask("7", "syntax error at file.go:10", "")
	require.NoError(t, err)
	require.NotNil(t, fix1)
	assert.Equal(t, PriorityCritical, fix1.Priority)
	assert.Equal(t, []string{"7"}, fix1.Dependencies)

	fix2, err := s.CreateFixTask("7", "still failing", "")
	require.NoError(t, err)
	require.NotNil(t, fix2)

	fix3, err := s.CreateFixTask("7", "failing again", "")
	require.NoError(t, err)
	assert.Nil(t, fix3)

	var orig *Task
	for _, ts := range s.AllTasks() {
		if ts.ID == "7" {
			orig = ts
		}
	}
	require.NotNil(t, orig)
	assert.Equal(t, StatusBlocked, orig.Status)
}

func TestBaseIDStripsRecursiveFixWrappers(t *testing.T) {
	assert.Equal(t, "7", baseID("7"))
	assert.Equal(t, "7", baseID("fix-7-1700000000000"))
	assert.Equal(t, "7", baseID("fix-fix-7-1700000000000-1700000001000"))
}

func TestCreateFixTaskExtractsLineNumbersAndFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeTasksFile(t, dir, `{"master":{"tasks":[{"id":"1","title":"orig","status":"pending"}],"metadata":{"updated":"2026-01-01T00:00:00Z"}}}`)

	s, err := Load(path, WithMaxRetries(5))
	require.NoError(t, err)

	fix, err := s.CreateFixTask("1", "error at handler.go:42: undefined method", "")
	require.NoError(t, err)
	require.NotNil(t, fix)
	assert.Contains(t, fix.Description, "42")
	assert.Contains(t, fix.Description, "handler.go:42")
}

func TestReloadAddsNewTasksWithoutDisturbingKnownState(t *testing.T) {
	dir := t.TempDir()
	path := writeTasksFile(t, dir, `{"master":{"tasks":[{"id":"1","title":"orig","status":"pending"}],"metadata":{"updated":"2026-01-01T00:00:00Z"}}}`)

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus("1", StatusInProgress))

	require.NoError(t, os.WriteFile(path, []byte(`{"master":{"tasks":[
		{"id":"1","title":"orig","status":"pending"},
		{"id":"2","title":"new from reparse","status":"pending"}
	],"metadata":{"updated":"2026-01-02T00:00:00Z"}}}`), 0o644))

	added, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	all := s.AllTasks()
	require.Len(t, all, 2)
	for _, ts := range all {
		if ts.ID == "1" {
			assert.Equal(t, StatusInProgress, ts.Status, "existing task's in-memory status must survive reload")
		}
	}
}

func TestSavingAndReloadingMasterShapeYieldsIdenticalFlattenedList(t *testing.T) {
	dir := t.TempDir()
	path := writeTasksFile(t, dir, `{
		"master": {
			"tasks": [
				{"id": "1", "title": "Parent", "status": "pending", "priority": "high",
				 "subtasks": [{"id": "1", "title": "Child", "status": "pending", "priority": "medium"}]},
				{"id": "2", "title": "Other", "status": "done", "priority": "low", "dependencies": ["1"]}
			],
			"metadata": {"updated": "2026-01-01T00:00:00Z"}
		}
	}`)

	s, err := Load(path)
	require.NoError(t, err)
	before := s.AllTasks()

	// Persisting forces the nested->flat->nested->flat round trip the
	// canonical master shape is supposed to preserve exactly.
	require.NoError(t, s.UpdateStatus("2", StatusDone))

	reloaded, err := Load(path)
	require.NoError(t, err)
	after := reloaded.AllTasks()

	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("flattened task list changed across save/reload round trip (-before +after):\n%s", diff)
	}
}

func TestTargetFilesExtractsBarePathsFromDescription(t *testing.T) {
	tk := &Task{Description: "Update internal/scheduler/scheduler.go to add retry logic.", Details: "Also touch cmd/devloopd/main.go"}
	files := TargetFiles(tk)
	assert.Contains(t, files, "internal/scheduler/scheduler.go")
	assert.Contains(t, files, "cmd/devloopd/main.go")
}
