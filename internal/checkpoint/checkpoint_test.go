package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestCreateAssignsIDAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.json")
	s, err := Load(path)
	require.NoError(t, err)

	cp, err := s.Create(context.Background(), "prd-1", "phase-2", CreationTestPass, "", false, "")
	require.NoError(t, err)
	assert.Contains(t, cp.ID, "prd-1-phase-phase-2-")
	assert.Equal(t, CreationTestPass, cp.Type)
	assert.Empty(t, cp.CommitHash)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.All(), 1)
}

func TestCommitHashLookupFailsSilentlyOutsideRepo(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)

	cp, err := s.Create(context.Background(), "prd-1", "phase-1", CreationManual, t.TempDir(), true, "")
	require.NoError(t, err)
	assert.Empty(t, cp.CommitHash)
}

func TestLatestReturnsMostRecentForPhase(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "checkpoints.json"))
	require.NoError(t, err)

	_, err = s.Create(context.Background(), "prd-1", "phase-1", CreationTaskCompletion, "", false, "")
	require.NoError(t, err)
	_, err = s.Create(context.Background(), "prd-1", "phase-2", CreationTaskCompletion, "", false, "")
	require.NoError(t, err)
	second, err := s.Create(context.Background(), "prd-1", "phase-1", CreationValidationPass, "", false, "")
	require.NoError(t, err)

	latest, ok := s.Latest("prd-1", "phase-1")
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	_, ok = s.Latest("prd-1", "phase-missing")
	assert.False(t, ok)
}
