package execshell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSucceeds(t *testing.T) {
	e := New(nil)
	res, err := e.Run(context.Background(), Command{Binary: "echo", Args: []string{"hi"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "hi")
}

func TestRunRejectsDisallowedBinary(t *testing.T) {
	e := New([]string{"go"})
	_, err := e.Run(context.Background(), Command{Binary: "rm", Args: []string{"-rf", "/"}})
	assert.Error(t, err)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	e := New(nil)
	res, err := e.Run(context.Background(), Command{Binary: "false"})
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestRunTestCommandEmptyCommandIsSuccess(t *testing.T) {
	e := New(nil)
	res, err := e.RunTestCommand(context.Background(), nil, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}
