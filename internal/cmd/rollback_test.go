package cmd

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRollbackRejectsGenerationZero(t *testing.T) {
	root := NewRootCmd("test")
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"os", "rollback", "--to", "0", "--no-checks"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid generation number 0")
}
