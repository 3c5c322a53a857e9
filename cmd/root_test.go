// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCmd_VersionFlag tests if the --version flag works correctly.
func TestRootCmd_VersionFlag(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--version"})

	err := rootCmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), Version)
}

// TestRootCmd_NoArgs tests the behavior when no arguments are provided.
func TestRootCmd_NoArgs(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{})

	err := rootCmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Pilot drives a real browser from natural language goals.")
}

func TestRunCmd_Registered(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "run [goal]", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("headless"))
	assert.NotNil(t, cmd.Flags().Lookup("auto-approve"))
}
