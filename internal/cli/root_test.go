package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := GetRootCmd()
	assert.Equal(t, "semfs", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.Equal(t, version, cmd.Version)
}

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, sub := range GetRootCmd().Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"start", "stop", "status", "search", "configure"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := GetRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), version)
}

func TestSearchRequiresQuery(t *testing.T) {
	cmd := GetRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"search"})

	assert.Error(t, cmd.Execute())
}
