package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := GetRootCmd()
	assert.Equal(t, "selune", cmd.Use)
	assert.Equal(t, version, cmd.Version)
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"chat", "serve", "sessions"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := GetRootCmd()
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestSessionsSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range sessionsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["delete"])
}
