package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLI_RegistersExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"put", "get", "list", "search", "semantic-search", "recall", "add-entity", "consolidate", "security-log", "stats", "pipeline", "tick"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestCLI_PutThenGetRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGENT_MEMORY_DB", home+"/.openclaw/memory/cli-test.db")

	RootCmd.SetArgs([]string{"put", "Kevin", "favorite_editor", "neovim"})
	require.NoError(t, RootCmd.Execute())

	RootCmd.SetArgs([]string{"get", "Kevin", "favorite_editor"})
	require.NoError(t, RootCmd.Execute())
}

func TestCLI_StatsRunsCleanOnEmptyStore(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGENT_MEMORY_DB", home+"/.openclaw/memory/cli-test.db")

	RootCmd.SetArgs([]string{"stats"})
	require.NoError(t, RootCmd.Execute())
}
