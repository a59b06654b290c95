package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardSessionOverflow_RenamesOversizedSession(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()

	sessionFile := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(sessionFile, []byte(strings.Repeat("x", 20000)), 0o644))

	manifestPath := filepath.Join(dir, "sessions.json")
	manifest := sessionsManifest{Sessions: []SessionEntry{{SessionFile: sessionFile, ContextTokens: 100}}}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, raw, 0o644))

	require.NoError(t, e.GuardSessionOverflow(manifestPath))

	_, err = os.Stat(sessionFile)
	assert.True(t, os.IsNotExist(err))

	matches, err := filepath.Glob(sessionFile + ".overflow-*.bak")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	updated, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var got sessionsManifest
	require.NoError(t, json.Unmarshal(updated, &got))
	require.Len(t, got.Sessions, 1)
	assert.Empty(t, got.Sessions[0].SessionFile)
}

func TestGuardSessionOverflow_LeavesSmallSessionsAlone(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()

	sessionFile := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(sessionFile, []byte("small"), 0o644))

	manifestPath := filepath.Join(dir, "sessions.json")
	manifest := sessionsManifest{Sessions: []SessionEntry{{SessionFile: sessionFile, ContextTokens: 100}}}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, raw, 0o644))

	require.NoError(t, e.GuardSessionOverflow(manifestPath))

	_, err = os.Stat(sessionFile)
	assert.NoError(t, err)
}

func TestGuardSessionOverflow_MissingManifestIsNotAnError(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.GuardSessionOverflow(filepath.Join(t.TempDir(), "missing.json")))
}
