package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

// asClaudeCodeHook runs the test as if the claude-code hook command had
// dispatched it, which is how handlers resolve their agent.
func asClaudeCodeHook(t *testing.T) {
	t.Helper()
	currentHookAgentName = "claude-code"
	t.Cleanup(func() { currentHookAgentName = "" })
}

// withHookStdin feeds the handler the JSON payload the agent would pipe in.
func withHookStdin(t *testing.T, payload string) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() { os.Stdin = orig })
}

// muteHookStdout discards the hook response JSON the handler writes.
func muteHookStdout(t *testing.T) {
	t.Helper()

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = orig
		_ = devNull.Close() //nolint:errcheck
	})
}

// TestHandleClaudeCodeSessionStart_Clear verifies that a session-start
// event with source "clear" persists the session ID and leaves a pending
// reset marker for the next observation.
func TestHandleClaudeCodeSessionStart_Clear(t *testing.T) {
	setupTestRepo(t)
	asClaudeCodeHook(t)
	withHookStdin(t, `{"session_id":"wiring-clear-session","transcript_path":"","source":"clear"}`)

	require.NoError(t, handleClaudeCodeSessionStart())

	sid, err := paths.ReadCurrentSession()
	require.NoError(t, err)
	assert.Equal(t, "wiring-clear-session", sid,
		"session-start should persist the current session ID")

	store, err := marker.NewStore()
	require.NoError(t, err)
	m, err := store.Load(context.Background(), "wiring-clear-session")
	require.NoError(t, err)
	require.NotNil(t, m, "session-start with source=clear should write a marker")

	assert.Equal(t, tracker.TriggerClear, m.Trigger)
	assert.False(t, m.BaselineRecorded,
		"reset marker should wait for the next observation to measure a baseline")
}

// TestHandleClaudeCodeSessionStart_Startup verifies that startup and
// resume sources carry existing tracking state forward untouched.
func TestHandleClaudeCodeSessionStart_Startup(t *testing.T) {
	setupTestRepo(t)
	trackTestSession(t, "wiring-startup-session", 50000, 500)

	asClaudeCodeHook(t)
	withHookStdin(t, `{"session_id":"wiring-startup-session","transcript_path":"","source":"startup"}`)

	require.NoError(t, handleClaudeCodeSessionStart())

	store, err := marker.NewStore()
	require.NoError(t, err)
	m, err := store.Load(context.Background(), "wiring-startup-session")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.True(t, m.BaselineRecorded, "startup should not reset tracking state")
	assert.Equal(t, 50500, m.Baseline)
}

// TestHandleClaudeCodeSessionStart_MissingSessionID verifies the handler
// rejects input without a session ID instead of writing stray state.
func TestHandleClaudeCodeSessionStart_MissingSessionID(t *testing.T) {
	setupTestRepo(t)
	asClaudeCodeHook(t)
	withHookStdin(t, `{"source":"clear"}`)

	err := handleClaudeCodeSessionStart()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session_id")
}

// TestHandleClaudeCodePreCompact verifies that pre-compact flips a tracked
// session back to a pending compact reset.
func TestHandleClaudeCodePreCompact(t *testing.T) {
	setupTestRepo(t)
	trackTestSession(t, "wiring-compact-session", 50000, 500)

	asClaudeCodeHook(t)
	withHookStdin(t, `{"session_id":"wiring-compact-session","transcript_path":"","trigger":"auto"}`)

	require.NoError(t, handleClaudeCodePreCompact())

	store, err := marker.NewStore()
	require.NoError(t, err)
	m, err := store.Load(context.Background(), "wiring-compact-session")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, tracker.TriggerCompact, m.Trigger)
	assert.False(t, m.BaselineRecorded)
}

// TestHandleClaudeCodeUserPromptSubmit verifies the prompt hook records an
// observation and journals it with the prompt text.
func TestHandleClaudeCodeUserPromptSubmit(t *testing.T) {
	tmpDir := setupTestRepo(t)
	transcriptPath := writeTranscriptFixture(t, tmpDir, 1000, 2000, 47000, 500)

	asClaudeCodeHook(t)
	muteHookStdout(t)
	withHookStdin(t, fmt.Sprintf(
		`{"session_id":"wiring-prompt-session","transcript_path":%q,"prompt":"wire the flux capacitor"}`,
		transcriptPath))

	require.NoError(t, handleClaudeCodeUserPromptSubmit())

	store, err := marker.NewStore()
	require.NoError(t, err)
	m, err := store.Load(context.Background(), "wiring-prompt-session")
	require.NoError(t, err)
	require.NotNil(t, m, "prompt hook should record an observation")

	assert.True(t, m.BaselineRecorded)
	assert.Equal(t, 50500, m.LastTokenTotal)

	journalStore := journal.NewStoreWithDir(filepath.Join(tmpDir, paths.JournalDir))
	entries, err := journalStore.Read(context.Background(), "wiring-prompt-session")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wire the flux capacitor", entries[0].Prompt)
}

// TestHandleClaudeCodeStop verifies the stop hook advances the session's
// last observed total past the recorded baseline.
func TestHandleClaudeCodeStop(t *testing.T) {
	tmpDir := setupTestRepo(t)
	trackTestSession(t, "wiring-stop-session", 50000, 500)

	transcriptPath := writeTranscriptFixture(t, tmpDir, 81000, 0, 0, 500)

	asClaudeCodeHook(t)
	muteHookStdout(t)
	withHookStdin(t, fmt.Sprintf(
		`{"session_id":"wiring-stop-session","transcript_path":%q,"stop_hook_active":false}`,
		transcriptPath))

	require.NoError(t, handleClaudeCodeStop())

	store, err := marker.NewStore()
	require.NoError(t, err)
	m, err := store.Load(context.Background(), "wiring-stop-session")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, 50500, m.Baseline, "stop should not move the baseline")
	assert.Equal(t, 81500, m.LastTokenTotal)
}
