package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

// trackTestSession records one observation so the session has a baseline.
func trackTestSession(t *testing.T, sessionID string, input, output int) *tracker.Result {
	t.Helper()
	tr, err := GetTracker()
	if err != nil {
		t.Fatalf("GetTracker() error = %v", err)
	}
	result, err := tr.Track(context.Background(), tracker.Params{
		SessionID:         sessionID,
		ContextInput:      input,
		ContextOutput:     output,
		ContextWindowSize: 200000,
	})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	return result
}

func TestRunSessionsList_NoSessions(t *testing.T) {
	setupTestRepo(t)

	var stdout bytes.Buffer
	if err := runSessionsList(context.Background(), &stdout); err != nil {
		t.Fatalf("runSessionsList() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "No tracked sessions found.") {
		t.Errorf("Expected 'No tracked sessions found.', got: %s", stdout.String())
	}
}

func TestRunSessionsList_ShowsSessions(t *testing.T) {
	setupTestRepo(t)

	trackTestSession(t, "list-session-a", 50000, 500)
	trackTestSession(t, "list-session-b", 30000, 200)

	var stdout bytes.Buffer
	if err := runSessionsList(context.Background(), &stdout); err != nil {
		t.Fatalf("runSessionsList() error = %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "session-id") {
		t.Errorf("Expected header row, got: %s", output)
	}
	if !strings.Contains(output, "list-session-a") {
		t.Errorf("Expected 'list-session-a' in output, got: %s", output)
	}
	if !strings.Contains(output, "list-session-b") {
		t.Errorf("Expected 'list-session-b' in output, got: %s", output)
	}
	if !strings.Contains(output, "0%") {
		t.Errorf("First observations should show 0%%, got: %s", output)
	}
	if !strings.Contains(output, "ctxmeter sessions show") {
		t.Errorf("Expected inspect hint, got: %s", output)
	}
}

func TestRunSessionsList_MarksCurrentSession(t *testing.T) {
	setupTestRepo(t)

	trackTestSession(t, "current-session", 50000, 500)
	trackTestSession(t, "other-session", 30000, 200)

	if err := paths.WriteCurrentSession("current-session"); err != nil {
		t.Fatalf("WriteCurrentSession() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runSessionsList(context.Background(), &stdout); err != nil {
		t.Fatalf("runSessionsList() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "* current-session") {
		t.Errorf("Expected current session marked with '*', got: %s", stdout.String())
	}
	if strings.Contains(stdout.String(), "* other-session") {
		t.Errorf("Only the current session should be marked, got: %s", stdout.String())
	}
}

func TestRunSessionsList_PendingReset(t *testing.T) {
	setupTestRepo(t)

	store, err := marker.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := tracker.WriteReset(context.Background(), store, "pending-session", "compact"); err != nil {
		t.Fatalf("WriteReset() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runSessionsList(context.Background(), &stdout); err != nil {
		t.Fatalf("runSessionsList() error = %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "pending-session") {
		t.Errorf("Pending sessions should still be listed, got: %s", output)
	}
	if !strings.Contains(output, "pending") {
		t.Errorf("Expected 'pending' usage placeholder, got: %s", output)
	}
}

func TestRunSessionsList_Disabled(t *testing.T) {
	setupTestRepo(t)
	writeSettings(t, testSettingsDisabled)

	var stdout bytes.Buffer
	if err := runSessionsList(context.Background(), &stdout); err != nil {
		t.Fatalf("runSessionsList() error = %v", err)
	}

	if !strings.Contains(stdout.String(), DisabledMessage) {
		t.Errorf("Expected disabled message, got: %s", stdout.String())
	}
}

func TestRunSessionsShow_NotFound(t *testing.T) {
	setupTestRepo(t)

	var stdout bytes.Buffer
	err := runSessionsShow(context.Background(), &stdout, "missing-session", true)
	if err == nil {
		t.Fatal("runSessionsShow() should return error for unknown session")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Errorf("Error should mention 'session not found', got: %v", err)
	}
}

func TestRunSessionsShow_ShowsUsage(t *testing.T) {
	setupTestRepo(t)

	trackTestSession(t, "show-session", 50000, 500)

	var stdout bytes.Buffer
	if err := runSessionsShow(context.Background(), &stdout, "show-session", true); err != nil {
		t.Fatalf("runSessionsShow() error = %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Session:    show-session") {
		t.Errorf("Expected session line, got: %s", output)
	}
	// Default 200000-token window at the default safety fraction
	if !strings.Contains(output, "Usage:      0% of 155.0k-token budget") {
		t.Errorf("Expected usage line, got: %s", output)
	}
	if !strings.Contains(output, "Baseline:   50.5k tokens") {
		t.Errorf("Expected baseline line, got: %s", output)
	}
	if !strings.Contains(output, "Last total: 50.5k tokens") {
		t.Errorf("Expected last total line, got: %s", output)
	}
}

func TestRunSessionsShow_PendingReset(t *testing.T) {
	setupTestRepo(t)

	store, err := marker.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := tracker.WriteReset(context.Background(), store, "pending-session", "clear"); err != nil {
		t.Fatalf("WriteReset() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runSessionsShow(context.Background(), &stdout, "pending-session", true); err != nil {
		t.Fatalf("runSessionsShow() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "reset pending (session_start_clear)") {
		t.Errorf("Expected pending reset state, got: %s", stdout.String())
	}
}

func TestRunSessionsShow_IncludesHistory(t *testing.T) {
	setupTestRepo(t)

	result := trackTestSession(t, "history-session", 50000, 500)

	journalStore, err := journal.NewStore()
	if err != nil {
		t.Fatalf("journal.NewStore() error = %v", err)
	}
	if err := journalStore.Append(context.Background(), journal.Entry{
		SessionID:  result.SessionID,
		Total:      result.CurrentTotal,
		Percentage: result.Percentage,
		Prompt:     "add retry logic to the fetcher",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runSessionsShow(context.Background(), &stdout, "history-session", true); err != nil {
		t.Fatalf("runSessionsShow() error = %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "History:") {
		t.Errorf("Expected history section, got: %s", output)
	}
	if !strings.Contains(output, `"add retry logic to the fetcher"`) {
		t.Errorf("Expected quoted prompt in history, got: %s", output)
	}
}

func TestRunSessionsShow_ResetLayerInHistory(t *testing.T) {
	setupTestRepo(t)

	journalStore, err := journal.NewStore()
	if err != nil {
		t.Fatalf("journal.NewStore() error = %v", err)
	}
	if err := journalStore.Append(context.Background(), journal.Entry{
		SessionID:  "reset-history",
		Total:      20000,
		Percentage: 0,
		ResetLayer: "token_drop",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	trackTestSession(t, "reset-history", 20000, 0)

	var stdout bytes.Buffer
	if err := runSessionsShow(context.Background(), &stdout, "reset-history", true); err != nil {
		t.Fatalf("runSessionsShow() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "reset:token_drop") {
		t.Errorf("Expected reset layer in history, got: %s", stdout.String())
	}
}

func TestTruncateForDisplay(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short passthrough", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"multibyte runes", "héllo wörld", 8, "héllo..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateForDisplay(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("truncateForDisplay(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}
