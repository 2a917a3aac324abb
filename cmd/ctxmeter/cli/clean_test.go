package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

// writeStaleMarker saves a marker whose last write predates the stale
// cutoff.
func writeStaleMarker(t *testing.T, sessionID string) {
	t.Helper()
	store, err := marker.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	stale := time.Now().Add(-(staleMarkerAge + 24*time.Hour))
	if err := store.Save(context.Background(), &marker.Marker{
		SessionID:        sessionID,
		Trigger:          "new_session",
		BaselineRecorded: true,
		Baseline:         1000,
		LastTokenTotal:   2000,
		Timestamp:        stale.UnixMilli(),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestRunClean_NothingToCleanUp(t *testing.T) {
	setupTestRepo(t)

	var stdout bytes.Buffer
	if err := runClean(context.Background(), &stdout, false); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "Nothing to clean up.") {
		t.Errorf("Expected 'Nothing to clean up.', got: %s", stdout.String())
	}
}

func TestListCleanupItems_StaleMarker(t *testing.T) {
	setupTestRepo(t)

	writeStaleMarker(t, "stale-session")
	trackTestSession(t, "fresh-session", 1000, 0)

	items, err := listCleanupItems(context.Background())
	if err != nil {
		t.Fatalf("listCleanupItems() error = %v", err)
	}

	var staleIDs []string
	for _, item := range items {
		if item.Type == cleanupTypeStaleMarker {
			staleIDs = append(staleIDs, item.ID)
		}
	}
	if len(staleIDs) != 1 || staleIDs[0] != "stale-session" {
		t.Errorf("Expected only 'stale-session' as stale, got: %v", staleIDs)
	}
}

func TestListCleanupItems_OrphanedJournal(t *testing.T) {
	tmpDir := setupTestRepo(t)

	// Journal with a matching marker: not orphaned
	trackTestSession(t, "kept-session", 1000, 0)
	journalStore := journal.NewStoreWithDir(filepath.Join(tmpDir, paths.JournalDir))
	if err := journalStore.Append(context.Background(), journal.Entry{SessionID: "kept-session", Total: 1000}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	// Journal without a marker: orphaned
	if err := journalStore.Append(context.Background(), journal.Entry{SessionID: "orphan-session", Total: 1000}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	items, err := listCleanupItems(context.Background())
	if err != nil {
		t.Fatalf("listCleanupItems() error = %v", err)
	}

	var orphaned []string
	for _, item := range items {
		if item.Type == cleanupTypeOrphanedJournal {
			orphaned = append(orphaned, item.ID)
		}
	}
	if len(orphaned) != 1 || orphaned[0] != "orphan-session.jsonl" {
		t.Errorf("Expected only 'orphan-session.jsonl' as orphaned, got: %v", orphaned)
	}
}

func TestListCleanupItems_TempFiles(t *testing.T) {
	tmpDir := setupTestRepo(t)

	contextDir := filepath.Join(tmpDir, paths.ContextStateDir)
	if err := os.MkdirAll(contextDir, 0o755); err != nil {
		t.Fatalf("Failed to create context dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(contextDir, "abc.json.tmp"), []byte("{"), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	items, err := listCleanupItems(context.Background())
	if err != nil {
		t.Fatalf("listCleanupItems() error = %v", err)
	}

	var tempFiles []string
	for _, item := range items {
		if item.Type == cleanupTypeTempFile {
			tempFiles = append(tempFiles, item.ID)
		}
	}
	if len(tempFiles) != 1 || tempFiles[0] != "abc.json.tmp" {
		t.Errorf("Expected only 'abc.json.tmp' as leftover, got: %v", tempFiles)
	}
}

func TestRunClean_PreviewMode(t *testing.T) {
	tmpDir := setupTestRepo(t)

	writeStaleMarker(t, "stale-session")
	journalStore := journal.NewStoreWithDir(filepath.Join(tmpDir, paths.JournalDir))
	if err := journalStore.Append(context.Background(), journal.Entry{SessionID: "orphan-session", Total: 1000}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runClean(context.Background(), &stdout, false); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Found 2 items to clean up:") {
		t.Errorf("Expected item count, got: %s", output)
	}
	if !strings.Contains(output, "Stale markers (1):") {
		t.Errorf("Expected stale markers section, got: %s", output)
	}
	if !strings.Contains(output, "stale-session") {
		t.Errorf("Expected 'stale-session' in output, got: %s", output)
	}
	if !strings.Contains(output, "Orphaned journals (1):") {
		t.Errorf("Expected orphaned journals section, got: %s", output)
	}
	if !strings.Contains(output, "--force") {
		t.Errorf("Expected '--force' hint, got: %s", output)
	}

	// Preview mode must not delete anything
	markerFile := filepath.Join(tmpDir, paths.ContextStateDir, "stale-session.json")
	if _, err := os.Stat(markerFile); err != nil {
		t.Error("Stale marker should still exist after preview")
	}
	journalFile := filepath.Join(tmpDir, paths.JournalDir, "orphan-session.jsonl")
	if _, err := os.Stat(journalFile); err != nil {
		t.Error("Orphaned journal should still exist after preview")
	}
}

func TestRunClean_ForceMode(t *testing.T) {
	tmpDir := setupTestRepo(t)

	writeStaleMarker(t, "stale-session")
	journalStore := journal.NewStoreWithDir(filepath.Join(tmpDir, paths.JournalDir))
	if err := journalStore.Append(context.Background(), journal.Entry{SessionID: "orphan-session", Total: 1000}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runClean(context.Background(), &stdout, true); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "Deleted 2 items:") {
		t.Errorf("Expected deletion report, got: %s", stdout.String())
	}

	markerFile := filepath.Join(tmpDir, paths.ContextStateDir, "stale-session.json")
	if _, err := os.Stat(markerFile); !os.IsNotExist(err) {
		t.Error("Stale marker should be deleted")
	}
	journalFile := filepath.Join(tmpDir, paths.JournalDir, "orphan-session.jsonl")
	if _, err := os.Stat(journalFile); !os.IsNotExist(err) {
		t.Error("Orphaned journal should be deleted")
	}
}

func TestRunClean_StaleMarkerTakesJournalAlong(t *testing.T) {
	tmpDir := setupTestRepo(t)

	writeStaleMarker(t, "stale-session")
	journalStore := journal.NewStoreWithDir(filepath.Join(tmpDir, paths.JournalDir))
	if err := journalStore.Append(context.Background(), journal.Entry{SessionID: "stale-session", Total: 1000}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := runClean(context.Background(), &stdout, true); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}

	journalFile := filepath.Join(tmpDir, paths.JournalDir, "stale-session.jsonl")
	if _, err := os.Stat(journalFile); !os.IsNotExist(err) {
		t.Error("The stale session's journal should go with its marker")
	}
}

func TestRunCleanWithItems_PartialFailure(t *testing.T) {
	tmpDir := setupTestRepo(t)

	contextDir := filepath.Join(tmpDir, paths.ContextStateDir)
	if err := os.MkdirAll(contextDir, 0o755); err != nil {
		t.Fatalf("Failed to create context dir: %v", err)
	}
	tmpFile := filepath.Join(contextDir, "real.json.tmp")
	if err := os.WriteFile(tmpFile, []byte("{"), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	items := []cleanupItem{
		{Type: cleanupTypeTempFile, ID: "real.json.tmp", Path: tmpFile},
		{Type: cleanupTypeTempFile, ID: "ghost.json.tmp", Path: filepath.Join(contextDir, "ghost.json.tmp")},
	}

	var stdout bytes.Buffer
	err := runCleanWithItems(context.Background(), &stdout, true, items)
	if err == nil {
		t.Fatal("runCleanWithItems() should return error when items fail to delete")
	}
	if !strings.Contains(err.Error(), "failed to delete 1 items") {
		t.Errorf("Error should mention the failure count, got: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "Deleted 1 items:") {
		t.Errorf("Output should show the successful deletion, got: %s", output)
	}
	if !strings.Contains(output, "Failed to delete 1 items:") {
		t.Errorf("Output should show the failure, got: %s", output)
	}
}

func TestRunCleanWithItems_NoItems(t *testing.T) {
	setupTestRepo(t)

	var stdout bytes.Buffer
	if err := runCleanWithItems(context.Background(), &stdout, false, nil); err != nil {
		t.Fatalf("runCleanWithItems() error = %v", err)
	}

	if !strings.Contains(stdout.String(), "Nothing to clean up.") {
		t.Errorf("Expected 'Nothing to clean up.', got: %s", stdout.String())
	}
}
