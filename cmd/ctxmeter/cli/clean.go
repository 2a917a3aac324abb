package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
)

// staleMarkerAge is how long a marker can go without a write before
// clean considers its session abandoned.
const staleMarkerAge = 30 * 24 * time.Hour

type cleanupType string

const (
	cleanupTypeStaleMarker     cleanupType = "stale-marker"
	cleanupTypeOrphanedJournal cleanupType = "orphaned-journal"
	cleanupTypeTempFile        cleanupType = "temp-file"
)

// cleanupItem represents a stale or orphaned item that can be cleaned up.
type cleanupItem struct {
	Type   cleanupType
	ID     string // Session ID or file name
	Path   string // Absolute path, set for file-based deletion
	Reason string // Why this item is considered stale
}

// cleanupResult contains the results of a cleanup operation.
type cleanupResult struct {
	StaleMarkers     []string // Deleted marker session IDs
	OrphanedJournals []string // Deleted journal file names
	TempFiles        []string // Deleted temp file names
	FailedMarkers    []string // Markers that failed to delete
	FailedJournals   []string // Journals that failed to delete
	FailedTempFiles  []string // Temp files that failed to delete
}

func newCleanCmd() *cobra.Command {
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean up stale ctxmeter data",
		Long: `Remove stale ctxmeter data that wasn't cleaned up automatically.

This command finds and removes:

  Stale markers (.ctxmeter/context/<session-id>.json)
    Track per-session baselines. Considered stale when the session has
    not recorded an observation for 30 days.

  Orphaned journals (.ctxmeter/journal/<session-id>.jsonl)
    Usage history for sessions whose marker no longer exists, usually
    after a reset that predates journal cleanup.

  Leftover temp files (.ctxmeter/context/*.tmp)
    Partial writes left behind by an interrupted marker save.

Default: shows a preview of items that would be deleted.
With --force, actually deletes the items.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd.Context(), cmd.OutOrStdout(), forceFlag)
		},
	}

	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Actually delete items (default: dry run)")

	return cmd
}

func runClean(ctx context.Context, w io.Writer, force bool) error {
	items, err := listCleanupItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stale items: %w", err)
	}

	return runCleanWithItems(ctx, w, force, items)
}

// runCleanWithItems is the core logic for cleaning stale items.
// Separated for testability.
func runCleanWithItems(ctx context.Context, w io.Writer, force bool, items []cleanupItem) error {
	// Handle no items case
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing to clean up.")
		return nil
	}

	// Group items by type for display
	var markers, journals, tempFiles []cleanupItem
	for _, item := range items {
		switch item.Type {
		case cleanupTypeStaleMarker:
			markers = append(markers, item)
		case cleanupTypeOrphanedJournal:
			journals = append(journals, item)
		case cleanupTypeTempFile:
			tempFiles = append(tempFiles, item)
		}
	}

	// Preview mode (default)
	if !force {
		fmt.Fprintf(w, "Found %d items to clean up:\n\n", len(items))

		if len(markers) > 0 {
			fmt.Fprintf(w, "Stale markers (%d):\n", len(markers))
			for _, item := range markers {
				fmt.Fprintf(w, "  %s (%s)\n", item.ID, item.Reason)
			}
			fmt.Fprintln(w)
		}

		if len(journals) > 0 {
			fmt.Fprintf(w, "Orphaned journals (%d):\n", len(journals))
			for _, item := range journals {
				fmt.Fprintf(w, "  %s\n", item.ID)
			}
			fmt.Fprintln(w)
		}

		if len(tempFiles) > 0 {
			fmt.Fprintf(w, "Leftover temp files (%d):\n", len(tempFiles))
			for _, item := range tempFiles {
				fmt.Fprintf(w, "  %s\n", item.ID)
			}
			fmt.Fprintln(w)
		}

		fmt.Fprintln(w, "Run with --force to delete these items.")
		return nil
	}

	// Force mode - delete items
	result := deleteCleanupItems(ctx, items)

	// Report results
	totalDeleted := len(result.StaleMarkers) + len(result.OrphanedJournals) + len(result.TempFiles)
	totalFailed := len(result.FailedMarkers) + len(result.FailedJournals) + len(result.FailedTempFiles)

	if totalDeleted > 0 {
		fmt.Fprintf(w, "Deleted %d items:\n", totalDeleted)

		if len(result.StaleMarkers) > 0 {
			fmt.Fprintf(w, "\n  Stale markers (%d):\n", len(result.StaleMarkers))
			for _, id := range result.StaleMarkers {
				fmt.Fprintf(w, "    %s\n", id)
			}
		}

		if len(result.OrphanedJournals) > 0 {
			fmt.Fprintf(w, "\n  Orphaned journals (%d):\n", len(result.OrphanedJournals))
			for _, name := range result.OrphanedJournals {
				fmt.Fprintf(w, "    %s\n", name)
			}
		}

		if len(result.TempFiles) > 0 {
			fmt.Fprintf(w, "\n  Temp files (%d):\n", len(result.TempFiles))
			for _, name := range result.TempFiles {
				fmt.Fprintf(w, "    %s\n", name)
			}
		}
	}

	if totalFailed > 0 {
		fmt.Fprintf(w, "\nFailed to delete %d items:\n", totalFailed)

		if len(result.FailedMarkers) > 0 {
			fmt.Fprintf(w, "\n  Stale markers:\n")
			for _, id := range result.FailedMarkers {
				fmt.Fprintf(w, "    %s\n", id)
			}
		}

		if len(result.FailedJournals) > 0 {
			fmt.Fprintf(w, "\n  Orphaned journals:\n")
			for _, name := range result.FailedJournals {
				fmt.Fprintf(w, "    %s\n", name)
			}
		}

		if len(result.FailedTempFiles) > 0 {
			fmt.Fprintf(w, "\n  Temp files:\n")
			for _, name := range result.FailedTempFiles {
				fmt.Fprintf(w, "    %s\n", name)
			}
		}

		return fmt.Errorf("failed to delete %d items", totalFailed)
	}

	return nil
}

// listCleanupItems scans the context and journal directories for stale
// markers, orphaned journals and leftover temp files.
func listCleanupItems(ctx context.Context) ([]cleanupItem, error) {
	store, err := marker.NewStore()
	if err != nil {
		return nil, err
	}
	journalStore, err := journal.NewStore()
	if err != nil {
		return nil, err
	}

	var items []cleanupItem

	// Stale markers: no observation recorded within staleMarkerAge
	markers, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range markers {
		age := time.Since(time.UnixMilli(m.Timestamp))
		if age > staleMarkerAge {
			items = append(items, cleanupItem{
				Type:   cleanupTypeStaleMarker,
				ID:     m.SessionID,
				Reason: "last write " + timeAgo(time.UnixMilli(m.Timestamp)),
			})
		}
	}

	// Orphaned journals: journal file with no matching marker
	journalEntries, err := os.ReadDir(journalStore.Dir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range journalEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		sessionID := strings.TrimSuffix(entry.Name(), ".jsonl")
		markerFile := filepath.Join(store.Dir(), sessionID+".json")
		if _, statErr := os.Stat(markerFile); os.IsNotExist(statErr) {
			items = append(items, cleanupItem{
				Type: cleanupTypeOrphanedJournal,
				ID:   entry.Name(),
				Path: filepath.Join(journalStore.Dir(), entry.Name()),
			})
		}
	}

	// Leftover temp files from interrupted marker saves
	contextEntries, err := os.ReadDir(store.Dir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range contextEntries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		items = append(items, cleanupItem{
			Type: cleanupTypeTempFile,
			ID:   entry.Name(),
			Path: filepath.Join(store.Dir(), entry.Name()),
		})
	}

	return items, nil
}

// deleteCleanupItems deletes the given items, collecting successes and
// failures per type.
func deleteCleanupItems(ctx context.Context, items []cleanupItem) *cleanupResult {
	result := &cleanupResult{}

	store, storeErr := marker.NewStore()
	journalStore, journalErr := journal.NewStore()

	for _, item := range items {
		switch item.Type {
		case cleanupTypeStaleMarker:
			if storeErr != nil || store.Delete(ctx, item.ID) != nil {
				result.FailedMarkers = append(result.FailedMarkers, item.ID)
				continue
			}
			// A stale session's journal goes with it. Failures here
			// surface as orphaned journals on the next run.
			if journalErr == nil {
				_ = journalStore.Delete(ctx, item.ID) //nolint:errcheck
			}
			result.StaleMarkers = append(result.StaleMarkers, item.ID)
		case cleanupTypeOrphanedJournal:
			if err := os.Remove(item.Path); err != nil {
				result.FailedJournals = append(result.FailedJournals, item.ID)
				continue
			}
			result.OrphanedJournals = append(result.OrphanedJournals, item.ID)
		case cleanupTypeTempFile:
			if err := os.Remove(item.Path); err != nil {
				result.FailedTempFiles = append(result.FailedTempFiles, item.ID)
				continue
			}
			result.TempFiles = append(result.TempFiles, item.ID)
		}
	}

	return result
}
