package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ctxmeter status",
		Long:  "Show whether ctxmeter is currently enabled, plus context usage of tracked sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

func runStatus(w io.Writer) error {
	// Check if we're in a git repository
	if _, repoErr := paths.RepoRoot(); repoErr != nil {
		fmt.Fprintln(w, "✕ not a git repository")
		return nil //nolint:nilerr // Not being in a git repo is a valid status, not an error
	}

	// Get absolute paths for settings files
	settingsPath, err := paths.AbsPath(CtxmeterSettingsFile)
	if err != nil {
		settingsPath = CtxmeterSettingsFile
	}
	localSettingsPath, err := paths.AbsPath(CtxmeterSettingsLocalFile)
	if err != nil {
		localSettingsPath = CtxmeterSettingsLocalFile
	}

	// Check which settings files exist
	_, projectErr := os.Stat(settingsPath)
	if projectErr != nil && !errors.Is(projectErr, fs.ErrNotExist) {
		return fmt.Errorf("cannot access project settings file: %w", projectErr)
	}
	_, localErr := os.Stat(localSettingsPath)
	if localErr != nil && !errors.Is(localErr, fs.ErrNotExist) {
		return fmt.Errorf("cannot access local settings file: %w", localErr)
	}
	projectExists := projectErr == nil
	localExists := localErr == nil

	if !projectExists && !localExists {
		fmt.Fprintln(w, "○ not set up (run `ctxmeter enable` to get started)")
		return nil
	}

	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if settings.Enabled {
		fmt.Fprintln(w, "● enabled")
		writeTrackedSessions(w, settings)
	} else {
		fmt.Fprintln(w, "○ disabled")
	}
	return nil
}

// timeAgo formats a time as a human-readable relative duration.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		return fmt.Sprintf("%dm ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		return fmt.Sprintf("%dh ago", h)
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd ago", days)
	}
}

// formatTokens renders a token count compactly: 950, 58.1k, 1.2M.
func formatTokens(n int) string {
	switch {
	case n >= 1000000:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// writeTrackedSessions writes one usage line per tracked session, newest
// first. Pending reset markers (no baseline yet) are not shown.
func writeTrackedSessions(w io.Writer, settings *CtxmeterSettings) {
	store, err := marker.NewStore()
	if err != nil {
		return
	}

	markers, err := store.List(context.Background())
	if err != nil || len(markers) == 0 {
		return
	}

	var tracked []*marker.Marker
	for _, m := range markers {
		if m.BaselineRecorded {
			tracked = append(tracked, m)
		}
	}
	if len(tracked) == 0 {
		return
	}

	// Newest first
	sort.Slice(tracked, func(i, j int) bool {
		return tracked[i].Timestamp > tracked[j].Timestamp
	})

	tr := tracker.NewWithSafetyFraction(store, settings.SafetyFraction)
	window := settings.ContextWindowFor("")

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tracked Sessions:")
	for _, m := range tracked {
		snap, ok, err := tr.Snapshot(context.Background(), m.SessionID, window)
		if err != nil || !ok {
			continue
		}

		shortID := m.SessionID
		if len(shortID) > 7 {
			shortID = shortID[:7]
		}

		age := timeAgo(time.UnixMilli(m.Timestamp))
		fmt.Fprintf(w, "  %-9s %3d%%  %s tokens  %s\n",
			shortID, snap.Percentage, formatTokens(snap.LastTotal), age)
	}
}
