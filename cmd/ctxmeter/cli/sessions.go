package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and inspect tracked sessions",
		Long:  "Commands for viewing per-session context usage state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Bare `ctxmeter sessions` behaves like `sessions list`
			return runSessionsList(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())

	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tracked sessions",
		Long:  "List every session with tracking state under .ctxmeter/context/",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	var noPagerFlag bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's usage history",
		Long:  "Show the tracked state and journal history for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), cmd.OutOrStdout(), args[0], noPagerFlag)
		},
	}

	cmd.Flags().BoolVar(&noPagerFlag, "no-pager", false, "Disable pager output")

	return cmd
}

func runSessionsList(ctx context.Context, w io.Writer) error {
	if checkDisabledGuard(w) {
		return nil
	}

	store, err := marker.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open marker store: %w", err)
	}

	markers, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(markers) == 0 {
		fmt.Fprintln(w, "No tracked sessions found.")
		return nil
	}

	// Most recently updated first; ties break on ID for stable output
	sort.Slice(markers, func(i, j int) bool {
		if markers[i].Timestamp == markers[j].Timestamp {
			return markers[i].SessionID > markers[j].SessionID
		}
		return markers[i].Timestamp > markers[j].Timestamp
	})

	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	tr := tracker.NewWithSafetyFraction(store, settings.SafetyFraction)
	window := settings.ContextWindowFor("")

	// Get current session ID for marking (ignore error, empty string is fine)
	currentSessionID, readErr := paths.ReadCurrentSession()
	if readErr != nil {
		currentSessionID = ""
	}

	// Print header (2-space indent to align with marker column)
	fmt.Fprintf(w, "  %-36s  %-7s  %-8s  %s\n", "session-id", "Usage", "Tokens", "Updated")
	fmt.Fprintf(w, "  %-36s  %-7s  %-8s  %s\n",
		strings.Repeat("─", 36), strings.Repeat("─", 7), strings.Repeat("─", 8), strings.Repeat("─", 11))

	for _, m := range markers {
		// Mark current session
		mark := "  "
		if currentSessionID != "" && m.SessionID == currentSessionID {
			mark = "* "
		}

		usage := "pending"
		tokens := "-"
		if m.BaselineRecorded {
			snap, ok, snapErr := tr.Snapshot(ctx, m.SessionID, window)
			if snapErr != nil || !ok {
				continue
			}
			usage = fmt.Sprintf("%d%%", snap.Percentage)
			tokens = formatTokens(snap.LastTotal)
		}

		fmt.Fprintf(w, "%s%-36s  %-7s  %-8s  %s\n",
			mark, m.SessionID, usage, tokens, timeAgo(time.UnixMilli(m.Timestamp)))
	}

	// Print usage hint
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Inspect a session: ctxmeter sessions show <session-id>")

	return nil
}

func runSessionsShow(ctx context.Context, w io.Writer, sessionID string, noPager bool) error {
	if checkDisabledGuard(w) {
		return nil
	}

	store, err := marker.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open marker store: %w", err)
	}

	m, err := store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if m == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	tr := tracker.NewWithSafetyFraction(store, settings.SafetyFraction)
	window := settings.ContextWindowFor("")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session:    %s\n", m.SessionID)

	snap, ok, err := tr.Snapshot(ctx, sessionID, window)
	if err == nil && ok {
		budget := int(float64(window) * tr.SafetyFraction())
		fmt.Fprintf(&sb, "Usage:      %d%% of %s-token budget\n", snap.Percentage, formatTokens(budget))
		fmt.Fprintf(&sb, "Baseline:   %s tokens\n", formatTokens(snap.Baseline))
		fmt.Fprintf(&sb, "Last total: %s tokens\n", formatTokens(snap.LastTotal))
		fmt.Fprintf(&sb, "Updated:    %s\n", time.UnixMilli(snap.UpdatedAt).Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(&sb, "State:      reset pending (%s)\n", m.Trigger)
	}

	writeSessionHistory(ctx, &sb, sessionID)

	content := sb.String()
	if noPager {
		fmt.Fprint(w, content)
		return nil
	}
	outputWithPager(w, content)
	return nil
}

// writeSessionHistory appends the per-turn journal samples, oldest first.
// A missing or unreadable journal just means no history section.
func writeSessionHistory(ctx context.Context, sb *strings.Builder, sessionID string) {
	journalStore, err := journal.NewStore()
	if err != nil {
		return
	}

	entries, err := journalStore.Read(ctx, sessionID)
	if err != nil || len(entries) == 0 {
		return
	}

	sb.WriteString("\nHistory:\n")
	for _, e := range entries {
		fmt.Fprintf(sb, "  %s  %3d%%  %-8s",
			time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05"), e.Percentage, formatTokens(e.Total))
		if e.ResetLayer != "" {
			fmt.Fprintf(sb, "  reset:%s", e.ResetLayer)
		}
		if e.Prompt != "" {
			fmt.Fprintf(sb, "  %q", truncateForDisplay(e.Prompt, 60))
		}
		sb.WriteString("\n")
	}
}

// truncateForDisplay shortens s to at most maxLen runes for table output.
func truncateForDisplay(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// outputWithPager outputs content through a pager if stdout is a terminal and content is long.
func outputWithPager(w io.Writer, content string) {
	// Check if we're writing to stdout and it's a terminal
	if f, ok := w.(*os.File); ok && f == os.Stdout && term.IsTerminal(int(f.Fd())) {
		// Get terminal height
		_, height, err := term.GetSize(int(f.Fd()))
		if err != nil {
			height = 24 // Default fallback
		}

		// Count lines in content
		lineCount := strings.Count(content, "\n")

		// Use pager if content exceeds terminal height
		if lineCount > height-2 {
			pager := os.Getenv("PAGER")
			if pager == "" {
				pager = "less"
			}

			cmd := exec.CommandContext(context.Background(), pager) //nolint:gosec // pager from env is expected
			cmd.Stdin = strings.NewReader(content)
			cmd.Stdout = f
			cmd.Stderr = os.Stderr

			if err := cmd.Run(); err != nil {
				// Fallback to direct output if pager fails
				fmt.Fprint(w, content)
			}
			return
		}
	}

	// Direct output for non-terminal or short content
	fmt.Fprint(w, content)
}
