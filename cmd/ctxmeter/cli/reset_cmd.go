package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

func newResetCmd() *cobra.Command {
	var forceFlag bool
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "reset [session-id]",
		Short: "Delete tracking state for a session",
		Long: `Reset deletes the stored tracking state for one session, or all sessions.

This clears the baseline marker and journal so the next observation
starts a fresh baseline.

The command will:
  - Delete the session marker (.ctxmeter/context/<session-id>.json)
  - Delete the session journal (.ctxmeter/journal/<session-id>.jsonl)

Use --all to clear state for every tracked session.

Without --force, prompts for confirmation before deleting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Check if in git repository
			if _, err := paths.RepoRoot(); err != nil {
				return errors.New("not a git repository")
			}

			if allFlag && len(args) > 0 {
				return errors.New("cannot combine --all with a session ID")
			}

			if allFlag {
				return runResetAll(cmd.Context(), cmd.OutOrStdout(), forceFlag)
			}

			if len(args) == 0 {
				return errors.New("specify a session ID or pass --all")
			}
			return runResetSession(cmd.Context(), cmd.OutOrStdout(), args[0], forceFlag)
		},
	}

	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&allFlag, "all", false, "Reset all tracked sessions")

	return cmd
}

// runResetSession deletes the marker and journal for a single session.
func runResetSession(ctx context.Context, w io.Writer, sessionID string, force bool) error {
	store, err := marker.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open marker store: %w", err)
	}

	// Verify the session exists
	m, err := store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if m == nil {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	if !force {
		var confirmed bool

		title := fmt.Sprintf("Reset session %s?", sessionID)
		description := describeMarker(m)

		form := NewAccessibleForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(title).
					Description(description).
					Value(&confirmed),
			),
		)

		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return fmt.Errorf("failed to get confirmation: %w", err)
		}

		if !confirmed {
			return nil
		}
	}

	if err := store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete marker: %w", err)
	}
	if err := deleteSessionJournal(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete journal: %w", err)
	}

	fmt.Fprintf(w, "Session %s has been reset. The next observation records a fresh baseline.\n", sessionID)
	return nil
}

// runResetAll clears the marker and journal stores entirely.
func runResetAll(ctx context.Context, w io.Writer, force bool) error {
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

	if !force {
		var confirmed bool

		form := NewAccessibleForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Reset all session data? (%d sessions)", len(markers))).
					Value(&confirmed),
			),
		)

		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return fmt.Errorf("failed to get confirmation: %w", err)
		}

		if !confirmed {
			return nil
		}
	}

	if err := store.RemoveAll(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	journalStore, err := journal.NewStore()
	if err == nil {
		if err := journalStore.RemoveAll(ctx); err != nil {
			return fmt.Errorf("failed to remove journals: %w", err)
		}
	}

	fmt.Fprintf(w, "Cleared tracking state for %d sessions.\n", len(markers))
	return nil
}

// describeMarker summarizes a marker for confirmation prompts.
func describeMarker(m *marker.Marker) string {
	if !m.BaselineRecorded {
		return fmt.Sprintf("Reset pending (%s)", m.Trigger)
	}
	return fmt.Sprintf("Last total: %s tokens, updated %s",
		formatTokens(m.LastTokenTotal), timeAgo(time.UnixMilli(m.Timestamp)))
}

// deleteSessionJournal removes the journal file for a session if present.
func deleteSessionJournal(ctx context.Context, sessionID string) error {
	journalStore, err := journal.NewStore()
	if err != nil {
		return nil //nolint:nilerr // no journal dir means nothing to delete
	}
	return journalStore.Delete(ctx, sessionID)
}
