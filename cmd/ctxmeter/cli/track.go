package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

func newTrackCmd() *cobra.Command {
	var sessionID string
	var inputTokens int
	var outputTokens int
	var windowSize int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Record a context usage observation",
		Long: `Record one observation of a session's token usage and print the
resulting context usage percentage.

This is the same engine the agent hooks drive automatically; it exists
for scripts and debugging. Feed it the input-side and output token
counts of the latest API call and it updates the session's baseline
state under .ctxmeter/context/.

Example:
  ctxmeter track --session abc123 --input 52000 --output 800`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			return runTrack(cmd.Context(), cmd.OutOrStdout(), sessionID, inputTokens, outputTokens, windowSize, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to track (empty maps to the shared fallback key)")
	cmd.Flags().IntVar(&inputTokens, "input", 0, "Input-side token count (including cache reads)")
	cmd.Flags().IntVar(&outputTokens, "output", 0, "Output token count")
	cmd.Flags().IntVar(&windowSize, "window", 0, "Context window size in tokens (default from settings)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")

	return cmd
}

func runTrack(ctx context.Context, w io.Writer, sessionID string, inputTokens, outputTokens, windowSize int, jsonOutput bool) error {
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if windowSize <= 0 {
		windowSize = settings.ContextWindowFor("")
	}

	tr, err := GetTracker()
	if err != nil {
		return err
	}

	result, err := tr.Track(ctx, tracker.Params{
		SessionID:         sessionID,
		ContextInput:      inputTokens,
		ContextOutput:     outputTokens,
		ContextWindowSize: windowSize,
	})
	if err != nil {
		return fmt.Errorf("tracking failed: %w", err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	if result.ResetLayer != "" {
		fmt.Fprintf(w, "%d%% (reset: %s)\n", result.Percentage, result.ResetLayer)
	} else {
		fmt.Fprintf(w, "%d%%\n", result.Percentage)
	}
	return nil
}
