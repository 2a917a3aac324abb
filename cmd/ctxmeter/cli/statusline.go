package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

// statusLineSegments is the width of the usage meter glyph.
const statusLineSegments = 5

// statusLineInput is the JSON Claude Code pipes to the statusLine command.
type statusLineInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Model          struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"model"`
	Workspace struct {
		CurrentDir string `json:"current_dir"`
	} `json:"workspace"`
}

func newStatuslineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statusline",
		Short: "Render the Claude Code status line",
		Long: `Read Claude Code's status line JSON from stdin and print one line with
the session's context usage, model name and git branch.

Installed into .claude/settings.json as the statusLine command by
` + "`ctxmeter enable`" + `; not normally run by hand.`,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			renderStatusLine(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin())
			// The agent renders whatever lands on stdout; failing the
			// command would only blank the status line.
			return nil
		},
	}
}

// renderStatusLine writes exactly one line. Every failure degrades the
// line instead of surfacing an error.
func renderStatusLine(ctx context.Context, w io.Writer, r io.Reader) {
	var input statusLineInput
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		fmt.Fprintln(w, usageMeter(0)+" 0%")
		return
	}

	modelName := input.Model.DisplayName
	if modelName == "" {
		modelName = input.Model.ID
	}

	root, err := paths.RepoRootAt(input.Workspace.CurrentDir)
	if err != nil {
		// Outside a repository there is no tracking state to read
		fmt.Fprintln(w, joinStatusLine(usageMeter(0)+" 0%", modelName, ""))
		return
	}

	branch, _ := journal.GitInfo(root)

	settings, err := LoadCtxmeterSettingsAt(root)
	if err != nil {
		settings = &CtxmeterSettings{Enabled: true}
		applyDefaults(settings)
	}
	if !settings.Enabled {
		fmt.Fprintln(w, joinStatusLine("", modelName, branch))
		return
	}

	// Unseen sessions and pending resets both show 0%
	pct := 0
	store := marker.NewStoreWithDir(filepath.Join(root, paths.ContextStateDir))
	tr := tracker.NewWithSafetyFraction(store, settings.SafetyFraction)
	window := settings.ContextWindowFor(input.Model.ID)
	if snap, ok, snapErr := tr.Snapshot(ctx, input.SessionID, window); snapErr == nil && ok {
		pct = snap.Percentage
	}

	fmt.Fprintln(w, joinStatusLine(fmt.Sprintf("%s %d%%", usageMeter(pct), pct), modelName, branch))
}

// joinStatusLine joins the non-empty segments with a separator dot.
func joinStatusLine(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return "ctxmeter"
	}
	return strings.Join(kept, " · ")
}

// usageMeter renders a percentage as a fixed-width block meter.
// Values above 100 stay pinned at a full meter.
func usageMeter(pct int) string {
	filled := pct / (100 / statusLineSegments)
	if filled > statusLineSegments {
		filled = statusLineSegments
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("▰", filled) + strings.Repeat("▱", statusLineSegments-filled)
}
