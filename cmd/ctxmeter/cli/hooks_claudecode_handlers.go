// hooks_claudecode_handlers.go contains Claude Code specific hook handler
// implementations. These are called by the hook registry in hook_registry.go.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/logging"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"
)

// hookInputData holds parsed hook input with resolved session identity.
type hookInputData struct {
	agent     agent.Agent
	input     *agent.HookInput
	sessionID string
}

func hookLogContext(ag agent.Agent) context.Context {
	return logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), ag.Name())
}

// parseAndLogHookInput parses hook input from stdin and logs the invocation.
func parseAndLogHookInput(hookType agent.HookType, hookName string) (*hookInputData, error) {
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	input, err := ag.ParseHookInput(hookType, os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hook input: %w", err)
	}

	logCtx := hookLogContext(ag)
	logging.Info(logCtx, hookName,
		slog.String("hook", hookName),
		slog.String("model_session_id", input.SessionID),
		slog.String("transcript_path", input.TranscriptPath),
	)

	return &hookInputData{
		agent:     ag,
		input:     input,
		sessionID: sessionIDWithFallback(input.SessionID),
	}, nil
}

// sessionIDWithFallback returns the hook-provided session ID, falling back to
// the persisted current session when the hook input omits one.
func sessionIDWithFallback(hookSessionID string) string {
	if hookSessionID != "" {
		return hookSessionID
	}
	sessionID, err := paths.ReadCurrentSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read current session: %v\n", err)
		return ""
	}
	return sessionID
}

// handleClaudeCodeSessionStart persists the new session identity and, when
// the session begins from a clear or compact, writes a reset marker so the
// next tracked observation starts a fresh baseline.
func handleClaudeCodeSessionStart() error {
	hookData, err := parseAndLogHookInput(agent.HookSessionStart, "session-start")
	if err != nil {
		return err
	}
	input := hookData.input

	if input.SessionID == "" {
		return errors.New("no session_id in input")
	}

	if err := paths.WriteCurrentSession(input.SessionID); err != nil {
		return fmt.Errorf("failed to set current session: %w", err)
	}

	logCtx := hookLogContext(hookData.agent)

	switch input.Source {
	case "clear", "compact":
		store, err := marker.NewStore()
		if err != nil {
			return fmt.Errorf("failed to open marker store: %w", err)
		}
		if err := tracker.WriteReset(logCtx, store, input.SessionID, input.Source); err != nil {
			return fmt.Errorf("failed to write reset marker: %w", err)
		}
		logging.Info(logCtx, "reset marker written",
			slog.String("session_id", input.SessionID),
			slog.String("source", input.Source),
		)
	default:
		// startup and resume carry prior context forward, nothing to reset
		logging.Debug(logCtx, "session started without reset",
			slog.String("session_id", input.SessionID),
			slog.String("source", input.Source),
		)
	}

	return nil
}

// handleClaudeCodePreCompact writes a compact reset marker before the host
// truncates the transcript. The post-compaction session-start usually writes
// the marker again, which is harmless.
func handleClaudeCodePreCompact() error {
	hookData, err := parseAndLogHookInput(agent.HookPreCompact, "pre-compact")
	if err != nil {
		return err
	}

	if hookData.sessionID == "" {
		return errors.New("no session ID available")
	}

	logCtx := hookLogContext(hookData.agent)

	store, err := marker.NewStore()
	if err != nil {
		return fmt.Errorf("failed to open marker store: %w", err)
	}
	if err := tracker.WriteReset(logCtx, store, hookData.sessionID, "compact"); err != nil {
		return fmt.Errorf("failed to write reset marker: %w", err)
	}

	logging.Info(logCtx, "reset marker written",
		slog.String("session_id", hookData.sessionID),
		slog.String("trigger", hookData.input.Trigger),
	)

	return nil
}

// settingsOrDefaults loads settings, falling back to defaults when the
// settings file is unreadable. Hooks keep working on a broken config.
func settingsOrDefaults() *CtxmeterSettings {
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		settings = &CtxmeterSettings{Enabled: true}
		applyDefaults(settings)
	}
	return settings
}

// trackFromTranscript reads the latest context usage from the transcript and
// records an observation. Returns nil without error when the transcript has
// no assistant turn yet (the first prompt of a session).
func trackFromTranscript(ctx context.Context, hookData *hookInputData, settings *CtxmeterSettings, prompt string) (*tracker.Result, error) {
	usage, err := hookData.agent.LatestContextUsage(hookData.input.TranscriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript usage: %w", err)
	}
	if usage == nil {
		return nil, nil
	}

	tr, err := GetTracker()
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	result, err := tr.Track(ctx, tracker.Params{
		SessionID:         hookData.sessionID,
		ContextInput:      usage.InputSide(),
		ContextOutput:     usage.OutputTokens,
		ContextWindowSize: settings.ContextWindowFor(usage.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track usage: %w", err)
	}

	appendJournalSample(ctx, result, prompt)

	return result, nil
}

// appendJournalSample records the observation in the session journal.
// Journal failures are logged and never fail the hook.
func appendJournalSample(ctx context.Context, result *tracker.Result, prompt string) {
	store, err := journal.NewStore()
	if err != nil {
		logging.Warn(ctx, "journal unavailable",
			slog.String("error", err.Error()),
		)
		return
	}

	var branch, head string
	if root, err := paths.RepoRoot(); err == nil {
		branch, head = journal.GitInfo(root)
	}

	entry := journal.Entry{
		SessionID:  result.SessionID,
		Total:      result.CurrentTotal,
		Percentage: result.Percentage,
		ResetLayer: result.ResetLayer,
		Prompt:     prompt,
		Branch:     branch,
		Head:       head,
	}
	if err := store.Append(ctx, entry); err != nil {
		logging.Warn(ctx, "failed to append journal entry",
			slog.String("session_id", result.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// handleClaudeCodeUserPromptSubmit records an observation from the transcript
// and journals it with the submitted prompt.
func handleClaudeCodeUserPromptSubmit() error {
	hookData, err := parseAndLogHookInput(agent.HookUserPromptSubmit, "user-prompt-submit")
	if err != nil {
		return err
	}

	logCtx := hookLogContext(hookData.agent)
	settings := settingsOrDefaults()

	result, err := trackFromTranscript(logCtx, hookData, settings, hookData.input.Prompt)
	if err != nil {
		return err
	}
	if result != nil {
		logging.Debug(logCtx, "usage tracked",
			slog.String("session_id", result.SessionID),
			slog.Int("percentage", result.Percentage),
			slog.String("reset_layer", result.ResetLayer),
		)
	}

	return outputHookResponse(true, "")
}

// handleClaudeCodeStop records an observation when the agent finishes a turn
// and warns on stderr once usage crosses the configured threshold.
func handleClaudeCodeStop() error {
	hookData, err := parseAndLogHookInput(agent.HookStop, "stop")
	if err != nil {
		return err
	}

	logCtx := hookLogContext(hookData.agent)
	settings := settingsOrDefaults()

	result, err := trackFromTranscript(logCtx, hookData, settings, "")
	if err != nil {
		return err
	}
	if result != nil {
		logging.Debug(logCtx, "usage tracked",
			slog.String("session_id", result.SessionID),
			slog.Int("percentage", result.Percentage),
			slog.String("reset_layer", result.ResetLayer),
		)
		if result.Percentage >= settings.WarnPercent {
			fmt.Fprintf(os.Stderr, "ctxmeter: context usage at %d%%\n", result.Percentage)
		}
	}

	return outputHookResponse(true, "")
}

// hookResponse is the JSON structure expected on stdout by Claude Code hooks.
type hookResponse struct {
	Continue   bool   `json:"continue"`
	StopReason string `json:"stopReason,omitempty"`
}

// outputHookResponse writes the hook response JSON to stdout.
func outputHookResponse(continueExec bool, reason string) error {
	response := hookResponse{
		Continue:   continueExec,
		StopReason: reason,
	}
	if err := json.NewEncoder(os.Stdout).Encode(response); err != nil {
		return fmt.Errorf("failed to encode hook response: %w", err)
	}
	return nil
}
