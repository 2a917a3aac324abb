package agent

import "time"

// HookType represents agent lifecycle events
type HookType string

const (
	HookSessionStart     HookType = "session_start"
	HookUserPromptSubmit HookType = "user_prompt_submit"
	HookStop             HookType = "stop"
	HookPreCompact       HookType = "pre_compact"
)

// HookInput contains normalized data from hook callbacks
type HookInput struct {
	HookType  HookType
	SessionID string

	// TranscriptPath is where the agent keeps the session transcript
	TranscriptPath string

	Timestamp time.Time

	// Source is how the session started (SessionStart hooks):
	// "startup", "resume", "clear", or "compact"
	Source string

	// Trigger is what initiated compaction (PreCompact hooks):
	// "manual" or "auto"
	Trigger string

	// Prompt is the user's prompt text (UserPromptSubmit hooks)
	Prompt string

	// RawData preserves agent-specific data for extension
	RawData map[string]interface{}
}

// ContextUsage is the token usage of the agent's most recent turn, broken
// down the way the agent's API reports it. Everything the model currently
// holds in context counts: fresh input, cache writes, cache reads, output.
type ContextUsage struct {
	// InputTokens is the number of input tokens (fresh, not from cache)
	InputTokens int `json:"input_tokens"`
	// CacheCreationTokens is tokens written to cache
	CacheCreationTokens int `json:"cache_creation_tokens"`
	// CacheReadTokens is tokens read from cache
	CacheReadTokens int `json:"cache_read_tokens"`
	// OutputTokens is the number of output tokens generated
	OutputTokens int `json:"output_tokens"`
	// Model is the model ID that produced the turn, when the transcript
	// records one (e.g. "claude-sonnet-4-5")
	Model string `json:"model,omitempty"`
}

// InputSide returns the tokens occupying the input side of the context.
func (u *ContextUsage) InputSide() int {
	return u.InputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Total returns all tokens currently attributable to the context.
func (u *ContextUsage) Total() int {
	return u.InputSide() + u.OutputTokens
}
