package claudecode

// ClaudeSettings represents the .claude/settings.json structure
type ClaudeSettings struct {
	Hooks ClaudeHooks `json:"hooks"`
}

// ClaudeHooks contains the hook configurations
type ClaudeHooks struct {
	SessionStart     []ClaudeHookMatcher `json:"SessionStart,omitempty"`
	UserPromptSubmit []ClaudeHookMatcher `json:"UserPromptSubmit,omitempty"`
	Stop             []ClaudeHookMatcher `json:"Stop,omitempty"`
	PreCompact       []ClaudeHookMatcher `json:"PreCompact,omitempty"`
}

// ClaudeHookMatcher matches hooks to specific patterns
type ClaudeHookMatcher struct {
	Matcher string            `json:"matcher"`
	Hooks   []ClaudeHookEntry `json:"hooks"`
}

// ClaudeHookEntry represents a single hook command
type ClaudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// ClaudeStatusLine represents the statusLine entry in settings.json
type ClaudeStatusLine struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// sessionStartRaw is the JSON structure from SessionStart hooks
type sessionStartRaw struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Source         string `json:"source"`
}

// userPromptSubmitRaw is the JSON structure from UserPromptSubmit hooks
type userPromptSubmitRaw struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Prompt         string `json:"prompt"`
}

// stopRaw is the JSON structure from Stop hooks
type stopRaw struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	StopHookActive bool   `json:"stop_hook_active"`
}

// preCompactRaw is the JSON structure from PreCompact hooks
type preCompactRaw struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Trigger        string `json:"trigger"`
}

// messageUsage represents token usage from a Claude API response.
// This is specific to Claude/Anthropic's API format.
type messageUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// messageWithUsage represents an assistant message with usage data.
// Used for extracting token counts from Claude Code transcripts.
type messageWithUsage struct {
	ID    string       `json:"id"`
	Model string       `json:"model"`
	Usage messageUsage `json:"usage"`
}
