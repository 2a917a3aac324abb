//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

// HookRunner executes CLI hooks in the test environment.
type HookRunner struct {
	RepoDir string

	// Env is appended to the environment of every hook subprocess.
	Env []string

	T interface {
		Helper()
		Fatalf(format string, args ...interface{})
		Logf(format string, args ...interface{})
	}
}

// NewHookRunner creates a new hook runner for the given repo directory.
func NewHookRunner(repoDir string, t interface {
	Helper()
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}) *HookRunner {
	return &HookRunner{
		RepoDir: repoDir,
		T:       t,
	}
}

// HookResponse represents the JSON response from Claude Code hooks.
type HookResponse struct {
	Continue   bool   `json:"continue"`
	StopReason string `json:"stopReason,omitempty"`
}

// HookOutput contains the result of running a hook.
type HookOutput struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// SimulateSessionStart simulates the SessionStart hook with the given source
// ("startup", "clear", "compact" or "resume").
func (r *HookRunner) SimulateSessionStart(sessionID, source string) error {
	r.T.Helper()

	input := map[string]string{
		"session_id":      sessionID,
		"transcript_path": "",
		"source":          source,
	}

	return r.runHookWithInput("session-start", input)
}

// SimulateUserPromptSubmit simulates the UserPromptSubmit hook.
// This records a usage observation from the transcript.
func (r *HookRunner) SimulateUserPromptSubmit(sessionID, transcriptPath, prompt string) error {
	r.T.Helper()

	input := map[string]string{
		"session_id":      sessionID,
		"transcript_path": transcriptPath,
		"prompt":          prompt,
	}

	return r.runHookWithInput("user-prompt-submit", input)
}

// SimulateUserPromptSubmitWithResponse simulates the UserPromptSubmit hook
// and returns the parsed hook response.
func (r *HookRunner) SimulateUserPromptSubmitWithResponse(sessionID, transcriptPath, prompt string) (*HookResponse, error) {
	r.T.Helper()

	input := map[string]string{
		"session_id":      sessionID,
		"transcript_path": transcriptPath,
		"prompt":          prompt,
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hook input: %w", err)
	}

	output := r.runHookWithOutput("user-prompt-submit", inputJSON)
	if output.Err != nil {
		return nil, fmt.Errorf("hook failed: %w\nStderr: %s\nStdout: %s",
			output.Err, output.Stderr, output.Stdout)
	}

	var resp HookResponse
	if len(output.Stdout) > 0 {
		if err := json.Unmarshal(output.Stdout, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse hook response: %w\nStdout: %s",
				err, output.Stdout)
		}
	}

	return &resp, nil
}

// SimulateStop simulates the Stop hook with session transcript info.
func (r *HookRunner) SimulateStop(sessionID, transcriptPath string) error {
	r.T.Helper()

	input := map[string]interface{}{
		"session_id":       sessionID,
		"transcript_path":  transcriptPath,
		"stop_hook_active": false,
	}

	return r.runHookWithInput("stop", input)
}

// SimulateStopWithOutput simulates the Stop hook and returns the output,
// for tests that inspect the stderr warning or the stdout response.
func (r *HookRunner) SimulateStopWithOutput(sessionID, transcriptPath string) HookOutput {
	r.T.Helper()

	input := map[string]interface{}{
		"session_id":       sessionID,
		"transcript_path":  transcriptPath,
		"stop_hook_active": false,
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return HookOutput{Err: fmt.Errorf("failed to marshal hook input: %w", err)}
	}

	return r.runHookWithOutput("stop", inputJSON)
}

// SimulatePreCompact simulates the PreCompact hook with the given trigger
// ("manual" or "auto").
func (r *HookRunner) SimulatePreCompact(sessionID, trigger string) error {
	r.T.Helper()

	input := map[string]string{
		"session_id":      sessionID,
		"transcript_path": "",
		"trigger":         trigger,
	}

	return r.runHookWithInput("pre-compact", input)
}

func (r *HookRunner) runHookWithInput(hookName string, input interface{}) error {
	r.T.Helper()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal hook input: %w", err)
	}

	return r.runHookInRepoDir(hookName, inputJSON)
}

func (r *HookRunner) runHookInRepoDir(hookName string, inputJSON []byte) error {
	// Run using the shared test binary
	// Command structure: ctxmeter hooks claude-code <hook-name>
	cmd := exec.Command(getTestBinary(), "hooks", "claude-code", hookName)
	cmd.Dir = r.RepoDir
	cmd.Stdin = bytes.NewReader(inputJSON)
	cmd.Env = append(os.Environ(), r.Env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hook %s failed: %w\nInput: %s\nOutput: %s",
			hookName, err, inputJSON, output)
	}

	r.T.Logf("Hook %s output: %s", hookName, output)
	return nil
}

// runHookWithOutput runs a hook and returns stdout and stderr separately.
func (r *HookRunner) runHookWithOutput(hookName string, inputJSON []byte) HookOutput {
	cmd := exec.Command(getTestBinary(), "hooks", "claude-code", hookName)
	cmd.Dir = r.RepoDir
	cmd.Stdin = bytes.NewReader(inputJSON)
	cmd.Env = append(os.Environ(), r.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return HookOutput{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
		Err:    err,
	}
}

func (env *TestEnv) hookRunner() *HookRunner {
	runner := NewHookRunner(env.RepoDir, env.T)
	runner.Env = env.ExtraEnv
	return runner
}

// SimulateSessionStart is a convenience method on TestEnv.
func (env *TestEnv) SimulateSessionStart(sessionID, source string) error {
	env.T.Helper()
	return env.hookRunner().SimulateSessionStart(sessionID, source)
}

// SimulateUserPromptSubmit is a convenience method on TestEnv.
func (env *TestEnv) SimulateUserPromptSubmit(sessionID, transcriptPath, prompt string) error {
	env.T.Helper()
	return env.hookRunner().SimulateUserPromptSubmit(sessionID, transcriptPath, prompt)
}

// SimulateUserPromptSubmitWithResponse is a convenience method on TestEnv.
func (env *TestEnv) SimulateUserPromptSubmitWithResponse(sessionID, transcriptPath, prompt string) (*HookResponse, error) {
	env.T.Helper()
	return env.hookRunner().SimulateUserPromptSubmitWithResponse(sessionID, transcriptPath, prompt)
}

// SimulateStop is a convenience method on TestEnv.
func (env *TestEnv) SimulateStop(sessionID, transcriptPath string) error {
	env.T.Helper()
	return env.hookRunner().SimulateStop(sessionID, transcriptPath)
}

// SimulateStopWithOutput is a convenience method on TestEnv.
func (env *TestEnv) SimulateStopWithOutput(sessionID, transcriptPath string) HookOutput {
	env.T.Helper()
	return env.hookRunner().SimulateStopWithOutput(sessionID, transcriptPath)
}

// SimulatePreCompact is a convenience method on TestEnv.
func (env *TestEnv) SimulatePreCompact(sessionID, trigger string) error {
	env.T.Helper()
	return env.hookRunner().SimulatePreCompact(sessionID, trigger)
}

// Usage holds the token counts of one simulated assistant turn.
type Usage struct {
	Input         int
	CacheCreation int
	CacheRead     int
	Output        int
}

// Total returns the full token count of the turn.
func (u Usage) Total() int {
	return u.Input + u.CacheCreation + u.CacheRead + u.Output
}

// Transcript wire types matching Claude Code's JSONL format.
type transcriptUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

type transcriptMessage struct {
	ID      string           `json:"id,omitempty"`
	Role    string           `json:"role,omitempty"`
	Model   string           `json:"model,omitempty"`
	Content string           `json:"content,omitempty"`
	Usage   *transcriptUsage `json:"usage,omitempty"`
}

type transcriptLine struct {
	Type    string            `json:"type"`
	UUID    string            `json:"uuid"`
	Message transcriptMessage `json:"message"`
}

// TranscriptBuilder assembles a Claude Code JSONL transcript for tests.
type TranscriptBuilder struct {
	lines   [][]byte
	counter int
}

// NewTranscriptBuilder creates an empty transcript builder.
func NewTranscriptBuilder() *TranscriptBuilder {
	return &TranscriptBuilder{}
}

func (b *TranscriptBuilder) addLine(line transcriptLine) {
	data, err := json.Marshal(line)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal transcript line: %v", err))
	}
	b.lines = append(b.lines, data)
}

// AddUserMessage appends a user prompt to the transcript.
func (b *TranscriptBuilder) AddUserMessage(prompt string) {
	b.counter++
	b.addLine(transcriptLine{
		Type: "user",
		UUID: fmt.Sprintf("uuid-%d", b.counter),
		Message: transcriptMessage{
			Role:    "user",
			Content: prompt,
		},
	})
}

// AddAssistantTurn appends an assistant message carrying the given usage.
// The usage reflects the whole conversation context at that turn, so the
// last turn added determines what the hooks observe.
func (b *TranscriptBuilder) AddAssistantTurn(usage Usage) {
	b.counter++
	b.addLine(transcriptLine{
		Type: "assistant",
		UUID: fmt.Sprintf("uuid-%d", b.counter),
		Message: transcriptMessage{
			ID:    fmt.Sprintf("msg_%03d", b.counter),
			Model: "claude-sonnet-4-5",
			Usage: &transcriptUsage{
				InputTokens:              usage.Input,
				CacheCreationInputTokens: usage.CacheCreation,
				CacheReadInputTokens:     usage.CacheRead,
				OutputTokens:             usage.Output,
			},
		},
	})
}

// WriteToFile writes the transcript as JSONL to the given path.
func (b *TranscriptBuilder) WriteToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	var buf bytes.Buffer
	for _, line := range b.lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Session represents a simulated Claude Code session.
type Session struct {
	ID                string
	TranscriptPath    string
	TranscriptBuilder *TranscriptBuilder
	env               *TestEnv
}

// NewSession creates a new simulated session with its own transcript file.
func (env *TestEnv) NewSession() *Session {
	env.T.Helper()

	env.SessionCounter++
	sessionID := fmt.Sprintf("test-session-%d", env.SessionCounter)

	transcriptPath := filepath.Join(env.RepoDir, paths.TmpDir, sessionID+".jsonl")

	return &Session{
		ID:                sessionID,
		TranscriptPath:    transcriptPath,
		TranscriptBuilder: NewTranscriptBuilder(),
		env:               env,
	}
}

// AddTurn appends a prompt/response exchange with the given usage and
// rewrites the transcript file.
func (s *Session) AddTurn(prompt string, usage Usage) {
	s.env.T.Helper()

	s.TranscriptBuilder.AddUserMessage(prompt)
	s.TranscriptBuilder.AddAssistantTurn(usage)

	if err := s.TranscriptBuilder.WriteToFile(s.TranscriptPath); err != nil {
		s.env.T.Fatalf("failed to write transcript: %v", err)
	}
}
