package claudecode

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
)

// Transcript parsing types - Claude Code uses JSONL format

// TranscriptLine represents a single line in Claude's JSONL transcript
type TranscriptLine struct {
	Type    string          `json:"type"`
	UUID    string          `json:"uuid"`
	Message json.RawMessage `json:"message"`
}

// Scanner buffer size for large transcript files (10MB)
const scannerBufferSize = 10 * 1024 * 1024

// ParseTranscript parses raw JSONL content into transcript lines
func ParseTranscript(data []byte) ([]TranscriptLine, error) {
	var lines []TranscriptLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		var line TranscriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // Skip malformed lines
		}
		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan transcript: %w", err)
	}
	return lines, nil
}

// LatestContextUsage returns the token usage of the most recent assistant
// turn in a transcript.
//
// Claude's usage object reports the context of the whole conversation at
// that turn, so the last message alone describes current context occupancy.
// Summing across messages would count the same context many times over.
//
// Due to streaming, multiple transcript rows may share the same message.id;
// the row with the highest output_tokens carries the final state. Synthetic
// rows with all-zero usage (e.g. API error placeholders) are skipped.
// Returns nil when no turn carries usable usage data.
func LatestContextUsage(lines []TranscriptLine) *agent.ContextUsage {
	usageByID := make(map[string]messageWithUsage)
	var orderedIDs []string

	for _, line := range lines {
		if line.Type != "assistant" {
			continue
		}

		var msg messageWithUsage
		if err := json.Unmarshal(line.Message, &msg); err != nil {
			continue
		}
		if msg.ID == "" {
			continue
		}

		existing, exists := usageByID[msg.ID]
		if !exists {
			orderedIDs = append(orderedIDs, msg.ID)
			usageByID[msg.ID] = msg
		} else if msg.Usage.OutputTokens > existing.Usage.OutputTokens {
			usageByID[msg.ID] = msg
		}
	}

	for i := len(orderedIDs) - 1; i >= 0; i-- {
		msg := usageByID[orderedIDs[i]]
		usage := &agent.ContextUsage{
			InputTokens:         msg.Usage.InputTokens,
			CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:     msg.Usage.CacheReadInputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			Model:               msg.Model,
		}
		if usage.Total() > 0 {
			return usage
		}
	}
	return nil
}

// LatestContextUsageFromFile reads a transcript file and returns the most
// recent turn's usage. A missing or empty path yields (nil, nil): hooks can
// fire before the transcript exists, and that is not an error.
func LatestContextUsageFromFile(path string) (*agent.ContextUsage, error) {
	if path == "" {
		return nil, nil //nolint:nilnil // no transcript means no usage yet
	}

	file, err := os.Open(path) //nolint:gosec // Path comes from Claude Code hook payload
	if os.IsNotExist(err) {
		return nil, nil //nolint:nilnil // transcript not written yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var lines []TranscriptLine
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		var line TranscriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // Skip malformed lines
		}
		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan transcript: %w", err)
	}

	return LatestContextUsage(lines), nil
}
