// Package tracker measures per-session context usage against a safety
// threshold and detects context resets.
//
// Reset detection is two-layered. The explicit layer reads markers written
// by session-start events (/clear, compaction). The heuristic layer catches
// resets nobody announced: the token total dropping below half of the last
// observation. The explicit layer always wins when both would fire.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/logging"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/sessionkey"
)

// DefaultSafetyFraction is the fraction of the context window treated as
// usable before quality degrades. The threshold for 100% usage is
// window * fraction, not the raw window.
const DefaultSafetyFraction = 0.775

// ErrInvalidWindow is returned when the context window size is not positive.
var ErrInvalidWindow = errors.New("context window size must be positive")

// Params are the inputs for one tracking observation.
type Params struct {
	// SessionID identifies the session. Empty is allowed and maps to a
	// shared fallback key.
	SessionID string

	// ContextInput is the input-side token count (including cache reads).
	// Negative values are treated as zero.
	ContextInput int

	// ContextOutput is the output token count. Negative values are treated
	// as zero.
	ContextOutput int

	// ContextWindowSize is the model's context window in tokens.
	ContextWindowSize int
}

// Result is the outcome of one tracking observation.
type Result struct {
	// SessionID is the normalized session key the observation was filed under.
	SessionID string `json:"session_id"`

	// Percentage is effective usage relative to the safety threshold,
	// rounded to the nearest integer. May exceed 100.
	Percentage int `json:"percentage"`

	// ResetLayer names the layer that detected a reset this observation:
	// "marker:session_start_clear", "marker:session_start_compact", or
	// "token_drop". Empty when no reset was detected.
	ResetLayer string `json:"reset_layer,omitempty"`

	// Baseline is the token total usage is measured against.
	Baseline int `json:"baseline"`

	// CurrentTotal is the observed input+output token total.
	CurrentTotal int `json:"current_total"`
}

// SnapshotResult is a read-only view of a session's tracked state.
type SnapshotResult struct {
	// SessionID is the normalized session key.
	SessionID string `json:"session_id"`

	// Percentage is effective usage relative to the safety threshold,
	// computed from the last recorded observation.
	Percentage int `json:"percentage"`

	// Baseline is the recorded baseline token total.
	Baseline int `json:"baseline"`

	// LastTotal is the most recently observed token total.
	LastTotal int `json:"last_total"`

	// UpdatedAt is when the marker was last written, in ms since epoch.
	UpdatedAt int64 `json:"updated_at"`
}

// Tracker computes context usage percentages and persists per-session
// tracking state through a marker store.
type Tracker struct {
	store          *marker.Store
	safetyFraction float64
}

// New creates a tracker with the default safety fraction.
func New(store *marker.Store) *Tracker {
	return NewWithSafetyFraction(store, DefaultSafetyFraction)
}

// NewWithSafetyFraction creates a tracker with a custom safety fraction.
// Fractions outside (0, 1) fall back to the default, which keeps the
// threshold strictly below the window.
func NewWithSafetyFraction(store *marker.Store, fraction float64) *Tracker {
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultSafetyFraction
	}
	return &Tracker{store: store, safetyFraction: fraction}
}

// SafetyFraction returns the fraction of the window used as the threshold.
func (t *Tracker) SafetyFraction() float64 {
	return t.safetyFraction
}

// Track records one observation of a session's token usage.
//
// On the first observation of a session, or when either reset layer fires,
// the current total becomes the new baseline and usage restarts at 0%.
// Otherwise usage is the growth over the baseline, measured against
// window * safety fraction.
//
// Every successful call persists the observation, so consecutive calls with
// the same totals are idempotent in both result and stored state.
func (t *Tracker) Track(ctx context.Context, p Params) (*Result, error) {
	sessionID := sessionkey.Normalize(p.SessionID)

	if p.ContextWindowSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, p.ContextWindowSize)
	}

	input := p.ContextInput
	if input < 0 {
		input = 0
	}
	output := p.ContextOutput
	if output < 0 {
		output = 0
	}
	currentTotal := input + output

	m, err := t.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load marker: %w", err)
	}

	// Explicit reset marker wins over the heuristic.
	resetLayer := ""
	if decision := CheckResetMarker(m); decision.ShouldReset {
		resetLayer = "marker:" + decision.Trigger
	} else if DetectTokenDrop(m, currentTotal) {
		resetLayer = "token_drop"
	}

	var baseline int
	switch {
	case m == nil, resetLayer != "":
		// First sight of this session, or a detected reset: restart from here.
		baseline = currentTotal
	default:
		baseline = m.Baseline
	}

	effective := currentTotal - baseline
	if effective < 0 {
		effective = 0
	}

	threshold := float64(p.ContextWindowSize) * t.safetyFraction
	percentage := int(math.Round(float64(effective) / threshold * 100))

	if resetLayer != "" {
		logging.Debug(ctx, "context reset detected",
			slog.String("reset_layer", resetLayer),
			slog.Int("current_total", currentTotal),
		)
	}

	if err := t.store.Save(ctx, &marker.Marker{
		SessionID:        sessionID,
		Trigger:          TriggerNewSession,
		BaselineRecorded: true,
		Baseline:         baseline,
		LastTokenTotal:   currentTotal,
		Timestamp:        time.Now().UnixMilli(),
	}); err != nil {
		return nil, fmt.Errorf("failed to save marker: %w", err)
	}

	return &Result{
		SessionID:    sessionID,
		Percentage:   percentage,
		ResetLayer:   resetLayer,
		Baseline:     baseline,
		CurrentTotal: currentTotal,
	}, nil
}

// Snapshot returns the usage picture for a session without recording
// anything. The bool is false when the session has no recorded baseline
// (never tracked, or only a pending reset marker exists).
func (t *Tracker) Snapshot(ctx context.Context, sessionID string, windowSize int) (*SnapshotResult, bool, error) {
	sessionID = sessionkey.Normalize(sessionID)

	if windowSize <= 0 {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidWindow, windowSize)
	}

	m, err := t.store.Load(ctx, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load marker: %w", err)
	}
	if m == nil || !m.BaselineRecorded {
		return nil, false, nil
	}

	effective := m.LastTokenTotal - m.Baseline
	if effective < 0 {
		effective = 0
	}

	threshold := float64(windowSize) * t.safetyFraction
	percentage := int(math.Round(float64(effective) / threshold * 100))

	return &SnapshotResult{
		SessionID:  sessionID,
		Percentage: percentage,
		Baseline:   m.Baseline,
		LastTotal:  m.LastTokenTotal,
		UpdatedAt:  m.Timestamp,
	}, true, nil
}

// Reset discards a session's tracking state entirely. The next Track call
// treats the session as never seen.
func (t *Tracker) Reset(ctx context.Context, sessionID string) error {
	return t.store.Delete(ctx, sessionkey.Normalize(sessionID))
}
