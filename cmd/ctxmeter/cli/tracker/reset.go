package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/sessionkey"
)

const (
	// TriggerPrefix marks a trigger written by a session-start reset event.
	TriggerPrefix = "session_start_"

	// TriggerClear is written when the agent starts a session after /clear.
	TriggerClear = TriggerPrefix + "clear"

	// TriggerCompact is written when the agent starts a session after
	// compaction (or announces one via the pre-compact hook).
	TriggerCompact = TriggerPrefix + "compact"

	// TriggerNewSession is written once tracking has recorded a baseline.
	TriggerNewSession = "new_session"

	// TokenDropRatio is the fraction of the last observed total below which
	// a drop counts as a context reset. Exactly this fraction does not count.
	TokenDropRatio = 0.5
)

// ErrInvalidTrigger is returned by WriteReset for reset reasons other than
// "clear" or "compact".
var ErrInvalidTrigger = errors.New("invalid reset trigger")

// ResetDecision is the outcome of evaluating the explicit reset layer.
type ResetDecision struct {
	// ShouldReset is true when the marker flags a pending context reset.
	ShouldReset bool

	// Trigger is the marker trigger that caused the reset (e.g.
	// "session_start_clear"). Empty when ShouldReset is false.
	Trigger string
}

// CheckResetMarker evaluates the explicit reset layer: a marker written by a
// session-start event with a reset-worthy source.
//
// The trigger must carry the session-start prefix AND end in a source that
// actually resets context ("clear" or "compact"). A marker written by normal
// tracking ("new_session") never signals a reset.
func CheckResetMarker(m *marker.Marker) ResetDecision {
	if m == nil {
		return ResetDecision{}
	}
	if !strings.HasPrefix(m.Trigger, TriggerPrefix) {
		return ResetDecision{}
	}
	source := strings.TrimPrefix(m.Trigger, TriggerPrefix)
	if source != "clear" && source != "compact" {
		return ResetDecision{}
	}
	return ResetDecision{ShouldReset: true, Trigger: m.Trigger}
}

// DetectTokenDrop evaluates the heuristic reset layer: the current token
// total falling below half of the last observed total.
//
// Returns false when there is no marker or no previous observation
// (LastTokenTotal of zero would make any comparison meaningless).
// The comparison is strict: landing exactly on half is not a drop.
func DetectTokenDrop(m *marker.Marker, currentTotal int) bool {
	if m == nil {
		return false
	}
	if m.LastTokenTotal == 0 {
		return false
	}
	return float64(currentTotal) < float64(m.LastTokenTotal)*TokenDropRatio
}

// WriteReset records an explicit reset event for a session.
//
// reason must be "clear" or "compact"; anything else returns
// ErrInvalidTrigger. The written marker fully replaces any previous one, so
// the old baseline is discarded along with it. The next Track call sees the
// reset trigger and starts a fresh baseline.
func WriteReset(ctx context.Context, store *marker.Store, sessionID, reason string) error {
	if reason != "clear" && reason != "compact" {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, reason)
	}

	m := &marker.Marker{
		SessionID:        sessionkey.Normalize(sessionID),
		Trigger:          TriggerPrefix + reason,
		BaselineRecorded: false,
		Timestamp:        time.Now().UnixMilli(),
	}
	if err := store.Save(ctx, m); err != nil {
		return fmt.Errorf("failed to write reset marker: %w", err)
	}
	return nil
}
