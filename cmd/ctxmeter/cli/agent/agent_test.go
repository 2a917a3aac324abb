package agent

import "testing"

func TestResolveContextWindow(t *testing.T) {
	tests := []struct {
		name      string
		modelID   string
		overrides map[string]int
		fallback  int
		want      int
	}{
		{
			name:     "no overrides uses fallback",
			modelID:  "claude-sonnet-4-5",
			fallback: 200000,
			want:     200000,
		},
		{
			name:    "no overrides no fallback uses default",
			modelID: "claude-sonnet-4-5",
			want:    DefaultContextWindow,
		},
		{
			name:      "substring match",
			modelID:   "claude-sonnet-4-5-20250929",
			overrides: map[string]int{"sonnet": 200000, "haiku": 150000},
			fallback:  100000,
			want:      200000,
		},
		{
			name:      "longest match wins",
			modelID:   "claude-sonnet-4-5-20250929",
			overrides: map[string]int{"sonnet": 200000, "sonnet-4-5": 500000},
			fallback:  100000,
			want:      500000,
		},
		{
			name:      "no match falls back",
			modelID:   "claude-opus-4",
			overrides: map[string]int{"sonnet": 200000},
			fallback:  180000,
			want:      180000,
		},
		{
			name:      "empty model skips overrides",
			modelID:   "",
			overrides: map[string]int{"sonnet": 200000},
			fallback:  180000,
			want:      180000,
		},
		{
			name:      "non-positive override ignored",
			modelID:   "claude-sonnet-4-5",
			overrides: map[string]int{"sonnet-4-5": 0, "sonnet": 200000},
			fallback:  100000,
			want:      200000,
		},
		{
			name:      "empty pattern ignored",
			modelID:   "claude-sonnet-4-5",
			overrides: map[string]int{"": 999999},
			fallback:  180000,
			want:      180000,
		},
		{
			name:     "non-positive fallback uses default",
			modelID:  "claude-opus-4",
			fallback: -1,
			want:     DefaultContextWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveContextWindow(tt.modelID, tt.overrides, tt.fallback)
			if got != tt.want {
				t.Errorf("ResolveContextWindow(%q, %v, %d) = %d, want %d",
					tt.modelID, tt.overrides, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestContextUsage_Total(t *testing.T) {
	u := &ContextUsage{
		InputTokens:         100,
		CacheCreationTokens: 2000,
		CacheReadTokens:     30000,
		OutputTokens:        400,
	}

	if got := u.InputSide(); got != 32100 {
		t.Errorf("InputSide() = %d, want 32100", got)
	}
	if got := u.Total(); got != 32500 {
		t.Errorf("Total() = %d, want 32500", got)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := Get("no-such-agent")
	if err == nil {
		t.Error("Get(no-such-agent) error = nil, want error")
	}
}
