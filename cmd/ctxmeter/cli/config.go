package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/jsonutil"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/logging"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/tracker"

	// Import claudecode to register the agent
	_ "github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent/claudecode"
)

const (
	// CtxmeterSettingsFile is the path to the ctxmeter settings file
	CtxmeterSettingsFile = ".ctxmeter/settings.json"
	// CtxmeterSettingsLocalFile is the path to the local settings override file (not committed)
	CtxmeterSettingsLocalFile = ".ctxmeter/settings.local.json"

	// DefaultWarnPercent is the usage percentage at which hooks start warning.
	DefaultWarnPercent = 80
)

// CtxmeterSettings represents the .ctxmeter/settings.json configuration
type CtxmeterSettings struct {
	// Enabled indicates whether ctxmeter is active. When false, CLI commands
	// show a disabled message and hooks exit silently. Defaults to true.
	Enabled bool `json:"enabled"`

	// LocalDev indicates whether to use "go run" instead of the "ctxmeter" binary
	// This is used for development when the binary is not installed
	LocalDev bool `json:"local_dev,omitempty"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by CTXMETER_LOG_LEVEL environment variable.
	// Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet (show prompt), true = opted in, false = opted out
	Telemetry *bool `json:"telemetry,omitempty"`

	// SafetyFraction is the fraction of the context window counted as usable.
	// Zero or out-of-range values fall back to the tracker default.
	SafetyFraction float64 `json:"safety_fraction,omitempty"`

	// WarnPercent is the usage percentage at which the stop hook warns.
	// Defaults to DefaultWarnPercent.
	WarnPercent int `json:"warn_percent,omitempty"`

	// DefaultContextWindow overrides the assumed window size when the model
	// has no entry in ContextWindows.
	DefaultContextWindow int `json:"default_context_window,omitempty"`

	// ContextWindows maps model ID substrings to window sizes, for models
	// whose windows differ from the default.
	ContextWindows map[string]int `json:"context_windows,omitempty"`
}

// LoadCtxmeterSettings loads the ctxmeter settings from .ctxmeter/settings.json,
// then applies any overrides from .ctxmeter/settings.local.json if it exists.
// Returns default settings if neither file exists.
// Works correctly from any subdirectory within the repository.
func LoadCtxmeterSettings() (*CtxmeterSettings, error) {
	// Get absolute paths for settings files
	settingsFileAbs, err := paths.AbsPath(CtxmeterSettingsFile)
	if err != nil {
		settingsFileAbs = CtxmeterSettingsFile // Fallback to relative
	}
	localSettingsFileAbs, err := paths.AbsPath(CtxmeterSettingsLocalFile)
	if err != nil {
		localSettingsFileAbs = CtxmeterSettingsLocalFile // Fallback to relative
	}

	// Load base settings
	settings, err := loadSettingsFromFile(settingsFileAbs)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	// Apply local overrides if they exist
	localData, err := os.ReadFile(localSettingsFileAbs) //nolint:gosec // path is from AbsPath or constant
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
		// Local file doesn't exist, continue without overrides
	} else {
		if err := mergeSettingsJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	applyDefaults(settings)

	return settings, nil
}

// LoadCtxmeterSettingsAt loads settings for an explicit repository root
// instead of the process working directory. Used by the statusline, which
// receives the workspace directory in its input.
func LoadCtxmeterSettingsAt(root string) (*CtxmeterSettings, error) {
	settings, err := loadSettingsFromFile(filepath.Join(root, CtxmeterSettingsFile))
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(filepath.Join(root, CtxmeterSettingsLocalFile)) //nolint:gosec // path is root + fixed name
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
	} else {
		if err := mergeSettingsJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	applyDefaults(settings)

	return settings, nil
}

// mergeSettingsJSON merges JSON data into existing settings.
// Only non-zero values from the JSON override existing settings.
func mergeSettingsJSON(settings *CtxmeterSettings, data []byte) error {
	// Parse into a map to check which fields are present
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	// Override enabled if present
	if enabledRaw, ok := raw["enabled"]; ok {
		var e bool
		if err := json.Unmarshal(enabledRaw, &e); err != nil {
			return fmt.Errorf("parsing enabled field: %w", err)
		}
		settings.Enabled = e
	}

	// Override local_dev if present
	if localDevRaw, ok := raw["local_dev"]; ok {
		var ld bool
		if err := json.Unmarshal(localDevRaw, &ld); err != nil {
			return fmt.Errorf("parsing local_dev field: %w", err)
		}
		settings.LocalDev = ld
	}

	// Override log_level if present and non-empty
	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	// Override telemetry if present
	if telemetryRaw, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(telemetryRaw, &t); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		settings.Telemetry = &t
	}

	// Override safety_fraction if present and positive
	if fractionRaw, ok := raw["safety_fraction"]; ok {
		var f float64
		if err := json.Unmarshal(fractionRaw, &f); err != nil {
			return fmt.Errorf("parsing safety_fraction field: %w", err)
		}
		if f > 0 {
			settings.SafetyFraction = f
		}
	}

	// Override warn_percent if present and positive
	if warnRaw, ok := raw["warn_percent"]; ok {
		var w int
		if err := json.Unmarshal(warnRaw, &w); err != nil {
			return fmt.Errorf("parsing warn_percent field: %w", err)
		}
		if w > 0 {
			settings.WarnPercent = w
		}
	}

	// Override default_context_window if present and positive
	if windowRaw, ok := raw["default_context_window"]; ok {
		var w int
		if err := json.Unmarshal(windowRaw, &w); err != nil {
			return fmt.Errorf("parsing default_context_window field: %w", err)
		}
		if w > 0 {
			settings.DefaultContextWindow = w
		}
	}

	// Merge context_windows if present
	if windowsRaw, ok := raw["context_windows"]; ok {
		var windows map[string]int
		if err := json.Unmarshal(windowsRaw, &windows); err != nil {
			return fmt.Errorf("parsing context_windows field: %w", err)
		}
		if settings.ContextWindows == nil {
			settings.ContextWindows = windows
		} else {
			for k, v := range windows {
				settings.ContextWindows[k] = v
			}
		}
	}

	return nil
}

// SaveCtxmeterSettings saves the ctxmeter settings to .ctxmeter/settings.json.
func SaveCtxmeterSettings(settings *CtxmeterSettings) error {
	return saveSettingsToFile(settings, CtxmeterSettingsFile)
}

// SaveCtxmeterSettingsLocal saves the ctxmeter settings to .ctxmeter/settings.local.json.
func SaveCtxmeterSettingsLocal(settings *CtxmeterSettings) error {
	return saveSettingsToFile(settings, CtxmeterSettingsLocalFile)
}

// loadSettingsFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadSettingsFromFile(filePath string) (*CtxmeterSettings, error) {
	settings := &CtxmeterSettings{
		Enabled: true, // Default to enabled
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(settings)
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	applyDefaults(settings)

	return settings, nil
}

func applyDefaults(settings *CtxmeterSettings) {
	// Apply defaults if not set
	if settings.WarnPercent <= 0 {
		settings.WarnPercent = DefaultWarnPercent
	}
	if settings.DefaultContextWindow <= 0 {
		settings.DefaultContextWindow = agent.DefaultContextWindow
	}
}

func saveSettingsToFile(settings *CtxmeterSettings, filePath string) error {
	// Get absolute path for the file
	filePathAbs, err := paths.AbsPath(filePath)
	if err != nil {
		filePathAbs = filePath // Fallback to relative
	}

	// Ensure directory exists
	dir := filepath.Dir(filePathAbs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	//nolint:gosec // G306: settings file is config, not secrets; 0o644 is appropriate
	if err := os.WriteFile(filePathAbs, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// IsEnabled returns whether ctxmeter is currently enabled.
// Returns true by default if settings cannot be loaded.
func IsEnabled() (bool, error) {
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return true, err
	}
	return settings.Enabled, nil
}

// GetTracker returns a tracker configured from settings.
// Falls back to the default safety fraction if settings cannot be loaded.
func GetTracker() (*tracker.Tracker, error) {
	store, err := marker.NewStore()
	if err != nil {
		return nil, err
	}

	settings, err := LoadCtxmeterSettings()
	if err != nil {
		// Fall back to default on error
		logging.Info(context.Background(), "falling back to default safety fraction - failed to load settings",
			slog.String("error", err.Error()))
		return tracker.New(store), nil
	}

	return tracker.NewWithSafetyFraction(store, settings.SafetyFraction), nil
}

// ContextWindowFor resolves the context window for a model using the
// configured per-model overrides and the configured default.
func (s *CtxmeterSettings) ContextWindowFor(modelID string) int {
	return agent.ResolveContextWindow(modelID, s.ContextWindows, s.DefaultContextWindow)
}

// GetLogLevel returns the configured log level from settings.
// Returns empty string if not configured (caller should use default).
// Note: CTXMETER_LOG_LEVEL env var takes precedence; check it first.
func GetLogLevel() string {
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return ""
	}
	return settings.LogLevel
}

// GetAgentsWithHooksInstalled returns names of agents that have hooks installed.
func GetAgentsWithHooksInstalled() []string {
	var installed []string
	for _, name := range agent.List() {
		ag, err := agent.Get(name)
		if err != nil {
			continue
		}
		if hs, ok := ag.(agent.HookSupport); ok && hs.AreHooksInstalled() {
			installed = append(installed, name)
		}
	}
	return installed
}

// JoinAgentNames joins agent names into a comma-separated string.
func JoinAgentNames(names []string) string {
	return strings.Join(names, ",")
}
