package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

func newDoctorCmd() *cobra.Command {
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose and repair the ctxmeter setup",
		Long: `Check the ctxmeter setup for common problems and offer to fix them.

The checks are:
  - Inside a git repository
  - Settings files parse and hold sensible values
  - Claude Code hooks are installed and match the current install format
  - The .ctxmeter directory is writable
  - Marker files under .ctxmeter/context/ parse as valid state

For each corrupt marker file, you can choose to:
  - Delete: Remove the file so the session starts a fresh baseline
  - Skip: Leave the file as-is

Use --force to delete all corrupt marker files without prompting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.OutOrStdout(), forceFlag)
		},
	}

	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Repair problems without prompting")

	return cmd
}

func runDoctor(w io.Writer, force bool) error {
	// Everything below needs the repo root, so this one is fatal
	root, err := paths.RepoRoot()
	if err != nil {
		fmt.Fprintln(w, "✕ not a git repository")
		return errors.New("doctor requires a git repository")
	}
	fmt.Fprintf(w, "✓ git repository (%s)\n", root)

	problems := 0
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		fmt.Fprintf(w, "✕ settings unreadable: %v\n", err)
		problems++
		settings = &CtxmeterSettings{Enabled: true}
		applyDefaults(settings)
	} else {
		warnings := settingsWarnings(settings)
		if len(warnings) == 0 {
			fmt.Fprintln(w, "✓ settings valid")
		} else {
			fmt.Fprintln(w, "✕ settings hold suspicious values:")
			for _, warning := range warnings {
				fmt.Fprintf(w, "    %s\n", warning)
			}
			problems += len(warnings)
		}
	}

	problems += checkHookDrift(w, settings.LocalDev)

	if err := checkNamespaceWritable(root); err != nil {
		fmt.Fprintf(w, "✕ %s not writable: %v\n", CtxmeterDir, err)
		problems++
	} else {
		fmt.Fprintf(w, "✓ %s writable\n", CtxmeterDir)
	}

	remaining, err := checkCorruptMarkers(w, filepath.Join(root, ContextStateDir), force)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}
	problems += remaining

	fmt.Fprintln(w)
	if problems == 0 {
		fmt.Fprintln(w, "All checks passed.")
		return nil
	}
	return fmt.Errorf("%d problem(s) found", problems)
}

// settingsWarnings returns human-readable notes for setting values that
// parse fine but will not behave the way the author likely intended.
func settingsWarnings(settings *CtxmeterSettings) []string {
	var warnings []string

	// Out-of-range fractions are silently replaced by the default
	if settings.SafetyFraction < 0 || settings.SafetyFraction >= 1 {
		if settings.SafetyFraction != 0 {
			warnings = append(warnings,
				fmt.Sprintf("safety_fraction %v is outside (0, 1) and will be ignored", settings.SafetyFraction))
		}
	}

	if settings.WarnPercent > 100 {
		warnings = append(warnings,
			fmt.Sprintf("warn_percent %d is above 100; usage warnings will rarely fire", settings.WarnPercent))
	}

	for model, window := range settings.ContextWindows {
		if window <= 0 {
			warnings = append(warnings,
				fmt.Sprintf("context_windows[%q] = %d is not positive and will be ignored", model, window))
		}
	}

	return warnings
}

// checkHookDrift reports missing hooks and hooks whose configured command
// differs from what a fresh install would write. Returns the problem count.
func checkHookDrift(w io.Writer, localDev bool) int {
	ag, err := agent.Get(agent.AgentNameClaudeCode)
	if err != nil {
		fmt.Fprintf(w, "✕ agent unavailable: %v\n", err)
		return 1
	}

	hookAgent, ok := ag.(agent.HookSupport)
	if !ok || !hookAgent.AreHooksInstalled() {
		fmt.Fprintln(w, "✕ Claude Code hooks not installed (run `ctxmeter enable`)")
		return 1
	}

	diagAgent, ok := ag.(agent.HookDiagnostics)
	if !ok {
		fmt.Fprintln(w, "✓ Claude Code hooks installed")
		return 0
	}

	drifts, err := diagAgent.HookDrift(localDev)
	if err != nil {
		fmt.Fprintf(w, "✕ could not check hook configuration: %v\n", err)
		return 1
	}
	if len(drifts) == 0 {
		fmt.Fprintln(w, "✓ Claude Code hooks installed")
		return 0
	}

	fmt.Fprintf(w, "✕ %d hook(s) drifted from the current install format:\n", len(drifts))
	dmp := diffmatchpatch.New()
	for _, d := range drifts {
		if d.Actual == "" {
			fmt.Fprintf(w, "    %s: missing (expected %q)\n", d.Hook, d.Expected)
			continue
		}
		diffs := dmp.DiffMain(d.Actual, d.Expected, false)
		fmt.Fprintf(w, "    %s: %s\n", d.Hook, strings.TrimSpace(dmp.DiffPrettyText(diffs)))
	}
	fmt.Fprintln(w, "  Run `ctxmeter enable --force` to reinstall.")
	return len(drifts)
}

// checkNamespaceWritable probes that ctxmeter can create and write files
// under .ctxmeter/.
func checkNamespaceWritable(root string) error {
	tmpDir := filepath.Join(root, CtxmeterTmpDir)
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return err
	}

	probe, err := os.CreateTemp(tmpDir, "doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()   //nolint:errcheck
	_ = os.Remove(name) //nolint:errcheck
	return nil
}

// checkCorruptMarkers scans the context directory for marker files that
// fail to parse and offers to delete them. Returns how many were left
// in place.
func checkCorruptMarkers(w io.Writer, dir string, force bool) (int, error) {
	corrupt, err := findCorruptMarkers(dir)
	if err != nil {
		fmt.Fprintf(w, "✕ could not scan marker files: %v\n", err)
		return 1, nil
	}
	if len(corrupt) == 0 {
		fmt.Fprintln(w, "✓ marker files valid")
		return 0, nil
	}

	fmt.Fprintf(w, "✕ %d corrupt marker file(s):\n", len(corrupt))

	remaining := 0
	for _, name := range corrupt {
		path := filepath.Join(dir, name)

		if force {
			if err := os.Remove(path); err != nil {
				fmt.Fprintf(w, "    %s: failed to delete: %v\n", name, err)
				remaining++
				continue
			}
			fmt.Fprintf(w, "    %s: deleted\n", name)
			continue
		}

		action, err := promptMarkerAction(name)
		if err != nil {
			return remaining, err
		}

		switch action {
		case "delete":
			if err := os.Remove(path); err != nil {
				fmt.Fprintf(w, "    %s: failed to delete: %v\n", name, err)
				remaining++
				continue
			}
			fmt.Fprintf(w, "    %s: deleted\n", name)
		case "skip":
			fmt.Fprintf(w, "    %s: skipped\n", name)
			remaining++
		}
	}

	return remaining, nil
}

// findCorruptMarkers returns marker file names under dir that do not
// parse as marker state. Matches the load-path definition of corrupt:
// empty files and invalid JSON.
func findCorruptMarkers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var corrupt []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) //nolint:gosec // path is repo-local
		if err != nil {
			continue
		}
		if len(data) == 0 {
			corrupt = append(corrupt, entry.Name())
			continue
		}
		var m marker.Marker
		if err := json.Unmarshal(data, &m); err != nil {
			corrupt = append(corrupt, entry.Name())
		}
	}
	return corrupt, nil
}

// promptMarkerAction asks the user what to do with a corrupt marker file.
func promptMarkerAction(name string) (string, error) {
	var action string

	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Fix corrupt marker %s?", name)).
				Options(
					huh.NewOption("Delete (session starts a fresh baseline)", "delete"),
					huh.NewOption("Skip (leave as-is)", "skip"),
				).
				Value(&action),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", huh.ErrUserAborted
		}
		return "", fmt.Errorf("marker fix prompt failed: %w", err)
	}

	return action, nil
}
