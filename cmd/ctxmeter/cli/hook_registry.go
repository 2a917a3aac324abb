package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent/claudecode"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/logging"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

// HookHandlerFunc is a function that handles a specific hook event.
type HookHandlerFunc func() error

// hookRegistry maps (agentName, hookName) to handler functions.
// This allows agents to define their hook vocabulary while keeping
// handler logic in the CLI package (avoiding circular dependencies).
var hookRegistry = map[string]map[string]HookHandlerFunc{}

// RegisterHookHandler registers a handler for an agent's hook.
func RegisterHookHandler(agentName, hookName string, handler HookHandlerFunc) {
	if hookRegistry[agentName] == nil {
		hookRegistry[agentName] = make(map[string]HookHandlerFunc)
	}
	hookRegistry[agentName][hookName] = handler
}

// GetHookHandler returns the handler for an agent's hook, or nil if not found.
func GetHookHandler(agentName, hookName string) HookHandlerFunc {
	if handlers, ok := hookRegistry[agentName]; ok {
		return handlers[hookName]
	}
	return nil
}

// init registers Claude Code hook handlers.
// Each handler checks if ctxmeter is enabled before executing.
//
//nolint:gochecknoinits // Hook handler registration at startup is the intended pattern
func init() {
	RegisterHookHandler(agent.AgentNameClaudeCode, claudecode.HookNameSessionStart, func() error {
		enabled, err := IsEnabled()
		if err == nil && !enabled {
			return nil
		}
		return handleClaudeCodeSessionStart()
	})

	RegisterHookHandler(agent.AgentNameClaudeCode, claudecode.HookNameUserPromptSubmit, func() error {
		enabled, err := IsEnabled()
		if err == nil && !enabled {
			return nil
		}
		return handleClaudeCodeUserPromptSubmit()
	})

	RegisterHookHandler(agent.AgentNameClaudeCode, claudecode.HookNameStop, func() error {
		enabled, err := IsEnabled()
		if err == nil && !enabled {
			return nil
		}
		return handleClaudeCodeStop()
	})

	RegisterHookHandler(agent.AgentNameClaudeCode, claudecode.HookNamePreCompact, func() error {
		enabled, err := IsEnabled()
		if err == nil && !enabled {
			return nil
		}
		return handleClaudeCodePreCompact()
	})
}

// agentHookLogCleanup stores the cleanup function for agent hook logging.
// Set by PersistentPreRunE, called by PersistentPostRunE.
var agentHookLogCleanup func()

// currentHookAgentName stores the agent name for the currently executing hook.
// Set by newAgentHookVerbCmd before calling the handler. This lets handlers
// know which agent invoked the hook without guessing.
var currentHookAgentName string

// GetCurrentHookAgent returns the agent for the currently executing hook,
// based on the hook command structure (e.g. "ctxmeter hooks claude-code ...").
func GetCurrentHookAgent() (agent.Agent, error) {
	if currentHookAgentName == "" {
		return nil, errors.New("not in a hook context: agent name not set")
	}

	ag, err := agent.Get(currentHookAgentName)
	if err != nil {
		return nil, fmt.Errorf("getting hook agent %q: %w", currentHookAgentName, err)
	}
	return ag, nil
}

// initHookLogging wires settings-aware log levels and the per-session log
// file. Returns the cleanup function to call when the hook finishes.
func initHookLogging() func() {
	// Set up log level getter so logging can read from settings
	logging.SetLogLevelGetter(GetLogLevel)

	sessionID, err := paths.ReadCurrentSession()
	if err != nil || sessionID == "" {
		// No session file or empty - logging will use stderr fallback
		return func() {}
	}
	if err := logging.Init(sessionID); err != nil {
		// Init failed - logging will use stderr fallback
		return func() {}
	}
	return logging.Close
}

// newAgentHooksCmd creates a hooks subcommand for an agent that implements HookHandler.
// It dynamically creates subcommands for each hook the agent supports.
func newAgentHooksCmd(agentName string, handler agent.HookHandler) *cobra.Command {
	cmd := &cobra.Command{
		Use:    agentName,
		Short:  handler.Description() + " hook handlers",
		Hidden: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			agentHookLogCleanup = initHookLogging()
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if agentHookLogCleanup != nil {
				agentHookLogCleanup()
			}
			return nil
		},
	}

	for _, hookName := range handler.GetHookNames() {
		cmd.AddCommand(newAgentHookVerbCmd(agentName, hookName))
	}

	return cmd
}

// newAgentHookVerbCmd creates a command for a specific hook verb with
// structured logging. Handler failures are warned to stderr and swallowed:
// a broken hook must never block the agent.
func newAgentHookVerbCmd(agentName, hookName string) *cobra.Command {
	return &cobra.Command{
		Use:   hookName,
		Short: "Called on " + hookName,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Skip silently if not in a git repository - hooks shouldn't prevent the agent from working
			if _, err := paths.RepoRoot(); err != nil {
				return nil
			}

			start := time.Now()

			ctx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), agentName)

			logging.Debug(ctx, "hook invoked",
				slog.String("hook", hookName),
			)

			handler := GetHookHandler(agentName, hookName)
			if handler == nil {
				logging.Error(ctx, "no handler registered",
					slog.String("hook", hookName),
				)
				return fmt.Errorf("no handler registered for %s/%s", agentName, hookName)
			}

			// Set the current hook agent so handlers can retrieve it
			currentHookAgentName = agentName
			defer func() { currentHookAgentName = "" }()

			hookErr := handler()
			if hookErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: %s hook: %v\n", hookName, hookErr)
			}

			logging.LogDuration(ctx, slog.LevelDebug, "hook completed", start,
				slog.String("hook", hookName),
				slog.Bool("success", hookErr == nil),
			)

			return nil
		},
	}
}
