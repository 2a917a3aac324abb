package cli

import (
	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Hook handlers",
		Long:   "Commands called by agent hooks. These are internal and not for direct user use.",
		Hidden: true, // Internal command, not for direct user use
	}

	// Dynamically add agent hook subcommands
	// Each agent that implements HookHandler gets its own subcommand tree
	for _, agentName := range agent.List() {
		ag, err := agent.Get(agentName)
		if err != nil {
			continue
		}
		if handler, ok := ag.(agent.HookHandler); ok {
			cmd.AddCommand(newAgentHooksCmd(agentName, handler))
		}
	}

	return cmd
}
