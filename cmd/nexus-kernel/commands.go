// commands.go contains the cobra command definitions and their flag
// configurations. Each command builder function creates a command and wires
// it to a run function in kernel.go.
package main

import (
	"github.com/spf13/cobra"
)

// turnFlags holds the subset of historymodel.PartialTurnContext a caller
// can override from the command line: one StringVarP/BoolVar pair per
// flag, bound to a struct field.
type turnFlags struct {
	configPath       string
	model            string
	approvalPolicy   string
	sandboxPolicy    string
	cwd              string
	networkAccess    bool
	reasoningEffort  string
	reasoningSummary string
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "kernel.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Override the configured model for this invocation")
	cmd.Flags().StringVar(&f.approvalPolicy, "approval-policy", "",
		"Override approval policy: unless_trusted | on_request | on_failure | never")
	cmd.Flags().StringVar(&f.sandboxPolicy, "sandbox-policy", "",
		"Override sandbox policy: read_only | workspace_write | danger_full_access")
	cmd.Flags().StringVar(&f.cwd, "cwd", "", "Override the working directory for tool calls")
	cmd.Flags().BoolVar(&f.networkAccess, "network-access", false,
		"Grant network access under workspace_write sandbox policy")
	cmd.Flags().StringVar(&f.reasoningEffort, "reasoning-effort", "", "Override reasoning effort")
	cmd.Flags().StringVar(&f.reasoningSummary, "reasoning-summary", "",
		"Override reasoning summary verbosity: auto | concise | detailed | none")
}

// buildRunCmd creates the "run" command: an interactive, multi-turn REPL
// against one conversation.
func buildRunCmd() *cobra.Command {
	flags := &turnFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session",
		Long: `Start an interactive session, reading one line per turn from stdin and
printing streamed assistant output, tool activity, and approval prompts to
stdout/stderr. Type /compact to trigger a compaction turn, /quit or Ctrl-D
to end the session.`,
		Example: `  # Start with the default config
  nexus-kernel run

  # Start read-only against a specific config
  nexus-kernel run --config prod.yaml --sandbox-policy read_only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// buildExecCmd creates the "exec" command: a single non-interactive turn.
func buildExecCmd() *cobra.Command {
	flags := &turnFlags{}
	cmd := &cobra.Command{
		Use:   "exec [prompt]",
		Short: "Run a single turn non-interactively and exit",
		Args:  cobra.ExactArgs(1),
		Example: `  # Ask a one-off question under a read-only sandbox
  nexus-kernel exec "summarize this repo's structure" --sandbox-policy read_only

  # Ask with a specific model
  nexus-kernel exec "fix the failing test" --model gpt-5-codex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}
