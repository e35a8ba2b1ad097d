package main

import (
	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the 'completion' command, which prints a shell
// completion script. Completions for 'reset' suggest root labels from the
// agent's state file.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate completion script",
		Long: `To load completions:

Bash:
  $ source <(bsync completion bash)
  # or, for all new sessions (Linux):
  $ sudo bsync completion bash > /etc/bash_completion.d/bsync

Zsh:
  $ bsync completion zsh > "${fpath[1]}/_bsync"
  Start a new shell for this to take effect. If completion is not enabled yet,
  add "autoload -U compinit; compinit" to ~/.zshrc first.

Fish:
  $ bsync completion fish > ~/.config/fish/completions/bsync.fish

PowerShell:
  PS> bsync completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}
