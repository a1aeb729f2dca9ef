package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/volumectl/pkg/registry"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(volumectl completion bash)

  # To load for each session (Linux):
  $ volumectl completion bash > ~/.local/share/bash-completion/completions/volumectl

  # To load for each session (macOS with Homebrew):
  $ volumectl completion bash > $(brew --prefix)/etc/bash_completion.d/volumectl

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ volumectl completion zsh > ~/.zsh/completions/_volumectl
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ volumectl completion fish > ~/.config/fish/completions/volumectl.fish

PowerShell:
  PS> volumectl completion powershell >> $PROFILE

Volume names are completed from the registry once it exists.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Annotations:           map[string]string{annotationSkipRegistry: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// completeVolumeNames completes the first argument with registered names
// of the placement selected by --hidden. It never creates the database.
func completeVolumeNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if logger == nil {
		if err := setup(cmd); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		defer teardown()
	}
	if _, err := os.Stat(cfg.Database); err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	r, err := registry.Open(registry.Options{Path: cfg.Database, Root: cfg.Root, Logger: logger})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer r.Close()

	records, err := r.List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	hidden, _ := cmd.Flags().GetBool("hidden")
	var names []string
	for _, rec := range records {
		if rec.Hidden == hidden && strings.HasPrefix(rec.Name, toComplete) {
			names = append(names, rec.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
