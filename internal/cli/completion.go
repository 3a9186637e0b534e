package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var completionNoDesc bool

// completionGenerators maps a shell to the cobra generator for it. The bool
// asks for descriptions next to each candidate.
var completionGenerators = map[string]func(root *cobra.Command, w io.Writer, desc bool) error{
	"bash": func(root *cobra.Command, w io.Writer, desc bool) error {
		return root.GenBashCompletionV2(w, desc)
	},
	"zsh": func(root *cobra.Command, w io.Writer, desc bool) error {
		if desc {
			return root.GenZshCompletion(w)
		}
		return root.GenZshCompletionNoDesc(w)
	},
	"fish": func(root *cobra.Command, w io.Writer, desc bool) error {
		return root.GenFishCompletion(w, desc)
	},
	"powershell": func(root *cobra.Command, w io.Writer, desc bool) error {
		if desc {
			return root.GenPowerShellCompletionWithDesc(w)
		}
		return root.GenPowerShellCompletion(w)
	},
}

func completionShells() []string {
	shells := make([]string, 0, len(completionGenerators))
	for sh := range completionGenerators {
		shells = append(shells, sh)
	}
	sort.Strings(shells)
	return shells
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Generate a shell completion script",
	Long: `Generate a shell completion script for rsyncer.

Besides commands and flags, the scripts complete job names for
"jobs run" and "command --job", and config keys for "config get|set".
Job names are read from the config file at completion time.

Examples:
  source <(rsyncer completion bash)
  rsyncer completion zsh > "${fpath[1]}/_rsyncer"
  rsyncer completion fish > ~/.config/fish/completions/rsyncer.fish
  rsyncer completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells(),
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		gen, ok := completionGenerators[args[0]]
		if !ok {
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
		if err := gen(cmd.Root(), os.Stdout, !completionNoDesc); err != nil {
			return fmt.Errorf("generate %s completion: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	completionCmd.Flags().BoolVar(&completionNoDesc, "no-descriptions", false, "omit candidate descriptions")
	rootCmd.AddCommand(completionCmd)
}
