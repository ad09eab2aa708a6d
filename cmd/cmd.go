// Package cmd wires the command-line surface: the cast tool for offline
// dtype conversion and an inspect listing for checkpoint contents.
package cmd

import (
	"github.com/spf13/cobra"

	// Register the supported architectures.
	_ "github.com/llamastream/llamastream/model/models/llama"
	_ "github.com/llamastream/llamastream/model/models/mixtral"
)

// NewCLI creates the root command.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "llamastream",
		Short:         "LLaMA-family causal LM inference engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(
		NewCastCommand(),
		NewInspectCommand(),
	)
	return rootCmd
}
