package cmd

import (
	"github.com/spf13/cobra"
)

const BinaryName = "oddevend"

// NewRootCmd creates the oddevend root command. It is called once in main.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           BinaryName,
		Short:         "Odd/Even commit-reveal game chain (CometBFT ABCI app)",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// set the default command outputs
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())
		},
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newCommitCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
