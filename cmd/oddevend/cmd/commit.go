package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"oddeven/apps/chain/internal/commitment"
)

// newCommitCmd prints the hashOdd for a secret word, for use in game/start.
func newCommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <word>",
		Short: "Print the keccak256 commitment of a magic word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), commitment.Commit(args[0]).String())
			return err
		},
	}
}
