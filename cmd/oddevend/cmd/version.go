package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"oddeven/apps/chain/internal/app"
)

// Version and Commit are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the binary version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := fmt.Sprintf("%s %s (app version %d)", BinaryName, Version, app.AppVersion)
			if Commit != "" {
				out += " commit " + Commit
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}
