package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/version"
)

// NewVersionCmd constructs the `bowen version` subcommand.
// It prints the binary version, API version, git commit, and build date
// injected at build time via -ldflags.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bowen version, API version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
