package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fmueller/whisperd/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "whisperd v%s\n", version.Resolve())
			return nil
		},
	}
}
