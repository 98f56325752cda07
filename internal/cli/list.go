package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/lockstore/scenario"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the scenarios",
		Args:  cobra.NoArgs,
		// Listing needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			for _, sc := range scenario.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", sc.Name, sc.Description)
			}
		},
	}
}
