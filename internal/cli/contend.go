package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/lockstore/scenario"
	"github.com/jacentio/lockstore/store"
)

func newContendCmd(opts *options) *cobra.Command {
	var (
		workers    int
		iterations int
		parentID   int64
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "contend",
		Short: "Race workers on one record and check for lost updates",
		Long: `Start concurrent workers that each read the same parent with one lock
mode and bump its version. The run fails when the final version differs
from the number of committed units of work.

Example:
  lockstore contend --mode PESSIMISTIC_FORCE_INCREMENT --workers 8
  lockstore contend --mode OPTIMISTIC --iterations 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.cfg.Contend
			if cmd.Flags().Changed("workers") {
				c.Workers = workers
			}
			if cmd.Flags().Changed("iterations") {
				c.Iterations = iterations
			}
			if cmd.Flags().Changed("parent") {
				c.ParentID = parentID
			}
			if cmd.Flags().Changed("mode") {
				c.Mode = mode
			}
			lockMode, err := store.ParseLockMode(c.Mode)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := scenario.Contend(ctx, st, scenario.ContendOptions{
				Workers:    c.Workers,
				Iterations: c.Iterations,
				ParentID:   c.ParentID,
				Mode:       lockMode,
				Logger:     opts.logger,
			})
			if result != nil {
				fmt.Fprintln(cmd.OutOrStdout(), result)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent workers (default from config)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Units of work per worker (default from config)")
	cmd.Flags().Int64Var(&parentID, "parent", 0, "Id of the contended parent (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Lock mode, e.g. OPTIMISTIC or PESSIMISTIC_WRITE (default from config)")
	return cmd
}
