package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/lockstore/scenario"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios and report observed versions",
		Long: `Run the named scenarios, or every scenario when none is named, and
print the observed version of each step next to the expected one.

Example:
  lockstore run
  lockstore run cascade-on-child-update child-persist-on-update`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			runner := scenario.NewRunner(st, opts.logger)
			if len(args) == 0 {
				reports, err := runner.RunAll(ctx)
				for _, r := range reports {
					fmt.Fprint(cmd.OutOrStdout(), r)
				}
				return err
			}

			var errs []error
			for _, name := range args {
				report, err := runner.Run(ctx, name)
				if report != nil {
					fmt.Fprint(cmd.OutOrStdout(), report)
				}
				if err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}
