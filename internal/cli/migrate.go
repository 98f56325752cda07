package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/lockstore/dynamostore"
	"github.com/jacentio/lockstore/internal/config"
	"github.com/jacentio/lockstore/sqlstore"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema or tables",
		Long: `Apply the embedded SQL migrations, or create the DynamoDB tables with
TTL enabled. Running it again is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if opts.cfg.Backend == config.BackendDynamoDB {
				client, err := dynamoClient(ctx, opts.cfg.DynamoDB)
				if err != nil {
					return err
				}
				created, err := dynamostore.CreateTables(ctx, client, opts.cfg.DynamoStore(opts.logger))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d tables\n", len(created))
				return nil
			}

			sqlCfg := opts.cfg.SQLStore(opts.logger)
			sqlCfg.Migrate = false
			b, err := sqlstore.Open(ctx, sqlCfg)
			if err != nil {
				return fmt.Errorf("open %s: %w", opts.cfg.Backend, err)
			}
			defer b.Close()
			if err := b.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", b.Dialect())
			return nil
		},
	}
}
