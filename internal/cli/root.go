// Package cli implements the lockstore command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/lockstore/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// options holds the global flags and what they resolve to.
type options struct {
	configPath string
	backend    string
	logLevel   string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "lockstore",
		Short: "Version counter and row lock experiments",
		Long: `lockstore runs the version counter experiments against SQLite,
PostgreSQL or DynamoDB.

Commands:
  run      - Run scenarios and report observed versions
  list     - List the scenarios
  migrate  - Create the schema or tables
  contend  - Race workers on one record and check for lost updates

Example:
  lockstore run
  lockstore run force-increment-with-session --backend postgres
  lockstore contend --mode OPTIMISTIC --workers 8`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "Config file (or set LOCKSTORE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "Backend: sqlite, postgres or dynamodb")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newListCmd())
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newContendCmd(opts))
	return root
}

// Execute runs the CLI.
func Execute() error {
	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

// load reads the configuration and applies flag overrides.
func (o *options) load(logOut io.Writer) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}
