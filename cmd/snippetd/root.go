package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/snippet-vault/internal/config"
	"github.com/sakif/snippet-vault/internal/logger"
)

// globalFlags override the matching environment settings when set.
type globalFlags struct {
	port   int
	dbPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "snippetd",
		Short: "Multi-user code snippet vault with shareable links",
		Long: `snippetd stores snippets made of ordered code fragments, tagged with
categories, and publishes them through expiring, optionally
authenticated share links.

Configuration comes from the environment (and .env, if present).`,
		SilenceUsage: true,
	}

	root.PersistentFlags().IntVar(&flags.port, "port", 0, "HTTP port (overrides PORT)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newMigrateCmd(flags))

	return root
}

// loadConfig reads the environment and applies any flags the user set.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = flags.port
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = flags.dbPath
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	return cfg, log, nil
}
