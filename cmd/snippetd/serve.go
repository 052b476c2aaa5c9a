package main

import (
	"github.com/spf13/cobra"

	"github.com/sakif/snippet-vault/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the database, then serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			// New refuses to return a server until every migration step
			// has succeeded.
			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			return srv.Start()
		},
	}
}
