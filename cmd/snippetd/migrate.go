package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sakif/snippet-vault/internal/migrate"
	"github.com/sakif/snippet-vault/internal/server"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date and exit",
		Long: `Run every pending migration step, each in its own transaction.

Steps inspect the live schema to decide whether they are needed, so running
migrate against an up-to-date database does nothing. If ADMIN_USERNAME and
ADMIN_PASSWORD are set, snippets without an owner are attached to that user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrations(cmd, flags, false)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which migration steps are pending without applying them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrations(cmd, flags, true)
		},
	})

	return cmd
}

func runMigrations(cmd *cobra.Command, flags *globalFlags, statusOnly bool) error {
	cfg, log, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAdmin(); err != nil {
		return err
	}

	db, err := server.OpenDatabase(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := migrate.New(db.Conn(), migrate.Options{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	}, log)

	if !statusOnly {
		if err := runner.Run(cmd.Context()); err != nil {
			return err
		}
	}

	steps, err := runner.Status(cmd.Context())
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), steps)
	return nil
}

func printStatus(w io.Writer, steps []migrate.StepStatus) {
	applied := color.New(color.FgGreen)
	pending := color.New(color.FgYellow)

	for _, s := range steps {
		if s.Pending {
			pending.Fprintf(w, "%-8s", "pending")
		} else {
			applied.Fprintf(w, "%-8s", "applied")
		}
		fmt.Fprintf(w, " %s\n", s.Name)
	}
}
