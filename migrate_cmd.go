package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/onnwee/enisa-bot/config"
	"github.com/onnwee/enisa-bot/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations and seed the core personalities",
			RunE: withDB(func(cmd *cobra.Command, database *sql.DB) error {
				if err := db.RunMigrations(database); err != nil {
					return err
				}
				return db.SeedPersonalities(cmd.Context(), db.NewStore(database))
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(_ *cobra.Command, database *sql.DB) error {
				return db.MigrateDown(database)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withDB(func(cmd *cobra.Command, database *sql.DB) error {
				v, dirty, err := db.GetMigrationVersion(database)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return err
			}),
		},
	)
	return cmd
}

func withDB(fn func(cmd *cobra.Command, database *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DBDsn == "" {
			return errors.New("DB_DSN is not set")
		}
		database, err := db.Connect(cmd.Context(), cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := fn(cmd, database); err != nil {
			slog.Error("migrate command failed", slog.String("cmd", cmd.Name()), slog.Any("err", err), slog.String("component", "db_migrate"))
			return err
		}
		return nil
	}
}
