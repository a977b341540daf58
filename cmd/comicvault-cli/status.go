package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/comicvault/internal/config"
	"github.com/vrsandeep/comicvault/internal/db"
	"github.com/vrsandeep/comicvault/internal/seed"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status file of the last seed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Seed.StatusFile == "" {
				return errors.New("seed status file is disabled")
			}
			st, err := seed.ReadStatus(cfg.Seed.StatusFile)
			if errors.Is(err, seed.ErrNoStatus) {
				fmt.Fprintln(cmd.OutOrStdout(), "No seed run recorded yet.")
				return nil
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer log.Sync()

			database, err := db.InitDB(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.Close()

			if err := db.RunMigrations(database); err != nil {
				return err
			}
			version, dirty, err := db.Version(database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}
