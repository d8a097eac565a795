package main

import (
	"fmt"

	"github.com/kinber/kinber/internal/config"
	"github.com/kinber/kinber/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and change triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(cfg.Database)
			if err != nil {
				return fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
			}
			if sqlDB, err := gormDB.DB(); err == nil {
				defer sqlDB.Close()
			}

			out := cmd.OutOrStdout()
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
			if err := db.InstallNotifyTriggers(gormDB); err != nil {
				return err
			}
			if cfg.Database.Driver == "postgres" {
				fmt.Fprintf(out, "Change notifications on channel %s\n", db.NotifyChannel)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDBSeedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the built-in default agent into an empty agents table",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := db.SeedDefaultAgent(a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Default agent ready")
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
