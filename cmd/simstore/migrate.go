package main

import (
	"fmt"

	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/migration"
	"github.com/smallbiznis/simstore/pkg/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := db.ConfigFrom(config.Load())
			if cfg.Type != "postgres" {
				return fmt.Errorf("migrations require postgres, got %q", cfg.Type)
			}
			dialector, err := db.Dialect(cfg)
			if err != nil {
				return err
			}
			conn, err := gorm.Open(dialector, &gorm.Config{})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
