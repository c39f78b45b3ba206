package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncedsports/be-expense-approvals/internal/cache"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			db, err := connectDatabase(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			applied, err := db.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				log.Info().Msg("Database schema is up to date")
				return nil
			}
			for _, name := range applied {
				log.Info().Str("migration", name).Msg("Applied migration")
			}

			// Migrations may have reseeded categories.
			if cfg.Redis.Enabled {
				refCache, err := cache.NewReferenceCache(ctx, cache.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
					TTL:      cfg.Redis.CategoryTTL,
				})
				if err != nil {
					log.Warn().Err(err).Msg("Redis unavailable; cached categories expire on their own")
					return nil
				}
				defer refCache.Close()
				if err := refCache.InvalidateCategories(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to invalidate cached categories")
				}
			}
			return nil
		},
	}
}
