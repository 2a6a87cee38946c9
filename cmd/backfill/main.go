/**
 * @description
 * Operator CLI for one-off ledger maintenance: applying migrations and
 * materializing occurrences for a custom horizon, e.g. after a template import
 * or before opening registration for a new season.
 *
 * Usage:
 *   backfill migrate
 *   backfill materialize --days 90
 *
 * @dependencies
 * - github.com/spf13/cobra: command line parsing.
 * - Environment variables: DATABASE_URL, VENUE_TIMEZONE (see internal/config).
 */
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/filipilijevski/sports-booking-sub001/internal/app"
	"github.com/filipilijevski/sports-booking-sub001/internal/config"
	"github.com/filipilijevski/sports-booking-sub001/internal/logger"
	"github.com/filipilijevski/sports-booking-sub001/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "backfill",
		Short:         "Entitlement ledger maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newMigrateCmd(), newMaterializeCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}

func newMaterializeCmd() *cobra.Command {
	var (
		days    int
		assumeY bool
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Create missing program occurrences for the next N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.MaterializerHorizonDays
			}
			if days > cfg.MaterializerMaxHorizonDays {
				return fmt.Errorf("--days must be at most %d", cfg.MaterializerMaxHorizonDays)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Materializing occurrences for %d days in %s.\n", days, cfg.Location)
			if !assumeY && !confirm(cmd.InOrStdin(), cmd.OutOrStdout()) {
				fmt.Fprintln(cmd.OutOrStdout(), "Materialization cancelled.")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			log := logger.New(cfg.LogLevel)
			dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer dbpool.Close()

			service := app.NewService(store.NewPostgresRepository(dbpool, cfg.LockTimeout()), nil, log, app.Options{
				Location:       cfg.Location,
				RetryLimit:     cfg.OptimisticRetryLimit,
				MaxHorizonDays: cfg.MaterializerMaxHorizonDays,
				Exchange:       cfg.EventsExchange,
			})
			created, err := service.MaterializeWindow(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d occurrences.\n", created)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "horizon in days (defaults to MATERIALIZER_HORIZON_DAYS)")
	cmd.Flags().BoolVarP(&assumeY, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func loadPostgresConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, err
	}
	if cfg.StoreDriver != config.StoreDriverPostgres || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return config.Config{}, fmt.Errorf("backfill requires STORE_DRIVER=postgres and DATABASE_URL")
	}
	slog.SetDefault(logger.New(cfg.LogLevel))
	return cfg, nil
}

func confirm(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Continue? (yes/no): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}
