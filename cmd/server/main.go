package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncedsports/be-expense-approvals/internal/config"
	"github.com/syncedsports/be-expense-approvals/internal/database"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
)

var (
	cfgFile  string
	logLevel string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Expense approval workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the binary without a subcommand serves.
		RunE: runServe,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override service.log_level (debug, info, warn, error)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Service.LogLevel = logLevel
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	return cfg, log, nil
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	return database.New(ctx, database.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Database,
		SSLMode:     cfg.SSLMode,
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		MaxConnTime: cfg.MaxConnTime,
		MaxIdleTime: cfg.MaxIdleTime,
		HealthCheck: cfg.HealthCheck,
	})
}
