package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncedsports/be-expense-approvals/internal/auth"
	"github.com/syncedsports/be-expense-approvals/internal/cache"
	"github.com/syncedsports/be-expense-approvals/internal/client"
	"github.com/syncedsports/be-expense-approvals/internal/handler"
	"github.com/syncedsports/be-expense-approvals/internal/rules"
	"github.com/syncedsports/be-expense-approvals/internal/service"
)

const healthInterval = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Expense Approvals Service")

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		applied, err := db.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info().Strs("migrations", applied).Msg("Database migrations applied")
	}

	// Categories are served from the database alone when Redis is off or down.
	var categoryCache service.CategoryCache
	if cfg.Redis.Enabled {
		refCache, err := cache.NewReferenceCache(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.CategoryTTL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable; category cache disabled")
		} else {
			defer refCache.Close()
			categoryCache = refCache
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Category cache connected")
		}
	}

	var notifier service.Notifier = client.NewLogNotifier(log)
	if cfg.NATS.Enabled {
		conn, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			return err
		}
		defer conn.Drain()
		notifier = client.NewNotificationPublisher(conn, log)
		log.Info().Str("url", cfg.NATS.URL).Msg("Publishing notifications to NATS")
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	store := service.NewPostgresStore(db)
	approvals := service.NewApprovalService(store, notifier, log)
	expenses := service.NewExpenseService(store, rules.NewExprEvaluator(), notifier, service.RoutingSettings{
		DefaultEscalationHours: cfg.Approval.DefaultEscalationHours,
		FallbackApproverRoles:  cfg.Approval.FallbackApproverRoles,
	}, log)
	pending := service.NewPendingQueueService(store, log)
	refs := service.NewReferenceService(store, categoryCache, log)
	ruleAdmin := service.NewRuleService(store, log)

	httpHandler := handler.NewHTTPHandler(approvals, expenses, pending, refs, ruleAdmin, log)
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.NewRouter(httpHandler, handler.RouterConfig{
			Tokens:         tokens,
			DB:             db,
			Version:        cfg.Service.Version,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Log:            log,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer, healthServer := handler.NewGRPCServer(log)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to create gRPC listener: %w", err)
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go handler.WatchHealth(healthCtx, healthServer, db, healthInterval, log)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed, shutting down")
	}

	stopHealth()
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	log.Info().Msg("Server stopped")
	return runErr
}
