package handler

import (
	"context"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/syncedsports/be-expense-approvals/internal/errors"
	"github.com/syncedsports/be-expense-approvals/internal/logger"
)

// HealthServiceName is the service name reported by the gRPC health server
// besides the overall "" entry.
const HealthServiceName = "expenses.v1.ExpenseApprovals"

// NewGRPCServer builds the gRPC server with the health service and
// reflection registered. The health status starts NOT_SERVING; run
// WatchHealth to keep it current.
func NewGRPCServer(log *logger.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		unaryRecovery(log),
		unaryLogging(log),
		unaryErrors(),
	))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv, hs
}

// WatchHealth pings db every interval and mirrors the result in hs until
// ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, db Pinger, interval time.Duration, log *logger.Logger) {
	updateHealth(ctx, hs, db, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateHealth(ctx, hs, db, log)
		}
	}
}

func updateHealth(ctx context.Context, hs *health.Server, db Pinger, log *logger.Logger) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := db.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Database ping failed; reporting NOT_SERVING")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", st)
	hs.SetServingStatus(HealthServiceName, st)
}

// ToStatus converts an application error to a gRPC status error. Errors that
// already carry a status pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(errors.GRPCCode(err), errors.PublicMessage(err))
}

func unaryErrors() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, ToStatus(err)
	}
}

func unaryLogging(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(ToStatus(err))
		ev := log.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = log.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

func unaryRecovery(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("method", info.FullMethod).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("gRPC panic recovered")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
