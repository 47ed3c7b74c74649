package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"schoolpoints/backend/internal/store"
)

// HealthService is the service name reported on the gRPC health endpoint
const HealthService = "schoolpoints.API"

// NewGRPCServer builds the gRPC server carrying the standard health service
// and reflection. Its serving status follows the store.
func NewGRPCServer(logger *zap.Logger) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(unaryLogger(logger)))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

// WatchStore pings st every interval and mirrors the result into hs until
// ctx is done
func WatchStore(ctx context.Context, st *store.Store, hs *health.Server, interval time.Duration, logger *zap.Logger) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			logger.Warn("store ping failed", zap.Error(err))
			hs.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return
		}
		hs.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			check()
		}
	}
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}
