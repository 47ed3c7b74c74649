package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schoolpoints/backend/internal/academic"
	"schoolpoints/backend/internal/attendance"
	"schoolpoints/backend/internal/auth"
	"schoolpoints/backend/internal/classroom"
	"schoolpoints/backend/internal/event"
	"schoolpoints/backend/internal/gateway"
	"schoolpoints/backend/internal/metrics"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/ranking"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
	"schoolpoints/backend/internal/user"
)

func main() {
	_ = shared.LoadEnv(".env")

	// 1. Load Configuration (validates JWT_SECRET and the store settings)
	cfg, err := shared.LoadServiceConfig("school-points-api")
	if err != nil {
		zap.S().Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := shared.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		zap.S().Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	shared.LogConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Open the store
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Error("Error closing store", zap.Error(err))
		}
	}()

	// 3. Initialize Services
	pol := policy.New(cfg.Policy.RankingAccess)
	m := metrics.New()
	calendar := academic.NewCalendarService(st, pol, logger)
	classrooms := classroom.NewClassroomService(st, pol, logger)

	router := gateway.SetupRoutes(&gateway.Services{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Policy:     pol,
		Metrics:    m,
		Auth:       auth.NewAuthService(st, cfg, logger),
		Events:     event.NewEventService(st, pol, cfg, logger).WithRecorder(m),
		Attendance: attendance.NewAttendanceService(st, pol, logger),
		Classrooms: classrooms,
		Users:      user.NewUserService(st, pol, classrooms, cfg, logger),
		Rankings:   ranking.NewRankingService(st, pol, calendar, logger).WithRecorder(m),
		Calendar:   calendar,
	})

	// 4. Configure Servers
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	grpcServer, healthServer := gateway.NewGRPCServer(logger)
	listener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	// 5. Run until a signal arrives or a server fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP API listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC health listening", zap.String("port", cfg.GRPCPort))
		return errors.Wrap(grpcServer.Serve(listener), "grpc server")
	})
	g.Go(func() error {
		gateway.WatchStore(gctx, st, healthServer, 15*time.Second, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
