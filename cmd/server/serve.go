package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/pharmacy/internal/adapter/client"
	"github.com/rl1809/pharmacy/internal/adapter/handler"
	"github.com/rl1809/pharmacy/internal/adapter/storage"
	"github.com/rl1809/pharmacy/internal/config"
	"github.com/rl1809/pharmacy/internal/core/service"
	"github.com/rl1809/pharmacy/internal/metrics"
	"github.com/rl1809/pharmacy/internal/port"
	"github.com/rl1809/pharmacy/internal/tracer"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	tp, err := tracer.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector(cfg.Tracing.ServiceName)

	var db port.DatabaseRepository
	switch cfg.Store {
	case config.StoreMemory:
		db = storage.NewMemoryAdapter()
		log.Warn("using in-memory store, data is lost on exit")
	default:
		sqlDB, err := openMySQL(ctx, cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		mysqlAdapter := storage.NewMySQLAdapter(sqlDB)
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		db = mysqlAdapter
		log.Info("connected to mysql")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	log.Info("connected to redis")
	cache := storage.NewRedisAdapter(rdb)

	auth := client.NewCachedAuth(
		client.NewAuthClient(client.Options{
			BaseURL:  cfg.AuthServiceURL,
			Timeout:  cfg.UpstreamTimeout,
			Logger:   log,
			Recorder: collector,
		}),
		cache, cfg.AuthCacheTTL, log,
	)
	wallet := client.NewWalletClient(client.Options{
		BaseURL:  cfg.WalletServiceURL,
		Timeout:  cfg.UpstreamTimeout,
		Logger:   log,
		Recorder: collector,
	})

	inventory := service.NewInventoryService(db, log, collector)
	prescriptions := service.NewPrescriptionService(service.PrescriptionDeps{
		DB:         db,
		Cache:      cache,
		Wallet:     wallet,
		Logger:     log,
		Recorder:   collector,
		PayLockTTL: cfg.PayLockTTL,
	})

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterDeps{
		Handler:     handler.NewHTTPHandler(inventory, prescriptions, log),
		Auth:        auth,
		Logger:      log,
		Observer:    collector,
		RateLimiter: handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, collector.RateLimited.Inc),
		Metrics:     collector.Handler(),
		ServiceName: cfg.Tracing.ServiceName,
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(prescriptions, log), auth, log)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		log.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}
