package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/ogurasousui/punch-consolidation/internal/adapters/http/handler"
	"github.com/ogurasousui/punch-consolidation/internal/platform/app"
	"github.com/ogurasousui/punch-consolidation/internal/platform/config"
	"github.com/ogurasousui/punch-consolidation/internal/platform/logger"
	"github.com/ogurasousui/punch-consolidation/internal/platform/scheduler"
	"github.com/ogurasousui/punch-consolidation/internal/platform/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "assets/local.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Log.Mode == "production" || cfg.Log.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		Punches:        handler.NewPunchHandler(a.Punches),
		Consolidations: handler.NewConsolidationHandler(a.Engine, a.Aggregates, zl),
		Logger:         zl,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := server.New(router, server.Options{
		HTTPAddr:        cfg.Server.ListenAddr,
		GRPCAddr:        cfg.Server.GRPCListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          zl,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.Consolidation.Schedule != "" {
		sched, err := scheduler.New(a.Engine, cfg.Consolidation.Schedule, zl)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	return g.Wait()
}
