package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/consolidation"
	"github.com/ogurasousui/punch-consolidation/internal/platform/app"
	"github.com/ogurasousui/punch-consolidation/internal/platform/config"
	"github.com/ogurasousui/punch-consolidation/internal/platform/logger"
	"go.uber.org/zap"
)

type summary struct {
	Pairs      int                         `json:"pairs"`
	Aggregates []*aggregate.DailyAggregate `json:"aggregates"`
	Error      string                      `json:"error,omitempty"`
	Retriable  bool                        `json:"retriable,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to CONFIG_PATH env or assets/local.yaml)")
	timeout := flag.Duration("timeout", 0, "abort the run after this duration (overrides consolidation.run_timeout)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(effectiveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *timeout > 0 {
		cfg.Consolidation.RunTimeout = *timeout
	}

	zl, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	code := run(ctx, cfg, zl)
	_ = zl.Sync()
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) int {
	a, err := app.Build(ctx, cfg, zl)
	if err != nil {
		zl.Error("failed to initialize", zap.Error(err))
		return 1
	}
	defer a.Close()

	started := time.Now()
	touched, runErr := a.Engine.Consolidate(ctx)

	out := summary{Pairs: len(touched), Aggregates: touched}
	if runErr != nil {
		var re *consolidation.RunError
		if errors.As(runErr, &re) {
			out.Pairs = re.Pairs
		}
		out.Error = runErr.Error()
		out.Retriable = consolidation.Retriable(runErr)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		zl.Error("failed to write summary", zap.Error(err))
		return 1
	}

	zl.Info("consolidate command finished", zap.Int("pairs", out.Pairs), zap.Duration("elapsed", time.Since(started)))
	switch {
	case runErr == nil:
		return 0
	case out.Retriable:
		return 75
	default:
		return 1
	}
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "assets/local.yaml"
}
