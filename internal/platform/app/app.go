package app

import (
	"context"
	"fmt"

	redislock "github.com/ogurasousui/punch-consolidation/internal/adapters/lock/redis"
	"github.com/ogurasousui/punch-consolidation/internal/adapters/repository/memory"
	"github.com/ogurasousui/punch-consolidation/internal/adapters/repository/postgres"
	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/consolidation"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
	"github.com/ogurasousui/punch-consolidation/internal/platform/config"
	pg "github.com/ogurasousui/punch-consolidation/internal/platform/db/postgres"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App は設定から組み立てたユースケース一式です。
type App struct {
	Punches    *punch.Service
	Aggregates *aggregate.Service
	Engine     *consolidation.Engine

	closers []func()
}

// Build は設定に従って永続化先とロックを選び、ユースケースを組み立てます。
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{}

	var (
		punchRepo     punch.Repository
		aggregateRepo aggregate.Repository
		punchTx       punch.TransactionManager
		engineTx      consolidation.TransactionManager
	)

	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		punchRepo = memory.NewPunchRepository()
		aggregateRepo = memory.NewAggregateRepository()
		log.Warn("using in-memory storage; data is lost on restart")
	default:
		pool, err := pg.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("initialize database pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		tx := pg.NewTransactionManager(pool)
		punchRepo = postgres.NewPunchRepository(pool)
		aggregateRepo = postgres.NewAggregateRepository(pool)
		punchTx, engineTx = tx, tx
		log.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))
	}

	locker, err := a.buildLocker(ctx, cfg.Lock, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := consolidation.NewEngine(punchRepo, aggregateRepo, consolidation.Options{
		Tx:                     engineTx,
		Locker:                 locker,
		Logger:                 log,
		PageSize:               cfg.Consolidation.PageSize,
		Location:               cfg.Consolidation.Location(),
		NegativeDurationPolicy: consolidation.NegativeDurationPolicy(cfg.Consolidation.NegativeDurationPolicy),
		RunTimeout:             cfg.Consolidation.RunTimeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize consolidation engine: %w", err)
	}

	a.Punches = punch.NewService(punchRepo, nil, punchTx)
	a.Aggregates = aggregate.NewService(aggregateRepo)
	a.Engine = engine
	return a, nil
}

func (a *App) buildLocker(ctx context.Context, cfg config.LockConfig, log *zap.Logger) (consolidation.Locker, error) {
	if cfg.Driver != config.LockDriverRedis {
		return consolidation.NewMutexLocker(), nil
	}

	rdb, err := redislock.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("initialize redis lock: %w", err)
	}
	a.closers = append(a.closers, func() { closeRedis(rdb, log) })

	log.Info("using redis run lock", zap.String("addr", cfg.RedisAddr), zap.String("key", cfg.Key))
	return redislock.NewLocker(rdb, cfg.Key, cfg.TTL), nil
}

// Close は確保した接続を逆順に解放します。
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeRedis(rdb *goredis.Client, log *zap.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("close redis client", zap.Error(err))
	}
}
