package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ogurasousui/punch-consolidation/internal/core/consolidation"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler は cron 式に従って集計を定期実行します。
type Scheduler struct {
	engine   consolidation.UseCase
	log      *zap.Logger
	cron     *cron.Cron
	schedule string

	mu  sync.Mutex
	ctx context.Context
}

// New は Scheduler を生成します。schedule は 5 フィールドの cron 式または @every などの記述子です。
func New(engine consolidation.UseCase, schedule string, log *zap.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "scheduler"))

	cl := cronLogger{log: log.Sugar()}
	s := &Scheduler{
		engine:   engine,
		log:      log,
		schedule: schedule,
		ctx:      context.Background(),
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
	}

	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run はスケジュールを開始し、ctx が終了するまでブロックします。
// 終了時は実行中の集計の完了を待ってから戻ります。
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("scheduler started", zap.String("schedule", s.schedule))

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	touched, err := s.engine.Consolidate(ctx)
	switch {
	case err == nil:
		s.log.Info("scheduled consolidation finished", zap.Int("aggregates", len(touched)))
	case errors.Is(err, consolidation.ErrRunInProgress):
		s.log.Info("scheduled consolidation skipped", zap.Error(err))
	case consolidation.Retriable(err):
		s.log.Warn("scheduled consolidation interrupted", zap.Int("aggregates", len(touched)), zap.Error(err))
	default:
		s.log.Error("scheduled consolidation failed", zap.Int("aggregates", len(touched)), zap.Error(err))
	}
}

// cronLogger は cron.Logger を zap に橋渡しします。
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
