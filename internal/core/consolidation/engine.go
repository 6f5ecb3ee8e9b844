package consolidation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
	"go.uber.org/zap"
)

const defaultPageSize = 500

// Clock は現在時刻を提供します。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// TransactionManager はトランザクション制御の抽象化です。
type TransactionManager interface {
	WithinReadWrite(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactionManager struct{}

func (noopTransactionManager) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Options は Engine の依存と動作設定です。ゼロ値の項目には既定値が使われます。
type Options struct {
	Tx                     TransactionManager
	Locker                 Locker
	Clock                  Clock
	Logger                 *zap.Logger
	PageSize               int
	Location               *time.Location
	NegativeDurationPolicy NegativeDurationPolicy
	RunTimeout             time.Duration
}

// UseCase は集計実行の公開インターフェースです。
type UseCase interface {
	Consolidate(ctx context.Context) ([]*aggregate.DailyAggregate, error)
}

// Engine は未集計の打刻を日次集計へ反映します。
type Engine struct {
	punches    punch.Repository
	aggregates aggregate.Repository
	tx         TransactionManager
	locker     Locker
	clock      Clock
	log        *zap.Logger
	pageSize   int
	location   *time.Location
	policy     NegativeDurationPolicy
	runTimeout time.Duration
}

// NewEngine は Engine を生成します。
func NewEngine(punches punch.Repository, aggregates aggregate.Repository, opts Options) (*Engine, error) {
	if punches == nil || aggregates == nil {
		return nil, ErrStoresNotSupplied
	}

	policy, err := ParseNegativeDurationPolicy(string(opts.NegativeDurationPolicy))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		punches:    punches,
		aggregates: aggregates,
		tx:         opts.Tx,
		locker:     opts.Locker,
		clock:      opts.Clock,
		log:        opts.Logger,
		pageSize:   opts.PageSize,
		location:   opts.Location,
		policy:     policy,
		runTimeout: opts.RunTimeout,
	}
	if e.tx == nil {
		e.tx = noopTransactionManager{}
	}
	if e.locker == nil {
		e.locker = NewMutexLocker()
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.pageSize <= 0 {
		e.pageSize = defaultPageSize
	}
	if e.location == nil {
		e.location = time.UTC
	}
	e.log = e.log.With(zap.String("component", "consolidation"))

	return e, nil
}

// Consolidate は 1 回分の集計を実行し、今回更新した集計を更新順に返します。
// 同じ集計に複数のペアが加算された場合は、加算ごとのスナップショットがそれぞれ含まれます。
// 途中で失敗した場合も、それまでに確定した集計と *RunError を返します。
func (e *Engine) Consolidate(ctx context.Context) ([]*aggregate.DailyAggregate, error) {
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	release, err := e.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	log := e.log.With(zap.String("run_id", uuid.NewString()))
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release consolidation lock", zap.Error(err))
		}
	}()

	started := e.clock.Now()
	log.Info("consolidation started")

	records, err := e.fetchUnconsolidated(ctx)
	if err != nil {
		log.Error("fetch unconsolidated punches", zap.Error(err))
		return nil, &RunError{Pairs: 0, Err: err}
	}
	sortForPairing(records)

	touched := make([]*aggregate.DailyAggregate, 0, len(records)/2)
	pairs := 0
	for i := 0; i+1 < len(records); {
		if err := ctx.Err(); err != nil {
			log.Error("consolidation cancelled", zap.Int("pairs", pairs), zap.Error(err))
			return touched, &RunError{Pairs: pairs, Err: err}
		}

		start, end := records[i], records[i+1]
		if start.EmployeeID != end.EmployeeID {
			i++
			continue
		}

		agg, err := e.consolidatePair(ctx, start, end)
		if err != nil {
			log.Error("consolidate pair",
				zap.Int64("employee_id", start.EmployeeID),
				zap.String("start_id", start.ID),
				zap.String("end_id", end.ID),
				zap.Int("pairs", pairs),
				zap.Error(err),
			)
			return touched, &RunError{Pairs: pairs, Err: err}
		}

		log.Debug("pair consolidated",
			zap.Int64("employee_id", agg.EmployeeID),
			zap.Time("work_date", agg.WorkDate),
			zap.Int64("minutes_worked", agg.MinutesWorked),
		)
		touched = append(touched, agg)
		pairs++
		i += 2
	}

	log.Info("consolidation finished",
		zap.Int("fetched", len(records)),
		zap.Int("pairs", pairs),
		zap.Duration("elapsed", e.clock.Now().Sub(started)),
	)
	return touched, nil
}

func (e *Engine) fetchUnconsolidated(ctx context.Context) ([]*punch.Punch, error) {
	var (
		all    []*punch.Punch
		cursor *punch.UnconsolidatedCursor
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, err := e.punches.ListUnconsolidated(ctx, cursor, e.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list unconsolidated punches: %w", err)
		}
		all = append(all, page...)
		if next == nil || len(page) == 0 {
			return all, nil
		}
		cursor = next
	}
}

func sortForPairing(records []*punch.Punch) {
	slices.SortStableFunc(records, func(a, b *punch.Punch) int {
		if c := a.PunchedAt.Compare(b.PunchedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.EmployeeID, b.EmployeeID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (e *Engine) consolidatePair(ctx context.Context, start, end *punch.Punch) (*aggregate.DailyAggregate, error) {
	minutes, err := e.workMinutes(start, end)
	if err != nil {
		return nil, err
	}
	workDate := aggregate.DateOf(start.PunchedAt.In(e.location))

	var result *aggregate.DailyAggregate
	if err := e.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		for _, p := range []*punch.Punch{start, end} {
			if err := e.punches.MarkConsolidated(txCtx, p.ID); err != nil {
				return fmt.Errorf("mark punch %s consolidated: %w", p.ID, classifyStoreError(err))
			}
		}

		now := e.clock.Now()
		existing, err := e.aggregates.FindByKey(txCtx, start.EmployeeID, workDate)
		switch {
		case errors.Is(err, aggregate.ErrAggregateNotFound):
			created, err := e.aggregates.Create(txCtx, &aggregate.DailyAggregate{
				EmployeeID:    start.EmployeeID,
				WorkDate:      workDate,
				MinutesWorked: minutes,
				Version:       1,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
			if err != nil {
				return fmt.Errorf("create aggregate: %w", classifyStoreError(err))
			}
			result = created
		case err != nil:
			return fmt.Errorf("find aggregate: %w", err)
		default:
			existing.MinutesWorked += minutes
			existing.UpdatedAt = now
			updated, err := e.aggregates.Update(txCtx, existing)
			if err != nil {
				return fmt.Errorf("update aggregate %s: %w", existing.ID, classifyStoreError(err))
			}
			result = updated
		}
		return nil
	}); err != nil {
		return nil, err
	}

	start.Consolidated = true
	end.Consolidated = true
	return result.Clone(), nil
}

func (e *Engine) workMinutes(start, end *punch.Punch) (int64, error) {
	minutes := int64(end.PunchedAt.Sub(start.PunchedAt) / time.Minute)
	if minutes >= 0 {
		return minutes, nil
	}

	switch e.policy {
	case NegativeDurationClamp:
		return 0, nil
	case NegativeDurationReject:
		return 0, fmt.Errorf("%w: employee %d, punches %s and %s, %d minutes",
			ErrNegativeDuration, start.EmployeeID, start.ID, end.ID, minutes)
	default:
		return minutes, nil
	}
}
