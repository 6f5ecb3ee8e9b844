package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
)

type aggregateKey struct {
	employeeID int64
	workDate   time.Time
}

func keyOf(employeeID int64, workDate time.Time) aggregateKey {
	return aggregateKey{employeeID: employeeID, workDate: aggregate.DateOf(workDate)}
}

// AggregateRepository はプロセス内メモリに日次集計を保持する実装です。
type AggregateRepository struct {
	mu    sync.RWMutex
	byKey map[aggregateKey]*aggregate.DailyAggregate
	byID  map[string]*aggregate.DailyAggregate
}

// NewAggregateRepository は空の AggregateRepository を生成します。
func NewAggregateRepository() *AggregateRepository {
	return &AggregateRepository{
		byKey: make(map[aggregateKey]*aggregate.DailyAggregate),
		byID:  make(map[string]*aggregate.DailyAggregate),
	}
}

// FindByKey は (社員 ID, 暦日) で集計を取得します。
func (r *AggregateRepository) FindByKey(_ context.Context, employeeID int64, workDate time.Time) (*aggregate.DailyAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byKey[keyOf(employeeID, workDate)]
	if !ok {
		return nil, aggregate.ErrAggregateNotFound
	}
	return a.Clone(), nil
}

// Create は集計を新規作成します。同じキーが既にあれば ErrAggregateAlreadyExists を返します。
func (r *AggregateRepository) Create(_ context.Context, a *aggregate.DailyAggregate) (*aggregate.DailyAggregate, error) {
	stored := a.Clone()
	stored.ID = uuid.NewString()
	stored.WorkDate = aggregate.DateOf(stored.WorkDate)
	if stored.Version == 0 {
		stored.Version = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf(stored.EmployeeID, stored.WorkDate)
	if _, ok := r.byKey[key]; ok {
		return nil, aggregate.ErrAggregateAlreadyExists
	}
	r.byKey[key] = stored
	r.byID[stored.ID] = stored
	return stored.Clone(), nil
}

// Update は版が一致する場合のみ作業分数を更新し、版を 1 進めます。
func (r *AggregateRepository) Update(_ context.Context, a *aggregate.DailyAggregate) (*aggregate.DailyAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[a.ID]
	if !ok {
		return nil, aggregate.ErrAggregateNotFound
	}
	if existing.Version != a.Version {
		return nil, aggregate.ErrVersionConflict
	}
	existing.MinutesWorked = a.MinutesWorked
	existing.UpdatedAt = a.UpdatedAt
	existing.Version++
	return existing.Clone(), nil
}

// ListByDate は指定日の集計を社員 ID 順に返します。
func (r *AggregateRepository) ListByDate(_ context.Context, workDate time.Time) ([]*aggregate.DailyAggregate, error) {
	day := aggregate.DateOf(workDate)

	r.mu.RLock()
	list := make([]*aggregate.DailyAggregate, 0)
	for key, a := range r.byKey {
		if key.workDate.Equal(day) {
			list = append(list, a.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(list, func(a, b *aggregate.DailyAggregate) int {
		return cmp.Compare(a.EmployeeID, b.EmployeeID)
	})
	return list, nil
}
