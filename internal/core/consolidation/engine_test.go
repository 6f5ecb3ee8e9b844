package consolidation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePunchStore struct {
	punches  map[string]*punch.Punch
	listCall int
	listErr  error
	markErr  map[string]error
	onMark   func(id string)
}

func newFakePunchStore() *fakePunchStore {
	return &fakePunchStore{punches: make(map[string]*punch.Punch), markErr: make(map[string]error)}
}

func (s *fakePunchStore) add(id string, employeeID int64, at time.Time) {
	s.punches[id] = &punch.Punch{ID: id, EmployeeID: employeeID, PunchedAt: at}
}

func (s *fakePunchStore) Create(_ context.Context, p *punch.Punch) (*punch.Punch, error) {
	s.punches[p.ID] = p.Clone()
	return p.Clone(), nil
}

func (s *fakePunchStore) Update(_ context.Context, p *punch.Punch) (*punch.Punch, error) {
	s.punches[p.ID] = p.Clone()
	return p.Clone(), nil
}

func (s *fakePunchStore) Delete(_ context.Context, id string) error {
	delete(s.punches, id)
	return nil
}

func (s *fakePunchStore) FindByID(_ context.Context, id string) (*punch.Punch, error) {
	p, ok := s.punches[id]
	if !ok {
		return nil, punch.ErrPunchNotFound
	}
	return p.Clone(), nil
}

func (s *fakePunchStore) List(context.Context, punch.ListPunchesFilter) ([]*punch.Punch, string, error) {
	return nil, "", nil
}

// ListUnconsolidated は ID 順に limit 件ずつ返し、ソートはエンジン側に任せます。
func (s *fakePunchStore) ListUnconsolidated(_ context.Context, after *punch.UnconsolidatedCursor, limit int) ([]*punch.Punch, *punch.UnconsolidatedCursor, error) {
	s.listCall++
	if s.listErr != nil {
		return nil, nil, s.listErr
	}

	ids := make([]string, 0, len(s.punches))
	for id, p := range s.punches {
		if !p.Consolidated {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	startIdx := 0
	if after != nil {
		startIdx = sort.SearchStrings(ids, after.ID)
		if startIdx < len(ids) && ids[startIdx] == after.ID {
			startIdx++
		}
	}

	var page []*punch.Punch
	for _, id := range ids[startIdx:] {
		if len(page) == limit {
			break
		}
		page = append(page, s.punches[id].Clone())
	}

	if startIdx+len(page) >= len(ids) || len(page) == 0 {
		return page, nil, nil
	}
	return page, punch.CursorAfter(page[len(page)-1]), nil
}

func (s *fakePunchStore) MarkConsolidated(_ context.Context, id string) error {
	if s.onMark != nil {
		s.onMark(id)
	}
	if err := s.markErr[id]; err != nil {
		return err
	}
	p, ok := s.punches[id]
	if !ok {
		return punch.ErrPunchNotFound
	}
	if p.Consolidated {
		return punch.ErrAlreadyConsolidated
	}
	p.Consolidated = true
	return nil
}

type fakeAggregateStore struct {
	items     []*aggregate.DailyAggregate
	sequence  int
	createErr error
	updateErr error
}

func (s *fakeAggregateStore) FindByKey(_ context.Context, employeeID int64, workDate time.Time) (*aggregate.DailyAggregate, error) {
	for _, a := range s.items {
		if a.EmployeeID == employeeID && a.WorkDate.Equal(workDate) {
			return a.Clone(), nil
		}
	}
	return nil, aggregate.ErrAggregateNotFound
}

func (s *fakeAggregateStore) Create(_ context.Context, a *aggregate.DailyAggregate) (*aggregate.DailyAggregate, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.sequence++
	clone := a.Clone()
	clone.ID = fmt.Sprintf("agg-%d", s.sequence)
	s.items = append(s.items, clone)
	return clone.Clone(), nil
}

func (s *fakeAggregateStore) Update(_ context.Context, a *aggregate.DailyAggregate) (*aggregate.DailyAggregate, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	for i, existing := range s.items {
		if existing.ID != a.ID {
			continue
		}
		if existing.Version != a.Version {
			return nil, aggregate.ErrVersionConflict
		}
		clone := a.Clone()
		clone.Version++
		s.items[i] = clone
		return clone.Clone(), nil
	}
	return nil, aggregate.ErrAggregateNotFound
}

func (s *fakeAggregateStore) ListByDate(_ context.Context, workDate time.Time) ([]*aggregate.DailyAggregate, error) {
	var out []*aggregate.DailyAggregate
	for _, a := range s.items {
		if a.WorkDate.Equal(workDate) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, punches punch.Repository, aggregates aggregate.Repository, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	engine, err := NewEngine(punches, aggregates, opts)
	require.NoError(t, err)
	return engine
}

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestEngine_PairsSameEmployee(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 42, at(9, 0))
	punches.add("p2", 42, at(9, 30))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].EmployeeID)
	assert.True(t, got[0].WorkDate.Equal(day))
	assert.Equal(t, int64(30), got[0].MinutesWorked)
	assert.True(t, punches.punches["p1"].Consolidated)
	assert.True(t, punches.punches["p2"].Consolidated)
}

func TestEngine_AccumulatesIntoExistingAggregate(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 42, at(9, 0))
	punches.add("p2", 42, at(9, 30))
	punches.add("p3", 42, at(13, 0))
	punches.add("p4", 42, at(13, 15))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, aggregates.items, 1, "the same (employee, date) must not be duplicated")
	assert.Equal(t, int64(45), aggregates.items[0].MinutesWorked)

	// 加算ごとのスナップショットが順に返ります。
	require.Len(t, got, 2)
	assert.Equal(t, got[0].ID, got[1].ID)
	assert.Equal(t, int64(30), got[0].MinutesWorked)
	assert.Equal(t, int64(45), got[1].MinutesWorked)
}

func TestEngine_AccumulatesAcrossRuns(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 42, at(9, 0))
	punches.add("p2", 42, at(9, 30))
	aggregates := &fakeAggregateStore{}
	engine := newTestEngine(t, punches, aggregates, Options{})

	_, err := engine.Consolidate(context.Background())
	require.NoError(t, err)

	punches.add("p3", 42, at(14, 0))
	punches.add("p4", 42, at(14, 15))
	got, err := engine.Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Len(t, aggregates.items, 1)
	assert.Equal(t, int64(45), aggregates.items[0].MinutesWorked)
	assert.Equal(t, int64(2), aggregates.items[0].Version)
}

func TestEngine_IdempotentRerun(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 1, at(12, 0))
	punches.add("p3", 2, at(13, 0))
	punches.add("p4", 2, at(17, 30))
	aggregates := &fakeAggregateStore{}
	engine := newTestEngine(t, punches, aggregates, Options{})

	first, err := engine.Consolidate(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	before := make([]aggregate.DailyAggregate, 0, len(aggregates.items))
	for _, a := range aggregates.items {
		before = append(before, *a)
	}

	second, err := engine.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)

	after := make([]aggregate.DailyAggregate, 0, len(aggregates.items))
	for _, a := range aggregates.items {
		after = append(after, *a)
	}
	assert.Equal(t, before, after)
}

func TestEngine_TieBreakByEmployeeID(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	// 同時刻の打刻は社員 ID の昇順に並び、社員をまたいでペアにはなりません。
	punches.add("a", 2, at(9, 0))
	punches.add("b", 1, at(9, 0))
	punches.add("c", 1, at(9, 0))
	punches.add("d", 2, at(9, 0))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].EmployeeID)
	assert.Equal(t, int64(2), got[1].EmployeeID)
	for _, a := range got {
		assert.Equal(t, int64(0), a.MinutesWorked)
	}
}

func TestEngine_SortsBeforePairing(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	// ID 順と時刻順が逆になるように登録します。
	punches.add("a", 5, at(17, 0))
	punches.add("b", 5, at(9, 0))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(480), got[0].MinutesWorked)
}

func TestEngine_DanglingTail(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 42, at(9, 0))
	punches.add("p2", 42, at(9, 30))
	punches.add("p3", 42, at(10, 0))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(30), got[0].MinutesWorked)
	assert.True(t, punches.punches["p1"].Consolidated)
	assert.True(t, punches.punches["p2"].Consolidated)
	assert.False(t, punches.punches["p3"].Consolidated)
}

func TestEngine_DanglingTailRollsIntoNextRun(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 42, at(9, 0))
	aggregates := &fakeAggregateStore{}
	engine := newTestEngine(t, punches, aggregates, Options{})

	got, err := engine.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, punches.punches["p1"].Consolidated)

	punches.add("p2", 42, at(11, 0))
	got, err = engine.Consolidate(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(120), got[0].MinutesWorked)
}

func TestEngine_MismatchedNeighbor(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(9, 0))
	punches.add("p2", 2, at(9, 10))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	assert.Empty(t, got)
	assert.Empty(t, aggregates.items)
	assert.False(t, punches.punches["p1"].Consolidated)
	assert.False(t, punches.punches["p2"].Consolidated)
}

func TestEngine_MismatchThenPair(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 2, at(9, 0))
	punches.add("p3", 2, at(10, 0))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].EmployeeID)
	assert.Equal(t, int64(60), got[0].MinutesWorked)
	assert.False(t, punches.punches["p1"].Consolidated)
}

func TestEngine_UsesEarlierPunchDateInLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	punches := newFakePunchStore()
	// UTC では 3/10 15:30 と 16:00、JST では 3/11 0:30 と 1:00。
	punches.add("p1", 3, at(15, 30))
	punches.add("p2", 3, at(16, 0))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{Location: tokyo}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.True(t, got[0].WorkDate.Equal(day.AddDate(0, 0, 1)), "got %v", got[0].WorkDate)
}

func TestEngine_TruncatesPartialMinutes(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 9, at(9, 0))
	punches.add("p2", 9, at(9, 10).Add(59*time.Second))
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].MinutesWorked)
}

func TestEngine_PaginatesUnconsolidated(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	for i := 0; i < 10; i++ {
		punches.add(fmt.Sprintf("p%02d", i), 7, at(8+i, 0))
	}
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{PageSize: 3}).Consolidate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, punches.listCall)
	require.Len(t, got, 5)
	require.Len(t, aggregates.items, 1)
	assert.Equal(t, int64(300), aggregates.items[0].MinutesWorked)
}

func TestEngine_StoreFailureReportsProgress(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 1, at(9, 0))
	punches.add("p3", 2, at(10, 0))
	punches.add("p4", 2, at(11, 0))
	storeErr := errors.New("disk full")
	punches.markErr["p3"] = storeErr
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 1, runErr.Pairs)
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "aborted after 1 consolidated pair(s)")
	assert.False(t, Retriable(err))

	require.Len(t, got, 1)
	assert.True(t, punches.punches["p1"].Consolidated)
	assert.True(t, punches.punches["p2"].Consolidated)
	assert.False(t, punches.punches["p4"].Consolidated)
}

func TestEngine_FetchFailure(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.listErr = errors.New("timeout")

	got, err := newTestEngine(t, punches, &fakeAggregateStore{}, Options{}).Consolidate(context.Background())
	assert.Nil(t, got)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 0, runErr.Pairs)
	assert.ErrorIs(t, err, punches.listErr)
}

func TestEngine_AlreadyClaimedPunchIsConflict(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 1, at(9, 0))
	// 別の実行が取得後に先に集計済みにした状況を再現します。
	punches.onMark = func(id string) {
		if id == "p1" {
			punches.punches["p1"].Consolidated = true
		}
	}
	aggregates := &fakeAggregateStore{}

	_, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, punch.ErrAlreadyConsolidated)
	assert.True(t, Retriable(err))
	assert.Empty(t, aggregates.items, "a claimed pair must not be aggregated")
}

func TestEngine_AggregateVersionConflict(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 1, at(9, 0))
	aggregates := &fakeAggregateStore{
		items:     []*aggregate.DailyAggregate{{ID: "agg-0", EmployeeID: 1, WorkDate: day, MinutesWorked: 10, Version: 1}},
		updateErr: aggregate.ErrVersionConflict,
	}

	_, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(context.Background())
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, aggregate.ErrVersionConflict)
}

func TestEngine_RunInProgress(t *testing.T) {
	t.Parallel()

	locker := NewMutexLocker()
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 1, at(9, 0))
	engine := newTestEngine(t, punches, &fakeAggregateStore{}, Options{Locker: locker})

	_, err = engine.Consolidate(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.True(t, Retriable(err))
	assert.Equal(t, 0, punches.listCall)

	require.NoError(t, release(context.Background()))

	got, err := engine.Consolidate(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEngine_CancelledContext(t *testing.T) {
	t.Parallel()

	punches := newFakePunchStore()
	punches.add("p1", 1, at(8, 0))
	punches.add("p2", 1, at(9, 0))
	punches.add("p3", 2, at(10, 0))
	punches.add("p4", 2, at(11, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	punches.onMark = func(id string) {
		if id == "p2" {
			cancel()
		}
	}
	aggregates := &fakeAggregateStore{}

	got, err := newTestEngine(t, punches, aggregates, Options{}).Consolidate(ctx)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, runErr.Pairs)
	assert.Len(t, got, 1)
	assert.False(t, punches.punches["p3"].Consolidated)
}

func TestEngine_WorkMinutesPolicies(t *testing.T) {
	t.Parallel()

	start := &punch.Punch{ID: "s", EmployeeID: 1, PunchedAt: at(10, 0)}
	end := &punch.Punch{ID: "e", EmployeeID: 1, PunchedAt: at(9, 30)}

	cases := []struct {
		policy  NegativeDurationPolicy
		want    int64
		wantErr error
	}{
		{policy: NegativeDurationKeep, want: -30},
		{policy: NegativeDurationClamp, want: 0},
		{policy: NegativeDurationReject, wantErr: ErrNegativeDuration},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()

			engine := newTestEngine(t, newFakePunchStore(), &fakeAggregateStore{}, Options{NegativeDurationPolicy: tc.policy})
			got, err := engine.workMinutes(start, end)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEngine_ZeroDurationIsKept(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakePunchStore(), &fakeAggregateStore{}, Options{NegativeDurationPolicy: NegativeDurationReject})
	got, err := engine.workMinutes(&punch.Punch{PunchedAt: at(9, 0)}, &punch.Punch{PunchedAt: at(9, 0)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestNewEngine_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(nil, &fakeAggregateStore{}, Options{})
	assert.ErrorIs(t, err, ErrStoresNotSupplied)

	_, err = NewEngine(newFakePunchStore(), &fakeAggregateStore{}, Options{NegativeDurationPolicy: "drop"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}
