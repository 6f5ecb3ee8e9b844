package memory

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
)

// PunchRepository はプロセス内メモリに打刻を保持する実装です。
type PunchRepository struct {
	mu      sync.RWMutex
	punches map[string]*punch.Punch
}

// NewPunchRepository は空の PunchRepository を生成します。
func NewPunchRepository() *PunchRepository {
	return &PunchRepository{punches: make(map[string]*punch.Punch)}
}

// Create は打刻を新規登録し、ID を採番します。
func (r *PunchRepository) Create(_ context.Context, p *punch.Punch) (*punch.Punch, error) {
	stored := p.Clone()
	stored.ID = uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.punches[stored.ID] = stored
	return stored.Clone(), nil
}

// Update は社員 ID・打刻時刻・種別を上書きします。集計済みフラグは保持します。
func (r *PunchRepository) Update(_ context.Context, p *punch.Punch) (*punch.Punch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.punches[p.ID]
	if !ok {
		return nil, punch.ErrPunchNotFound
	}
	existing.EmployeeID = p.EmployeeID
	existing.PunchedAt = p.PunchedAt
	existing.Kind = p.Kind
	existing.UpdatedAt = p.UpdatedAt
	return existing.Clone(), nil
}

// Delete は打刻を削除します。
func (r *PunchRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.punches[id]; !ok {
		return punch.ErrPunchNotFound
	}
	delete(r.punches, id)
	return nil
}

// FindByID は ID で打刻を取得します。
func (r *PunchRepository) FindByID(_ context.Context, id string) (*punch.Punch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.punches[id]
	if !ok {
		return nil, punch.ErrPunchNotFound
	}
	return p.Clone(), nil
}

// List は打刻時刻の昇順で一覧を返します。
func (r *PunchRepository) List(_ context.Context, filter punch.ListPunchesFilter) ([]*punch.Punch, string, error) {
	if filter.Limit <= 0 {
		return nil, "", punch.ErrInvalidPageSize
	}
	if filter.Offset < 0 {
		return nil, "", punch.ErrInvalidPageToken
	}

	r.mu.RLock()
	matched := make([]*punch.Punch, 0, len(r.punches))
	for _, p := range r.punches {
		if filter.EmployeeID != nil && p.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.Consolidated != nil && p.Consolidated != *filter.Consolidated {
			continue
		}
		matched = append(matched, p.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *punch.Punch) int {
		if c := a.PunchedAt.Compare(b.PunchedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if filter.Offset >= len(matched) {
		return []*punch.Punch{}, "", nil
	}
	end := filter.Offset + filter.Limit
	var nextToken string
	if end < len(matched) {
		nextToken = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	return matched[filter.Offset:end], nextToken, nil
}

// ListUnconsolidated は未集計の打刻を (PunchedAt, EmployeeID, ID) の昇順で返します。
func (r *PunchRepository) ListUnconsolidated(_ context.Context, after *punch.UnconsolidatedCursor, limit int) ([]*punch.Punch, *punch.UnconsolidatedCursor, error) {
	if limit <= 0 {
		return nil, nil, punch.ErrInvalidPageSize
	}

	r.mu.RLock()
	pending := make([]*punch.Punch, 0, len(r.punches))
	for _, p := range r.punches {
		if p.Consolidated {
			continue
		}
		if after != nil && compareToCursor(p, after) <= 0 {
			continue
		}
		pending = append(pending, p.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(pending, func(a, b *punch.Punch) int {
		return compareToCursor(a, punch.CursorAfter(b))
	})

	if len(pending) <= limit {
		return pending, nil, nil
	}
	page := pending[:limit]
	return page, punch.CursorAfter(page[len(page)-1]), nil
}

// MarkConsolidated は未集計の打刻を集計済みにします。
func (r *PunchRepository) MarkConsolidated(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.punches[id]
	if !ok {
		return punch.ErrPunchNotFound
	}
	if p.Consolidated {
		return punch.ErrAlreadyConsolidated
	}
	p.Consolidated = true
	return nil
}

func compareToCursor(p *punch.Punch, c *punch.UnconsolidatedCursor) int {
	if v := p.PunchedAt.Compare(c.PunchedAt); v != 0 {
		return v
	}
	if v := cmp.Compare(p.EmployeeID, c.EmployeeID); v != 0 {
		return v
	}
	return strings.Compare(p.ID, c.ID)
}
