package punch

import (
	"context"
	"time"
)

// Repository は打刻永続化の抽象です。
type Repository interface {
	Create(ctx context.Context, p *Punch) (*Punch, error)
	// Update は ID をキーに社員 ID・打刻時刻・種別を上書きします。集計済みフラグは変更しません。
	Update(ctx context.Context, p *Punch) (*Punch, error)
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*Punch, error)
	List(ctx context.Context, filter ListPunchesFilter) ([]*Punch, string, error)
	// ListUnconsolidated は未集計の打刻を (PunchedAt, EmployeeID, ID) 昇順で返します。
	// 次のカーソルが nil の場合は末尾に到達しています。
	ListUnconsolidated(ctx context.Context, after *UnconsolidatedCursor, limit int) ([]*Punch, *UnconsolidatedCursor, error)
	// MarkConsolidated は未集計の打刻だけを集計済みにします。
	// 既に集計済みであれば ErrAlreadyConsolidated を返します。
	MarkConsolidated(ctx context.Context, id string) error
}

// ListPunchesFilter は一覧取得用フィルタです。
type ListPunchesFilter struct {
	EmployeeID   *int64
	Consolidated *bool
	Limit        int
	Offset       int
}

// UnconsolidatedCursor は未集計打刻のキーセットページングの位置です。
type UnconsolidatedCursor struct {
	PunchedAt  time.Time
	EmployeeID int64
	ID         string
}

// CursorAfter は p の直後を指すカーソルを返します。
func CursorAfter(p *Punch) *UnconsolidatedCursor {
	return &UnconsolidatedCursor{PunchedAt: p.PunchedAt, EmployeeID: p.EmployeeID, ID: p.ID}
}
