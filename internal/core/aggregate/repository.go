package aggregate

import (
	"context"
	"time"
)

// Repository は日次集計永続化の抽象です。
type Repository interface {
	// FindByKey は (社員 ID, 暦日) の複合キーで集計を取得します。
	FindByKey(ctx context.Context, employeeID int64, workDate time.Time) (*DailyAggregate, error)
	Create(ctx context.Context, a *DailyAggregate) (*DailyAggregate, error)
	// Update は a.Version が保存済みの版と一致する場合のみ更新し、版を 1 進めます。
	Update(ctx context.Context, a *DailyAggregate) (*DailyAggregate, error)
	ListByDate(ctx context.Context, workDate time.Time) ([]*DailyAggregate, error)
}
