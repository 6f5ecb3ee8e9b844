package aggregate

import (
	"context"
	"time"
)

// Service は日次集計の参照ユースケースです。
type Service struct {
	repo Repository
}

// UseCase は日次集計ユースケースの公開インターフェースです。
type UseCase interface {
	GetAggregatesForDate(ctx context.Context, in GetAggregatesForDateInput) ([]*DailyAggregate, error)
}

// NewService は Service を生成します。
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetAggregatesForDateInput は日付指定取得時の入力です。
type GetAggregatesForDateInput struct {
	Date time.Time
}

// GetAggregatesForDate は指定日の集計を返します。該当がなければ ErrAggregateNotFound を返します。
func (s *Service) GetAggregatesForDate(ctx context.Context, in GetAggregatesForDateInput) ([]*DailyAggregate, error) {
	if in.Date.IsZero() {
		return nil, ErrInvalidDate
	}

	found, err := s.repo.ListByDate(ctx, DateOf(in.Date))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrAggregateNotFound
	}
	return found, nil
}
