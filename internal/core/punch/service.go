package punch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

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
	WithinReadOnly(ctx context.Context, fn func(context.Context) error) error
	WithinReadWrite(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactionManager struct{}

func (noopTransactionManager) WithinReadOnly(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (noopTransactionManager) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

const (
	defaultListPageSize = 50
	maxListPageSize     = 500
)

// Service は打刻に関するユースケースをまとめます。
type Service struct {
	repo  Repository
	clock Clock
	tx    TransactionManager
}

// UseCase は打刻ユースケースの公開インターフェースです。
type UseCase interface {
	CreatePunch(ctx context.Context, in CreatePunchInput) (*Punch, error)
	UpdatePunch(ctx context.Context, in UpdatePunchInput) (*Punch, error)
	GetPunch(ctx context.Context, in GetPunchInput) (*Punch, error)
	DeletePunch(ctx context.Context, in DeletePunchInput) (*Punch, error)
	ListPunches(ctx context.Context, in ListPunchesInput) (*ListPunchesResult, error)
}

// NewService は Service を生成します。
func NewService(repo Repository, clock Clock, tx TransactionManager) *Service {
	if clock == nil {
		clock = realClock{}
	}
	if tx == nil {
		tx = noopTransactionManager{}
	}
	return &Service{repo: repo, clock: clock, tx: tx}
}

// CreatePunchInput は打刻登録時の入力です。
type CreatePunchInput struct {
	EmployeeID int64
	PunchedAt  time.Time
	Kind       Kind
}

// UpdatePunchInput は打刻更新時の入力です。nil のフィールドは変更しません。
type UpdatePunchInput struct {
	ID         string
	EmployeeID *int64
	PunchedAt  *time.Time
	Kind       *Kind
}

// GetPunchInput は打刻取得時の入力です。
type GetPunchInput struct {
	ID string
}

// DeletePunchInput は打刻削除時の入力です。
type DeletePunchInput struct {
	ID string
}

// ListPunchesInput は一覧取得時の入力です。
type ListPunchesInput struct {
	PageSize     int
	PageToken    string
	EmployeeID   *int64
	Consolidated *bool
}

// ListPunchesResult は一覧取得結果を表します。
type ListPunchesResult struct {
	Punches       []*Punch
	NextPageToken string
}

// CreatePunch は新しい打刻を登録します。登録直後は未集計です。
func (s *Service) CreatePunch(ctx context.Context, in CreatePunchInput) (*Punch, error) {
	if in.EmployeeID <= 0 {
		return nil, ErrInvalidEmployeeID
	}
	if in.PunchedAt.IsZero() {
		return nil, ErrInvalidTimestamp
	}
	if !in.Kind.Valid() {
		return nil, ErrInvalidKind
	}

	now := s.clock.Now()
	p := &Punch{
		EmployeeID:   in.EmployeeID,
		PunchedAt:    in.PunchedAt,
		Kind:         in.Kind,
		Consolidated: false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var created *Punch
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		result, err := s.repo.Create(txCtx, p)
		if err != nil {
			return err
		}
		created = result
		return nil
	}); err != nil {
		return nil, err
	}

	return created, nil
}

// UpdatePunch は打刻を部分更新します。社員 ID は正の値が指定された場合のみ上書きします。
func (s *Service) UpdatePunch(ctx context.Context, in UpdatePunchInput) (*Punch, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("id: %w", ErrInvalidID)
	}
	if in.PunchedAt != nil && in.PunchedAt.IsZero() {
		return nil, ErrInvalidTimestamp
	}
	if in.Kind != nil && !in.Kind.Valid() {
		return nil, ErrInvalidKind
	}

	var updated *Punch
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		existing, err := s.repo.FindByID(txCtx, in.ID)
		if err != nil {
			return err
		}

		if in.EmployeeID != nil && *in.EmployeeID > 0 {
			existing.EmployeeID = *in.EmployeeID
		}
		if in.PunchedAt != nil {
			existing.PunchedAt = *in.PunchedAt
		}
		if in.Kind != nil {
			existing.Kind = *in.Kind
		}
		existing.UpdatedAt = s.clock.Now()

		result, err := s.repo.Update(txCtx, existing)
		if err != nil {
			return err
		}
		updated = result
		return nil
	}); err != nil {
		return nil, err
	}

	return updated, nil
}

// GetPunch は打刻を取得します。
func (s *Service) GetPunch(ctx context.Context, in GetPunchInput) (*Punch, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("id: %w", ErrInvalidID)
	}

	var result *Punch
	if err := s.tx.WithinReadOnly(ctx, func(txCtx context.Context) error {
		found, err := s.repo.FindByID(txCtx, in.ID)
		if err != nil {
			return err
		}
		result = found
		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// DeletePunch は打刻を削除し、削除した記録を返します。
func (s *Service) DeletePunch(ctx context.Context, in DeletePunchInput) (*Punch, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("id: %w", ErrInvalidID)
	}

	var deleted *Punch
	if err := s.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		found, err := s.repo.FindByID(txCtx, in.ID)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(txCtx, in.ID); err != nil {
			return err
		}
		deleted = found
		return nil
	}); err != nil {
		return nil, err
	}

	return deleted, nil
}

// ListPunches は打刻の一覧を取得します。
func (s *Service) ListPunches(ctx context.Context, in ListPunchesInput) (*ListPunchesResult, error) {
	limit, err := normalizePageSize(in.PageSize)
	if err != nil {
		return nil, err
	}

	offset, err := parsePageToken(in.PageToken)
	if err != nil {
		return nil, err
	}

	if in.EmployeeID != nil && *in.EmployeeID <= 0 {
		return nil, ErrInvalidEmployeeID
	}

	var (
		punches   []*Punch
		nextToken string
	)
	if err := s.tx.WithinReadOnly(ctx, func(txCtx context.Context) error {
		result, token, err := s.repo.List(txCtx, ListPunchesFilter{
			EmployeeID:   in.EmployeeID,
			Consolidated: in.Consolidated,
			Limit:        limit,
			Offset:       offset,
		})
		if err != nil {
			return err
		}
		punches = result
		nextToken = token
		return nil
	}); err != nil {
		return nil, err
	}

	return &ListPunchesResult{Punches: punches, NextPageToken: nextToken}, nil
}

func normalizePageSize(pageSize int) (int, error) {
	if pageSize <= 0 {
		return defaultListPageSize, nil
	}
	if pageSize > maxListPageSize {
		return 0, ErrInvalidPageSize
	}
	return pageSize, nil
}

func parsePageToken(token string) (int, error) {
	if strings.TrimSpace(token) == "" {
		return 0, nil
	}

	offset, err := strconv.Atoi(token)
	if err != nil || offset < 0 {
		return 0, ErrInvalidPageToken
	}

	return offset, nil
}
