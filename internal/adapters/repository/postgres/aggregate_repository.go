package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	pgdb "github.com/ogurasousui/punch-consolidation/internal/platform/db/postgres"
)

const aggregateColumns = `id, employee_id, work_date, minutes_worked, version, created_at, updated_at`

// AggregateRepository は PostgreSQL を利用した日次集計永続化の実装です。
type AggregateRepository struct {
	pool pgdb.Queryer
}

// NewAggregateRepository は AggregateRepository を生成します。
func NewAggregateRepository(pool pgdb.Queryer) *AggregateRepository {
	return &AggregateRepository{pool: pool}
}

// FindByKey は (社員 ID, 暦日) で集計を取得します。
func (r *AggregateRepository) FindByKey(ctx context.Context, employeeID int64, workDate time.Time) (*aggregate.DailyAggregate, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        SELECT `+aggregateColumns+`
          FROM daily_aggregates
         WHERE employee_id = $1
           AND work_date = $2
         LIMIT 1
    `, employeeID, aggregate.DateOf(workDate))

	found, err := scanAggregate(row)
	if err != nil {
		return nil, translateAggregatePgError(err)
	}
	return found, nil
}

// Create は集計を新規作成します。
func (r *AggregateRepository) Create(ctx context.Context, a *aggregate.DailyAggregate) (*aggregate.DailyAggregate, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        INSERT INTO daily_aggregates (employee_id, work_date, minutes_worked, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING `+aggregateColumns+`
    `, a.EmployeeID, aggregate.DateOf(a.WorkDate), a.MinutesWorked, a.Version, a.CreatedAt, a.UpdatedAt)

	created, err := scanAggregate(row)
	if err != nil {
		return nil, translateAggregatePgError(err)
	}
	return created, nil
}

// Update は版が一致する場合のみ作業分数を更新し、版を 1 進めます。
func (r *AggregateRepository) Update(ctx context.Context, a *aggregate.DailyAggregate) (*aggregate.DailyAggregate, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        UPDATE daily_aggregates
           SET minutes_worked = $1,
               version = version + 1,
               updated_at = $2
         WHERE id = $3
           AND version = $4
        RETURNING `+aggregateColumns+`
    `, a.MinutesWorked, a.UpdatedAt, a.ID, a.Version)

	updated, err := scanAggregate(row)
	if errors.Is(err, aggregate.ErrAggregateNotFound) {
		// 行が存在するなら版の不一致です。
		var exists bool
		if err := exec.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM daily_aggregates WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return nil, translateAggregatePgError(err)
		}
		if exists {
			return nil, aggregate.ErrVersionConflict
		}
		return nil, aggregate.ErrAggregateNotFound
	}
	if err != nil {
		return nil, translateAggregatePgError(err)
	}
	return updated, nil
}

// ListByDate は指定日の集計を社員 ID 順に取得します。
func (r *AggregateRepository) ListByDate(ctx context.Context, workDate time.Time) ([]*aggregate.DailyAggregate, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, `
        SELECT `+aggregateColumns+`
          FROM daily_aggregates
         WHERE work_date = $1
         ORDER BY employee_id ASC
    `, aggregate.DateOf(workDate))
	if err != nil {
		return nil, translateAggregatePgError(err)
	}
	defer rows.Close()

	aggregates := make([]*aggregate.DailyAggregate, 0)
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, translateAggregatePgError(err)
		}
		aggregates = append(aggregates, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translateAggregatePgError(err)
	}
	return aggregates, nil
}

func scanAggregate(row pgx.Row) (*aggregate.DailyAggregate, error) {
	var (
		id                   string
		employeeID           int64
		workDate             time.Time
		minutes              int64
		version              int64
		createdAt, updatedAt time.Time
	)

	if err := row.Scan(&id, &employeeID, &workDate, &minutes, &version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, aggregate.ErrAggregateNotFound
		}
		return nil, err
	}

	return &aggregate.DailyAggregate{
		ID:            id,
		EmployeeID:    employeeID,
		WorkDate:      aggregate.DateOf(workDate),
		MinutesWorked: minutes,
		Version:       version,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func translateAggregatePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return aggregate.ErrAggregateNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return aggregate.ErrAggregateAlreadyExists
		case checkViolationCode:
			return aggregate.ErrInvalidEmployeeID
		}
	}

	return err
}
