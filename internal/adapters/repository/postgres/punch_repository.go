package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
	pgdb "github.com/ogurasousui/punch-consolidation/internal/platform/db/postgres"
)

const (
	uniqueViolationCode       = "23505"
	checkViolationCode        = "23514"
	invalidTextRepresentation = "22P02"
)

const punchColumns = `id, employee_id, punched_at, kind, consolidated, created_at, updated_at`

// PunchRepository は PostgreSQL を利用した打刻永続化の実装です。
type PunchRepository struct {
	pool pgdb.Queryer
}

// NewPunchRepository は PunchRepository を生成します。
func NewPunchRepository(pool pgdb.Queryer) *PunchRepository {
	return &PunchRepository{pool: pool}
}

// Create は打刻を新規登録します。
func (r *PunchRepository) Create(ctx context.Context, p *punch.Punch) (*punch.Punch, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        INSERT INTO punches (employee_id, punched_at, kind, consolidated, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING `+punchColumns+`
    `, p.EmployeeID, p.PunchedAt, int32(p.Kind), p.Consolidated, p.CreatedAt, p.UpdatedAt)

	created, err := scanPunch(row)
	if err != nil {
		return nil, translatePunchPgError(err)
	}
	return created, nil
}

// Update は社員 ID・打刻時刻・種別を上書きします。
func (r *PunchRepository) Update(ctx context.Context, p *punch.Punch) (*punch.Punch, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        UPDATE punches
           SET employee_id = $1,
               punched_at = $2,
               kind = $3,
               updated_at = $4
         WHERE id = $5
        RETURNING `+punchColumns+`
    `, p.EmployeeID, p.PunchedAt, int32(p.Kind), p.UpdatedAt, p.ID)

	updated, err := scanPunch(row)
	if err != nil {
		return nil, translatePunchPgError(err)
	}
	return updated, nil
}

// Delete は打刻を削除します。
func (r *PunchRepository) Delete(ctx context.Context, id string) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, `DELETE FROM punches WHERE id = $1`, id)
	if err != nil {
		return translatePunchPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return punch.ErrPunchNotFound
	}
	return nil
}

// FindByID は ID で打刻を取得します。
func (r *PunchRepository) FindByID(ctx context.Context, id string) (*punch.Punch, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        SELECT `+punchColumns+`
          FROM punches
         WHERE id = $1
         LIMIT 1
    `, id)

	found, err := scanPunch(row)
	if err != nil {
		return nil, translatePunchPgError(err)
	}
	return found, nil
}

// List は打刻の一覧を打刻時刻の昇順で取得します。
func (r *PunchRepository) List(ctx context.Context, filter punch.ListPunchesFilter) ([]*punch.Punch, string, error) {
	if filter.Limit <= 0 {
		return nil, "", punch.ErrInvalidPageSize
	}
	if filter.Offset < 0 {
		return nil, "", punch.ErrInvalidPageToken
	}

	limitWithBuffer := filter.Limit + 1

	args := make([]any, 0, 4)
	conditions := make([]string, 0, 2)

	if filter.EmployeeID != nil {
		conditions = append(conditions, "employee_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, *filter.EmployeeID)
	}
	if filter.Consolidated != nil {
		conditions = append(conditions, "consolidated = $"+strconv.Itoa(len(args)+1))
		args = append(args, *filter.Consolidated)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	limitPlaceholder := "$" + strconv.Itoa(len(args)+1)
	args = append(args, limitWithBuffer)
	offsetPlaceholder := "$" + strconv.Itoa(len(args)+1)
	args = append(args, filter.Offset)

	query := `
        SELECT ` + punchColumns + `
          FROM punches` + whereClause + `
         ORDER BY punched_at ASC, id ASC
         LIMIT ` + limitPlaceholder + `
        OFFSET ` + offsetPlaceholder + `
    `

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, "", translatePunchPgError(err)
	}
	defer rows.Close()

	punches := make([]*punch.Punch, 0, filter.Limit)
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, "", translatePunchPgError(err)
		}
		punches = append(punches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", translatePunchPgError(err)
	}

	var nextToken string
	if len(punches) == limitWithBuffer {
		punches = punches[:filter.Limit]
		nextToken = strconv.Itoa(filter.Offset + filter.Limit)
	}

	return punches, nextToken, nil
}

// ListUnconsolidated は未集計の打刻を (punched_at, employee_id, id) の昇順でキーセット取得します。
func (r *PunchRepository) ListUnconsolidated(ctx context.Context, after *punch.UnconsolidatedCursor, limit int) ([]*punch.Punch, *punch.UnconsolidatedCursor, error) {
	if limit <= 0 {
		return nil, nil, punch.ErrInvalidPageSize
	}

	limitWithBuffer := limit + 1

	var (
		query string
		args  []any
	)
	if after == nil {
		query = `
        SELECT ` + punchColumns + `
          FROM punches
         WHERE consolidated = false
         ORDER BY punched_at ASC, employee_id ASC, id ASC
         LIMIT $1
    `
		args = []any{limitWithBuffer}
	} else {
		query = `
        SELECT ` + punchColumns + `
          FROM punches
         WHERE consolidated = false
           AND (punched_at, employee_id, id) > ($1, $2, $3)
         ORDER BY punched_at ASC, employee_id ASC, id ASC
         LIMIT $4
    `
		args = []any{after.PunchedAt, after.EmployeeID, after.ID, limitWithBuffer}
	}

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, translatePunchPgError(err)
	}
	defer rows.Close()

	punches := make([]*punch.Punch, 0, limit)
	for rows.Next() {
		p, err := scanPunch(rows)
		if err != nil {
			return nil, nil, translatePunchPgError(err)
		}
		punches = append(punches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, translatePunchPgError(err)
	}

	if len(punches) < limitWithBuffer {
		return punches, nil, nil
	}
	punches = punches[:limit]
	return punches, punch.CursorAfter(punches[len(punches)-1]), nil
}

// MarkConsolidated は未集計の打刻だけを集計済みに更新します。
func (r *PunchRepository) MarkConsolidated(ctx context.Context, id string) error {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, `
        UPDATE punches
           SET consolidated = true,
               updated_at = now()
         WHERE id = $1
           AND consolidated = false
    `, id)
	if err != nil {
		return translatePunchPgError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var consolidated bool
	if err := exec.QueryRow(ctx, `SELECT consolidated FROM punches WHERE id = $1`, id).Scan(&consolidated); err != nil {
		return translatePunchPgError(err)
	}
	return punch.ErrAlreadyConsolidated
}

func scanPunch(row pgx.Row) (*punch.Punch, error) {
	var (
		id                   string
		employeeID           int64
		punchedAt            time.Time
		kind                 int32
		consolidated         bool
		createdAt, updatedAt time.Time
	)

	if err := row.Scan(&id, &employeeID, &punchedAt, &kind, &consolidated, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, punch.ErrPunchNotFound
		}
		return nil, err
	}

	return &punch.Punch{
		ID:           id,
		EmployeeID:   employeeID,
		PunchedAt:    punchedAt.UTC(),
		Kind:         punch.Kind(kind),
		Consolidated: consolidated,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func translatePunchPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return punch.ErrPunchNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case invalidTextRepresentation:
			// uuid として解釈できない ID は存在しない扱いにします。
			return punch.ErrPunchNotFound
		case checkViolationCode:
			if pgErr.ConstraintName == "punches_kind_check" {
				return punch.ErrInvalidKind
			}
			return punch.ErrInvalidEmployeeID
		}
	}

	return err
}
