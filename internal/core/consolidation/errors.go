package consolidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ogurasousui/punch-consolidation/internal/core/aggregate"
	"github.com/ogurasousui/punch-consolidation/internal/core/punch"
)

var (
	ErrRunInProgress     = errors.New("consolidation: another run is in progress")
	ErrConflict          = errors.New("consolidation: concurrent modification detected")
	ErrNegativeDuration  = errors.New("consolidation: negative work duration")
	ErrInvalidPolicy     = errors.New("consolidation: invalid negative duration policy")
	ErrLockNotHeld       = errors.New("consolidation: lock not held")
	ErrStoresNotSupplied = errors.New("consolidation: punch and aggregate repositories are required")
)

// RunError は集計実行の途中で失敗したことを表します。
// Pairs は失敗までに確定したペア数で、それらの打刻は集計済みのまま残ります。
type RunError struct {
	Pairs int
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("consolidation: aborted after %d consolidated pair(s): %v", e.Pairs, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Retriable は再実行で解消し得るエラーかどうかを返します。
func Retriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRunInProgress),
		errors.Is(err, ErrConflict),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func classifyStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, punch.ErrAlreadyConsolidated),
		errors.Is(err, aggregate.ErrVersionConflict),
		errors.Is(err, aggregate.ErrAggregateAlreadyExists):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}
