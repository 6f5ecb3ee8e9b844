package consolidation

import (
	"context"
	"sync"
)

// ReleaseFunc は取得したロックを解放します。
type ReleaseFunc func(ctx context.Context) error

// Locker は集計実行全体を直列化するゲートです。
// 既に保持されている場合は待たずに ErrRunInProgress を返します。
type Locker interface {
	Acquire(ctx context.Context) (ReleaseFunc, error)
}

// MutexLocker はプロセス内でのみ有効な Locker です。
type MutexLocker struct {
	mu sync.Mutex
}

// NewMutexLocker は MutexLocker を生成します。
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{}
}

// Acquire はロックを試行します。
func (l *MutexLocker) Acquire(ctx context.Context) (ReleaseFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	return func(context.Context) error {
		released := false
		once.Do(func() {
			l.mu.Unlock()
			released = true
		})
		if !released {
			return ErrLockNotHeld
		}
		return nil
	}, nil
}
