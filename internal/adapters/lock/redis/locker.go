package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogurasousui/punch-consolidation/internal/core/consolidation"
	goredis "github.com/redis/go-redis/v9"
)

// 自分のトークンが入っている場合だけキーを削除します。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type client interface {
	goredis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

// Locker は Redis の SET NX を用いた複数プロセス間の集計実行ロックです。
type Locker struct {
	client client
	key    string
	ttl    time.Duration
}

var _ consolidation.Locker = (*Locker)(nil)

// NewClient は Redis クライアントを生成し、疎通を確認します。
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

// NewLocker は Locker を生成します。ttl はロック保持者が落ちた場合の自動解放までの時間です。
func NewLocker(c client, key string, ttl time.Duration) *Locker {
	return &Locker{client: c, key: key, ttl: ttl}
}

// Acquire はロックを試行します。他のプロセスが保持していれば consolidation.ErrRunInProgress を返します。
func (l *Locker) Acquire(ctx context.Context) (consolidation.ReleaseFunc, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, consolidation.ErrRunInProgress
	}

	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("redis: release %s: %w", l.key, err)
		}
		if deleted == 0 {
			return consolidation.ErrLockNotHeld
		}
		return nil
	}, nil
}
