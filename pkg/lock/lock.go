// Package lock 提供按 key 串行化的互斥原语。
// 同一店铺的同步引擎与规则状态机不得并发改写同一商品的可见性，
// 多副本部署时用 Redis SetNX 锁，单机/测试退化为进程内锁。
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired 未取得锁（已被其他持有者占用）
var ErrNotAcquired = fmt.Errorf("lock: not acquired")

// Locker 按 key 加锁；Release 必须在所有退出路径上调用
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// ==================== Redis 实现 ====================

type redisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker 基于 Redis SetNX 的跨进程锁
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client, prefix: "stockmaster:lock:"}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := l.prefix + key

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release := func() {
		// 只释放自己持有的锁，避免误删他人续约后的锁
		script := redis.NewScript(`
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			end
			return 0
		`)
		_ = script.Run(context.Background(), l.client, []string{full}, token).Err()
	}
	return release, nil
}

// ==================== 进程内实现 ====================

type localLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker 单进程部署与测试用的退化实现
func NewLocalLocker() Locker {
	return &localLocker{held: make(map[string]struct{})}
}

func (l *localLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrNotAcquired
	}
	l.held[key] = struct{}{}

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}
	return release, nil
}
