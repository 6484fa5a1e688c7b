package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lease — аренда на время одного запуска задачи.
// Пока аренда у одного владельца токена, другие Acquire получают false.
type Lease interface {
	Acquire(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, token string) error
}

// releaseScript удаляет ключ, только если он всё ещё наш.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLease — аренда в Redis, общая для всех процессов сервиса.
type RedisLease struct {
	client *redis.Client
	key    string
}

// NewRedisLease создаёт аренду на ключе key.
func NewRedisLease(client *redis.Client, key string) *RedisLease {
	return &RedisLease{client: client, key: key}
}

func (l *RedisLease) Acquire(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка захвата аренды %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLease) Release(ctx context.Context, token string) error {
	err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("ошибка освобождения аренды %s: %w", l.key, err)
	}
	return nil
}

// LocalLease — аренда внутри одного процесса (когда Redis не настроен).
type LocalLease struct {
	mu      sync.Mutex
	holder  string
	expires time.Time
	now     func() time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{now: time.Now}
}

func (l *LocalLease) Acquire(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.holder != "" && now.Before(l.expires) {
		return false, nil
	}
	l.holder = token
	l.expires = now.Add(ttl)
	return true, nil
}

func (l *LocalLease) Release(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == token {
		l.holder = ""
	}
	return nil
}
