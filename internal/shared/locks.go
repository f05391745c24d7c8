package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClientSettlementLockKey builds redis keys guarding per-client settlement.
func ClientSettlementLockKey(clientID int64) string {
	return fmt.Sprintf("replenish:client:%d:lock", clientID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out expiring, token-owned locks stored in Redis.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Lock is a held lock. Only the owner token can release it.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// TryAcquire attempts to take key for ttl without waiting. ErrLockHeld is returned when
// another owner holds it.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("shared: redis locker not initialised")
	}
	if key == "" {
		return nil, errors.New("shared: lock key required")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Key returns the redis key of the lock.
func (lk *Lock) Key() string {
	if lk == nil {
		return ""
	}
	return lk.key
}

// Release deletes the lock if it is still owned by this holder.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("shared: release lock %s: %w", lk.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
