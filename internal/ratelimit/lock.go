package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrInvalidLock       = errors.New("invalid_lock_request")
)

// Only the holder of the token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out leases on redis keys. A lease expires on its own after
// its TTL, so a crashed holder never blocks other instances for longer.
type Locker struct {
	client *redis.Client
}

// Lease is one held lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Acquire takes the lock on key without waiting. The bool is false when
// another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, ErrLockNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, false, ErrInvalidLock
	}

	lease := &Lease{locker: l, key: key, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, key, lease.token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return lease, true, nil
}

func (l *Lease) Key() string {
	return l.key
}

// Release drops the lock if this lease still owns it. Releasing an expired
// lease that someone else re-acquired is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.locker == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
}
