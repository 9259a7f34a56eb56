// Package lease provides single-owner leases for periodic jobs that must not
// run on two replicas at once.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is held by at most one owner at a time.
type Lease interface {
	// TryAcquire takes the lease without blocking. It reports false when
	// another owner holds it.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives up the lease if the caller still owns it.
	Release(ctx context.Context) error
}

var (
	_ Lease = (*Redis)(nil)
	_ Lease = (*Local)(nil)
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lease taken over by another owner is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease stored as a Redis key with an expiry. A crashed owner loses
// the lease once the TTL passes.
type Redis struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	token  string
}

// NewRedis creates a lease on key. Each Redis value carries a unique owner
// token.
func NewRedis(client redis.Cmdable, key string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

// TryAcquire implements Lease.
func (l *Redis) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "acquire lease %s", l.key)
	}
	return ok, nil
}

// Release implements Lease.
func (l *Redis) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrapf(err, "release lease %s", l.key)
	}
	return nil
}

// Local is an in-process lease for single-replica deployments without Redis.
type Local struct {
	mu sync.Mutex
}

// TryAcquire implements Lease.
func (l *Local) TryAcquire(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

// Release implements Lease.
func (l *Local) Release(context.Context) error {
	l.mu.Unlock()
	return nil
}
