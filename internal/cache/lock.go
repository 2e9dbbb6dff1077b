package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

const renewScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`

const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`

// TryLock attempts to acquire a distributed lock identified by key.
// It uses the Redis SET NX PX pattern and extends the expiry every ttl/3 while held.
// On success it returns an unlock function that must be called (typically via defer)
// to stop renewal and release the lock. If the lock is already held, ErrLocked is returned.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	// Random token ensures only the holder can release the lock.
	token := randomToken()

	key = r.key(key)
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	stop := r.renew(key, token, ttl)
	return func() {
		stop()
		// Background context so unlock works after the caller's context is cancelled.
		_ = r.client.Eval(context.Background(), unlockScript, []string{key}, token).Err()
	}, nil
}

// renew keeps key alive while it still holds token. The returned func stops it.
func (r *Redis) renew(key, token string, ttl time.Duration) func() {
	if ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(ttl / 3)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				n, err := r.client.Eval(ctx, renewScript, []string{key}, token, ttl.Milliseconds()).Int()
				if err == nil && n == 0 {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Locker hands out named locks stored under "lock:<name>".
type Locker struct {
	r *Redis
}

// NewLocker returns a Locker backed by r.
func NewLocker(r *Redis) *Locker {
	return &Locker{r: r}
}

// TryLock acquires the named lock for ttl.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	return TryLock(ctx, l.r, "lock:"+name, ttl)
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
