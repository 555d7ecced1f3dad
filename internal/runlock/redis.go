// Package runlock serializes reminder runs across processes with a Redis lock.
package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release and Extend when the lease expired or
// was taken over.
var ErrNotHeld = errors.New("run lock not held")

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Locker hands out leases on one Redis key using SET NX with a TTL. The TTL
// bounds how long a crashed run blocks the next one.
type Locker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func New(client *redis.Client, key string, ttl time.Duration) *Locker {
	return &Locker{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		ttl:    ttl,
	}
}

// Lease is one successful acquisition.
type Lease struct {
	locker *Locker
	value  string
}

// Acquire returns nil, nil when another holder owns the lock.
func (l *Locker) Acquire(ctx context.Context) (*Lease, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate lock value: %w", err)
	}
	value := hex.EncodeToString(b)

	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, value: value}, nil
}

// TryAcquire adapts Acquire to the coordinator's run lock. The lease is
// extended every third of the TTL until release is called, so a run longer
// than the TTL keeps the lock.
func (l *Locker) TryAcquire(ctx context.Context) (func(context.Context) error, bool, error) {
	lease, err := l.Acquire(ctx)
	if err != nil || lease == nil {
		return nil, false, err
	}
	stop := lease.KeepAlive(ctx, l.ttl/3)
	release := func(ctx context.Context) error {
		stop()
		return lease.Release(ctx)
	}
	return release, true, nil
}

// KeepAlive extends the lease by the locker TTL every interval until stop is
// called or ctx is done. It gives up once the lease is lost. stop waits for
// the renewal goroutine to exit.
func (le *Lease) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := le.Extend(ctx, le.locker.ttl); errors.Is(err, ErrNotHeld) {
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

// Release deletes the key if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.locker.client, []string{le.locker.key}, le.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", le.locker.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend resets the TTL of a lease that is still owned.
func (le *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, le.locker.client, []string{le.locker.key}, le.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", le.locker.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
