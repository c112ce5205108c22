// Package lock implements a Redis-backed distributed mutex.
//
// A lock is a single key holding a random owner token with a TTL, so a
// crashed holder's lock self-expires. Release compares the stored token with
// the holder's own in one Lua script; a holder whose lock expired and was
// reassigned can never delete the new owner's key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockAcquisition is matched by every *LockAcquisitionError.
var ErrLockAcquisition = errors.New("lock acquisition failed")

// LockAcquisitionError is returned when a blocking acquire exhausts its timeout.
// Callers treat it as "retry or degrade", never as success.
type LockAcquisitionError struct {
	Key     string
	Timeout time.Duration
	Err     error
}

func (e *LockAcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to acquire lock %s within %v: %v", e.Key, e.Timeout, e.Err)
	}
	return fmt.Sprintf("failed to acquire lock %s within %v", e.Key, e.Timeout)
}

// Is makes errors.Is(err, ErrLockAcquisition) true.
func (e *LockAcquisitionError) Is(target error) bool {
	return target == ErrLockAcquisition
}

func (e *LockAcquisitionError) Unwrap() error {
	return e.Err
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options tunes lock expiry and the blocking retry schedule.
type Options struct {
	TTL            time.Duration // Lock self-expiry. Default: 30s
	InitialBackoff time.Duration // First retry delay. Default: 10ms
	MaxBackoff     time.Duration // Retry delay cap. Default: 250ms
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 10 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 250 * time.Millisecond
	}
	return o
}

// Lock is one holder's handle on a resource key. A Lock is not safe for
// concurrent use by multiple goroutines; each contender creates its own.
type Lock struct {
	rdb   redis.Cmdable
	key   string
	token string
	opts  Options
}

// New creates an unacquired lock handle with a fresh owner token.
func New(rdb redis.Cmdable, resourceKey string, opts Options) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   resourceKey,
		token: uuid.New().String(),
		opts:  opts.withDefaults(),
	}
}

// Key returns the resource key guarded by this lock.
func (l *Lock) Key() string {
	return l.key
}

// Token returns this holder's owner token.
func (l *Lock) Token() string {
	return l.token
}

// Acquire tries to take the lock.
//
// With blocking=false a single attempt is made and (false, nil) is returned on
// contention. With blocking=true the attempt is retried with jittered
// exponential backoff until timeout elapses, after which a
// *LockAcquisitionError is returned. timeout is mandatory in blocking mode.
func (l *Lock) Acquire(ctx context.Context, blocking bool, timeout time.Duration) (bool, error) {
	if !blocking {
		return l.tryAcquire(ctx)
	}
	if timeout <= 0 {
		return false, fmt.Errorf("blocking acquire of %s requires a positive timeout", l.key)
	}

	deadline := time.Now().Add(timeout)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.InitialBackoff
	b.MaxInterval = l.opts.MaxBackoff
	b.MaxElapsedTime = timeout
	b.Reset()

	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		wait := b.NextBackOff()
		remaining := time.Until(deadline)
		if wait == backoff.Stop || remaining <= 0 {
			return false, &LockAcquisitionError{Key: l.key, Timeout: timeout}
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, &LockAcquisitionError{Key: l.key, Timeout: timeout, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (l *Lock) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.opts.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set lock key %s: %w", l.key, err)
	}
	return ok, nil
}

// Release deletes the lock if, and only if, it is still ours.
// Releasing an expired or reassigned lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// Held reports whether the stored token still equals ours.
func (l *Lock) Held(ctx context.Context) (bool, error) {
	val, err := l.rdb.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock %s: %w", l.key, err)
	}
	return val == l.token, nil
}

// WithLock runs fn while holding the lock on key, acquired in blocking mode.
// The lock is released on every exit path, including a panic in fn.
// Release uses a context detached from ctx so a cancelled caller still frees it.
func WithLock(ctx context.Context, rdb redis.Cmdable, key string, opts Options, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	l := New(rdb, key, opts)
	if _, err := l.Acquire(ctx, true, timeout); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := l.Release(releaseCtx); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ctx)
}
