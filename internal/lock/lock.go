// Package lock provides cross-process distributed locking for
// operations — chiefly autoClear — that must be serialized across more
// than one instance of the ledger core sharing a database. It is
// grounded on the original implementation's redis_distributed_lock
// (app/utils/distributed_lock.py): SETNX-with-TTL to acquire, a Lua
// compare-and-delete script to release safely, and a bounded poll while
// waiting, reimplemented here over go-redis instead of redis-py.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired within
// the configured wait timeout.
var ErrLockTimeout = errors.New("lock: timed out waiting to acquire")

// Provider acquires and releases a named distributed lock.
type Provider interface {
	// Acquire blocks (subject to ctx and an internal wait timeout) until
	// key is held exclusively, then returns a release function. Callers
	// must always call the release function, typically via defer.
	Acquire(ctx context.Context, key string) (release func(context.Context), err error)
}

// NoopProvider is used when no Redis client is configured. It degrades
// to a no-op, mirroring the original's behavior when redis_client is
// None: single-process deployments rely on the clearing engine's own
// in-process sharded mutex around AutoClear instead.
type NoopProvider struct{}

func (NoopProvider) Acquire(ctx context.Context, key string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisProvider is a Provider backed by a shared Redis instance.
type RedisProvider struct {
	Client      *redis.Client
	TTL         time.Duration
	WaitTimeout time.Duration
	PollEvery   time.Duration
}

func NewRedisProvider(client *redis.Client, ttl, waitTimeout time.Duration) *RedisProvider {
	return &RedisProvider{Client: client, TTL: ttl, WaitTimeout: waitTimeout, PollEvery: 50 * time.Millisecond}
}

func (p *RedisProvider) Acquire(ctx context.Context, key string) (func(context.Context), error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(p.WaitTimeout)
	poll := p.PollEvery
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}

	for {
		ok, err := p.Client.SetNX(ctx, key, token, p.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func(releaseCtx context.Context) {
				p.Client.Eval(releaseCtx, unlockScript, []string{key}, token)
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
