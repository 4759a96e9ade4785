// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package runlock provides the advisory lock that keeps pipeline runs from
// overlapping. Redis is used when configured so that several processes
// share one lock; otherwise the lock is local to the process.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another run holds the lock.
var ErrHeld = errors.New("run lock is held")

// Locker acquires the run lock. The returned function releases it.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// DefaultKey is the Redis key of the lock.
const DefaultKey = "ecotrace:run-lock"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock stored under a single key with SET NX PX.
type Redis struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedis creates a Redis-backed lock. ttl bounds how long a crashed
// holder can block other runs.
func NewRedis(rdb *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{rdb: rdb, key: key, ttl: ttl}
}

// Acquire takes the lock or returns ErrHeld.
func (l *Redis) Acquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func() {
		// Released on a fresh context so a cancelled run still frees the key.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			slog.Warn("failed to release run lock", "key", l.key, "error", err)
		}
	}
	return release, nil
}

// Ping checks the Redis connection.
func (l *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.rdb.Ping(ctx).Err()
}

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process lock.
func NewLocal() *Local {
	return &Local{}
}

// Acquire takes the lock or returns ErrHeld without blocking.
func (l *Local) Acquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrHeld
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}
