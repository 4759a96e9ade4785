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


package runlock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExcludesSecondHolder(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	_, err = l.Acquire(ctx)
	assert.True(t, errors.Is(err, ErrHeld))

	release()
	release() // second call is a no-op

	release2, err := l.Acquire(ctx)
	require.NoError(t, err)
	release2()
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLock(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	key := "ecotrace:test-lock:" + t.Name()
	rdb.Del(ctx, key)

	a := NewRedis(rdb, key, time.Minute)
	b := NewRedis(rdb, key, time.Minute)
	require.NoError(t, a.Ping(ctx))

	release, err := a.Acquire(ctx)
	require.NoError(t, err)

	_, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, ErrHeld)

	release()

	release2, err := b.Acquire(ctx)
	require.NoError(t, err)
	defer release2()
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	key := "ecotrace:test-lock:" + t.Name()
	rdb.Del(ctx, key)

	l := NewRedis(rdb, key, time.Minute)
	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	// Simulate expiry and takeover by another process.
	require.NoError(t, rdb.Set(ctx, key, "other", time.Minute).Err())
	release()

	val, err := rdb.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "other", val)
	rdb.Del(ctx, key)
}
