// Copyright 2026 The AuthzEngine Authors
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

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/authzengine/authzengine/internal/observability/metrics"
)

// scanBatch is the COUNT hint for SCAN during pattern eviction.
const scanBatch = 100

// RedisCache implements Cache against a single Redis instance, guarded by a
// circuit breaker. Backend failures surface as ErrUnavailable so the
// evaluation path can treat them as misses.
type RedisCache struct {
	client  *redis.Client
	breaker *Breaker
	meter   *metrics.Meter
}

// RedisConfig carries the connection settings for the cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies connectivity before
// returning.
func NewRedisCache(cfg RedisConfig, breaker *Breaker, meter *metrics.Meter) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, breaker: breaker, meter: meter}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !r.breaker.Allow() {
		r.record(ctx, "get", "unavailable")
		return nil, ErrUnavailable
	}

	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.breaker.RecordSuccess()
		r.record(ctx, "get", "miss")
		return nil, ErrMiss
	}
	if err != nil {
		r.breaker.RecordFailure()
		r.record(ctx, "get", "error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.breaker.RecordSuccess()
	r.record(ctx, "get", "hit")
	return b, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !r.breaker.Allow() {
		r.record(ctx, "set", "unavailable")
		return ErrUnavailable
	}

	var data []byte
	switch x := value.(type) {
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		j, err := json.Marshal(x)
		if err != nil {
			r.record(ctx, "set", "error")
			return fmt.Errorf("marshal value for key %s: %w", key, err)
		}
		data = j
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.breaker.RecordFailure()
		r.record(ctx, "set", "error")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.breaker.RecordSuccess()
	r.record(ctx, "set", "success")
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if !r.breaker.Allow() {
		r.record(ctx, "delete", "unavailable")
		return ErrUnavailable
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.breaker.RecordFailure()
		r.record(ctx, "delete", "error")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r.breaker.RecordSuccess()
	r.record(ctx, "delete", "success")
	return nil
}

// DeletePattern evicts every key matching the glob pattern via SCAN, in
// batches, so eviction never blocks the backend the way KEYS would.
func (r *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if !r.breaker.Allow() {
		r.record(ctx, "delete_pattern", "unavailable")
		return 0, ErrUnavailable
	}

	var (
		cursor  uint64
		evicted int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			r.breaker.RecordFailure()
			r.record(ctx, "delete_pattern", "error")
			return evicted, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.breaker.RecordFailure()
				r.record(ctx, "delete_pattern", "error")
				return evicted, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			evicted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.breaker.RecordSuccess()
	r.record(ctx, "delete_pattern", "success")
	return evicted, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// BreakerState exposes the breaker position for health reporting.
func (r *RedisCache) BreakerState() BreakerState {
	return r.breaker.State()
}

func (r *RedisCache) record(ctx context.Context, op, result string) {
	if r.meter != nil {
		r.meter.RecordCacheOperation(ctx, op, result)
	}
}
