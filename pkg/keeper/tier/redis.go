// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package tier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// clearBatchSize is the SCAN page size and DEL batch size used by Clear.
const clearBatchSize = 256

// globEscaper quotes the characters SCAN MATCH treats as glob syntax.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisStore is a keeper.TierAdapter on redis. With a TTL every write expires,
// so values live only as long as the session that keeps writing them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
	logger *zap.Logger
}

// NewRedisStore connects to the redis server described by config and verifies it
// with a ping.
func NewRedisStore(ctx context.Context, config *BackendConfig, logger *zap.Logger) (*RedisStore, error) {
	if config == nil || config.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", keeper.ErrInvalidConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.connectTimeout(),
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.connectTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s, err := NewRedisStoreWithClient(client, config.Prefix, config.TTL, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient creates a store over an existing client. Close leaves the
// client open. The prefix must not be empty: Clear deletes every key that carries it.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", keeper.ErrInvalidConfig)
	}
	if prefix == "" {
		return nil, fmt.Errorf("%w: redis key prefix is required", keeper.ErrInvalidConfig)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: redis TTL cannot be negative", keeper.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "redis_tier"), zap.String("prefix", prefix)),
	}, nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return v, true, nil
}

// Put stores value under key, refreshing the TTL.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.wrap(s.client.Set(ctx, s.prefix+key, value, s.ttl).Err())
}

// Delete removes key. Deleting an absent key succeeds.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.wrap(s.client.Del(ctx, s.prefix+key).Err())
}

// Clear deletes every key under the prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	var (
		cursor  uint64
		pattern = globEscaper.Replace(s.prefix) + "*"
		seen    = make(map[string]struct{})
		keys    []string
	)
	// Deleting while the cursor iterates can skip keys, so the scan completes first.
	for {
		page, next, err := s.client.Scan(ctx, cursor, pattern, clearBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan redis keys: %w", s.wrap(err))
		}
		for _, k := range page {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	for start := 0; start < len(keys); start += clearBatchSize {
		end := min(start+clearBatchSize, len(keys))
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete redis keys: %w", s.wrap(err))
		}
	}
	s.logger.Debug("cleared redis tier", zap.Int("deleted", len(keys)))
	return nil
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.wrap(s.client.Close())
}

func (s *RedisStore) wrap(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %v", keeper.ErrTierClosed, err)
	}
	return err
}
