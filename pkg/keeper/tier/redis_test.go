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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/keeper/pkg/keeper"
)

func newMiniredisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), &BackendConfig{
		Driver: DriverRedis,
		Addr:   mr.Addr(),
		Prefix: "keeper:session:",
		TTL:    ttl,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreContract(t *testing.T) {
	s, _ := newMiniredisStore(t, 0)
	testAdapterContract(t, s)
}

func TestRedisStoreExpiresWithSession(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t, time.Minute)

	require.NoError(t, s.Put(ctx, "countries_session", []byte("v")))
	assert.Equal(t, time.Minute, mr.TTL("keeper:session:countries_session"))

	mr.FastForward(2 * time.Minute)
	_, found, err := s.Get(ctx, "countries_session")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreClearKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t, 0)
	require.NoError(t, mr.Set("other:app", "keep"))
	for i := 0; i < 600; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("countries_backup_%d", i), []byte("x")))
	}

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, []string{"other:app"}, mr.Keys())
}

func TestRedisStoreClearEscapesPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStoreWithClient(client, "app[1]*:", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, mr.Set("app1:countries", "keep"))
	require.NoError(t, mr.Set("app[1]*-other", "keep"))
	require.NoError(t, s.Put(ctx, "countries", []byte("x")))

	require.NoError(t, s.Clear(ctx))
	assert.ElementsMatch(t, []string{"app1:countries", "app[1]*-other"}, mr.Keys())
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newMiniredisStore(t, 0)
	mr.Close()

	_, _, err := s.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, s.Put(ctx, "k", []byte("v")))
}

func TestNewRedisStoreValidation(t *testing.T) {
	_, err := NewRedisStore(context.Background(), &BackendConfig{Driver: DriverRedis}, nil)
	assert.ErrorIs(t, err, keeper.ErrInvalidConfig)

	_, err = NewRedisStore(context.Background(), &BackendConfig{
		Driver:         DriverRedis,
		Addr:           "127.0.0.1:1",
		Prefix:         "p:",
		ConnectTimeout: 100 * time.Millisecond,
	}, nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	_, err = NewRedisStoreWithClient(client, "", 0, nil)
	assert.ErrorIs(t, err, keeper.ErrInvalidConfig)
	_, err = NewRedisStoreWithClient(client, "p:", -time.Second, nil)
	assert.ErrorIs(t, err, keeper.ErrInvalidConfig)

	shared, err := NewRedisStoreWithClient(client, "p:", 0, nil)
	require.NoError(t, err)
	assert.NoError(t, shared.Close(), "a borrowed client is left open")
}
