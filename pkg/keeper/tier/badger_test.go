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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/keeper/pkg/keeper"
)

func TestBadgerStoreContract(t *testing.T) {
	s, err := NewBadgerStore(&BackendConfig{Driver: DriverBadger, Prefix: "keeper:primary:"}, nil)
	require.NoError(t, err)
	defer s.Close()
	testAdapterContract(t, s)
}

func TestBadgerStoresSharingADatabase(t *testing.T) {
	ctx := context.Background()
	db, err := OpenBadger("", false)
	require.NoError(t, err)
	defer db.Close()

	primary, err := NewBadgerStoreWithDB(db, "primary:", 0, nil)
	require.NoError(t, err)
	backup, err := NewBadgerStoreWithDB(db, "backup:", 0, nil)
	require.NoError(t, err)

	require.NoError(t, primary.Put(ctx, "countries", []byte("a")))
	require.NoError(t, backup.Put(ctx, "countries_backup", []byte("b")))

	_, found, err := primary.Get(ctx, "countries_backup")
	require.NoError(t, err)
	assert.False(t, found, "prefixes isolate the stores")

	require.NoError(t, primary.Clear(ctx))
	v, found, err := backup.Get(ctx, "countries_backup")
	require.NoError(t, err)
	assert.True(t, found, "clearing one prefix keeps the other")
	assert.Equal(t, []byte("b"), v)

	require.NoError(t, primary.Close())
	_, _, err = primary.Get(ctx, "countries")
	assert.ErrorIs(t, err, keeper.ErrTierClosed)
	_, _, err = backup.Get(ctx, "countries_backup")
	assert.NoError(t, err, "a shared database stays open")
}

func TestBadgerStoreQuota(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerStore(&BackendConfig{Driver: DriverBadger, Prefix: "p:", QuotaBytes: 16}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "k", []byte("0123456789")))
	assert.EqualValues(t, 11, s.Used())
	assert.ErrorIs(t, s.Put(ctx, "j", []byte("0123456789")), keeper.ErrQuotaExceeded)
	require.NoError(t, s.Put(ctx, "k", []byte("012345678901234")))
	assert.EqualValues(t, 16, s.Used())

	require.NoError(t, s.Delete(ctx, "k"))
	assert.Zero(t, s.Used())
	require.NoError(t, s.Put(ctx, "j", []byte("0123456789")))
}

func TestBadgerStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := &BackendConfig{Driver: DriverBadger, Path: dir, Prefix: "keeper:primary:", SyncWrites: true}

	s, err := NewBadgerStore(config, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "countries", []byte(`{"id":"countries"}`)))
	require.NoError(t, s.Close())

	reopened, err := NewBadgerStore(config, nil)
	require.NoError(t, err)
	defer reopened.Close()
	v, found, err := reopened.Get(ctx, "countries")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"id":"countries"}`), v)
	assert.EqualValues(t, len("countries")+len(v), reopened.Used())
}
