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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/innovationmech/keeper/pkg/keeper"
)

func newSQLiteStore(t *testing.T, namespace string) *GormStore {
	t.Helper()
	s, err := NewGormStore(&BackendConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "keeper.db"),
		Prefix: namespace,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGormStoreContract(t *testing.T) {
	testAdapterContract(t, newSQLiteStore(t, "keeper:disk:"))
}

func TestGormStoreNamespaces(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "shared.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	disk, err := NewGormStoreWithDB(db, "disk", nil)
	require.NoError(t, err)
	other, err := NewGormStoreWithDB(db, "", nil)
	require.NoError(t, err)

	require.NoError(t, disk.Put(ctx, "countries", []byte("disk")))
	require.NoError(t, other.Put(ctx, "countries", []byte("other")))

	v, found, err := disk.Get(ctx, "countries")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("disk"), v)

	require.NoError(t, other.Clear(ctx))
	_, found, err = disk.Get(ctx, "countries")
	require.NoError(t, err)
	assert.True(t, found, "an empty namespace clears only its own rows")

	var rows int64
	require.NoError(t, db.Model(&Entry{}).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)

	require.NoError(t, disk.Close(), "a borrowed connection is left open")
	require.NoError(t, sqlDB.Ping())
}

func TestGormStoreUpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t, "ns")
	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, "countries", []byte(v)))
	}

	var entries []Entry
	require.NoError(t, s.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("c"), entries[0].Value)
	assert.False(t, entries[0].UpdatedAt.IsZero())
}

func TestNewGormStoreValidation(t *testing.T) {
	_, err := NewGormStore(&BackendConfig{Driver: DriverSQLite}, nil)
	assert.ErrorIs(t, err, keeper.ErrInvalidConfig)

	_, err = NewGormStore(&BackendConfig{Driver: DriverRedis, DSN: "x"}, nil)
	assert.ErrorIs(t, err, keeper.ErrInvalidConfig)

	_, err = NewGormStoreWithDB(nil, "", nil)
	assert.ErrorIs(t, err, keeper.ErrInvalidConfig)
}
