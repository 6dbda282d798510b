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
	"sort"
	"strings"
	"sync"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// MemoryStore is a process-scoped keeper.TierAdapter backed by a map. Its contents
// live as long as the process, which makes it the natural session tier.
//
// The store is safe for concurrent use.
type MemoryStore struct {
	// mu protects data, used and closed
	mu sync.RWMutex

	// data holds copies of the stored values
	data map[string][]byte

	// used is the number of bytes held, counting keys and values
	used int64

	// quota bounds used; zero means unbounded
	quota int64

	closed bool
}

// NewMemoryStore creates a MemoryStore. A positive quota bounds the bytes held,
// counting both keys and values; writes beyond it fail with keeper.ErrQuotaExceeded.
func NewMemoryStore(quota int64) *MemoryStore {
	if quota < 0 {
		quota = 0
	}
	return &MemoryStore{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, keeper.ErrTierClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put stores a copy of value under key.
func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return keeper.ErrTierClosed
	}

	size := int64(len(key) + len(value))
	if old, ok := m.data[key]; ok {
		size -= int64(len(key) + len(old))
	}
	if m.quota > 0 && m.used+size > m.quota {
		return fmt.Errorf("%w: %d of %d bytes used, %q needs %d more", keeper.ErrQuotaExceeded, m.used, m.quota, key, size)
	}
	m.data[key] = append([]byte(nil), value...)
	m.used += size
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return keeper.ErrTierClosed
	}
	if old, ok := m.data[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.data, key)
	}
	return nil
}

// Clear removes every key.
func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return keeper.ErrTierClosed
	}
	m.data = make(map[string][]byte)
	m.used = 0
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Used returns the number of bytes held.
func (m *MemoryStore) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Close releases the stored data. Later operations fail with keeper.ErrTierClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	m.used = 0
	return nil
}
