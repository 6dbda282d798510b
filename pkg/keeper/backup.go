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

package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// backupTimeLayout is the timestamp embedded in backup keys. Colons are replaced
// so the key is safe for every tier.
const backupTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// backupRing keeps up to max snapshots of one logical key, newest first. The ordered
// list of entry keys lives under "<prefix>_backups"; each entry under "<prefix>_backup_<ts>".
type backupRing struct {
	tier       Tier
	adapter    TierAdapter
	prefix     string
	max        int
	compressor Compressor
	logger     *zap.Logger
}

func (r *backupRing) indexKey() string {
	return r.prefix + backupIndexSuffix
}

func (r *backupRing) entryKey(ts time.Time) string {
	return r.prefix + backupRingInfix + strings.ReplaceAll(ts.UTC().Format(backupTimeLayout), ":", "-")
}

// keys returns the entry keys, newest first.
func (r *backupRing) keys(ctx context.Context) ([]string, error) {
	raw, found, err := r.adapter.Get(ctx, r.indexKey())
	if err != nil {
		return nil, unavailable(r.tier, "get", err)
	}
	if !found {
		return []string{}, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		r.logger.Warn("backup index is unreadable, starting a new one", zap.Error(err))
		return []string{}, nil
	}
	return keys, nil
}

func (r *backupRing) load(ctx context.Context, key string) (*BackupEntry, error) {
	raw, found, err := r.adapter.Get(ctx, key)
	if err != nil {
		return nil, unavailable(r.tier, "get", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, key)
	}
	payload, err := Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup %s: %w", key, err)
	}
	var entry BackupEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", key, err)
	}
	entry.Key = key
	return &entry, nil
}

// list loads every readable entry, newest first.
func (r *backupRing) list(ctx context.Context) ([]BackupEntry, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]BackupEntry, 0, len(keys))
	for _, k := range keys {
		entry, err := r.load(ctx, k)
		if err != nil {
			r.logger.Warn("skipping unreadable backup", zap.String("backup_key", k), zap.Error(err))
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// add stores entry as the newest snapshot and evicts the oldest beyond max.
func (r *backupRing) add(ctx context.Context, entry *BackupEntry) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}

	base := r.entryKey(entry.Timestamp)
	key := base
	for n := 1; slices.Contains(keys, key); n++ {
		key = fmt.Sprintf("%s-%d", base, n)
	}
	entry.Key = key

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	frame, err := r.compressor.Compress(payload)
	if err != nil {
		return fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := r.adapter.Put(ctx, key, frame); err != nil {
		return unavailable(r.tier, "put", err)
	}

	keys = append([]string{key}, keys...)
	if len(keys) > r.max {
		for _, old := range keys[r.max:] {
			if err := r.adapter.Delete(ctx, old); err != nil {
				r.logger.Warn("failed to evict backup", zap.String("backup_key", old), zap.Error(err))
			}
		}
		keys = keys[:r.max]
	}
	return r.writeIndex(ctx, keys)
}

// clear deletes every entry and the index.
func (r *backupRing) clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if err := r.adapter.Delete(ctx, k); err != nil {
			errs = append(errs, unavailable(r.tier, "delete", err))
		}
	}
	if err := r.adapter.Delete(ctx, r.indexKey()); err != nil {
		errs = append(errs, unavailable(r.tier, "delete", err))
	}
	return errors.Join(errs...)
}

func (r *backupRing) writeIndex(ctx context.Context, keys []string) error {
	b, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return unavailable(r.tier, "put", r.adapter.Put(ctx, r.indexKey(), b))
}
