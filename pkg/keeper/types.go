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
	"time"
)

// Tier identifies one physical storage medium a logical key can be mirrored to.
type Tier string

const (
	// TierPrimary is the synchronous key-value store holding the authoritative copy.
	TierPrimary Tier = "primary"

	// TierSession is the session-scoped store. Entries may disappear when the session ends.
	TierSession Tier = "session"

	// TierBackupCopy is a second entry in the key-value store under the "_backup" suffix.
	TierBackupCopy Tier = "backup_copy"

	// TierDisk is the indexed on-disk store. Accessed with a timeout.
	TierDisk Tier = "disk"

	// TierRemote is the remote table-backed store. Accessed with a timeout.
	TierRemote Tier = "remote"

	// TierMemory is the in-process cache of last resort. It is never persisted.
	TierMemory Tier = "memory"
)

// readOrder is the fixed priority in which Store.Load consults tiers.
var readOrder = []Tier{TierPrimary, TierSession, TierBackupCopy, TierDisk, TierRemote}

// ReadOrder returns every persistent tier in the order Store.Load consults them.
func ReadOrder() []Tier {
	return append([]Tier(nil), readOrder...)
}

// DefaultTiers are the tiers every key is mirrored to unless configured otherwise.
var DefaultTiers = []Tier{TierPrimary, TierSession, TierBackupCopy}

// IsAsync reports whether the tier performs I/O that may suspend for a long time.
func (t Tier) IsAsync() bool {
	return t == TierDisk || t == TierRemote
}

// Valid reports whether t is a known persistent tier.
func (t Tier) Valid() bool {
	switch t {
	case TierPrimary, TierSession, TierBackupCopy, TierDisk, TierRemote:
		return true
	default:
		return false
	}
}

func (t Tier) String() string {
	return string(t)
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	if t.Valid() {
		return t, true
	}
	return "", false
}

// TierAdapter is the uniform contract every storage medium implements.
//
// Get reports a missing key as found == false with a nil error; a non-nil error always
// means the medium failed. Delete treats a missing key as success.
type TierAdapter interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// StorageRecord is the versioned envelope written to every tier.
type StorageRecord[T any] struct {
	ID        string    `json:"id" msgpack:"id"`
	Data      T         `json:"data" msgpack:"data"`
	Version   int       `json:"version" msgpack:"version"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

// RecordMeta is a StorageRecord without its payload.
type RecordMeta struct {
	ID        string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RawData is the still-encoded payload of a record, handed to migrations so they can
// decode whatever shape an older version stored.
type RawData struct {
	codec Codec
	bytes []byte
}

// Decode decodes the payload into v.
func (r RawData) Decode(v any) error {
	return r.codec.DecodeData(r.bytes, v)
}

// Bytes returns the encoded payload.
func (r RawData) Bytes() []byte {
	return r.bytes
}

// BackupEntry is one snapshot in a key's backup ring.
type BackupEntry struct {
	// Key is the storage key of this entry, e.g. "countries_backup_2025-01-02T03-04-05.000000000Z".
	Key string `json:"key" yaml:"key"`

	// LogicalKey is the key this snapshot belongs to.
	LogicalKey string `json:"logicalKey" yaml:"logical_key"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Reason    string    `json:"reason" yaml:"reason"`

	// Snapshot is the encoded record read from TierOrigin.
	Snapshot   []byte `json:"snapshot,omitempty" yaml:"-"`
	TierOrigin Tier   `json:"tierOrigin,omitempty" yaml:"tier_origin,omitempty"`

	// Secondary is the encoded record read from the secondary tier, if any.
	Secondary       []byte `json:"secondary,omitempty" yaml:"-"`
	SecondaryOrigin Tier   `json:"secondaryOrigin,omitempty" yaml:"secondary_origin,omitempty"`
}

// RecoverySource names where a recovered value came from.
type RecoverySource string

const (
	SourceBackup         RecoverySource = "backup"
	SourceSecondaryTier  RecoverySource = "secondary_tier"
	SourceDefaultReseed  RecoverySource = "default_reseed"
	SourceEmergencyUnion RecoverySource = "emergency_union"
	SourceManualRestore  RecoverySource = "manual_restore"
	SourceNone           RecoverySource = "none"
)

// RecoveryEvent is one entry of the diagnostic trail.
type RecoveryEvent struct {
	ID        string         `json:"id" yaml:"id"`
	Key       string         `json:"key" yaml:"key"`
	Source    RecoverySource `json:"source" yaml:"source"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Detail    string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Succeeded reports whether the event records a successful recovery.
func (e RecoveryEvent) Succeeded() bool {
	return e.Error == "" && e.Source != SourceNone
}

// Result carries the outcome of an asynchronous operation.
type Result[T any] struct {
	Value T
	Err   error
}

// Persisted key layout for a logical key K.
const (
	sessionSuffix     = "_session"
	backupCopySuffix  = "_backup"
	versionSuffix     = "_version"
	initializedSuffix = "_initialized"
	backupRingInfix   = "_backup_"
	backupIndexSuffix = "_backups"

	// DefaultTrailKey is the shared key holding the recovery trail.
	DefaultTrailKey = "keeper_recovery_log"
)

// TierKey returns the key under which tier t stores logical key k.
func TierKey(t Tier, k string) string {
	switch t {
	case TierSession:
		return k + sessionSuffix
	case TierBackupCopy:
		return k + backupCopySuffix
	default:
		return k
	}
}
