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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsValidateAppliesDefaults(t *testing.T) {
	o := Options{MaxBackups: 3, StrictWrites: true}
	require.NoError(t, o.Validate())

	assert.Equal(t, 1, o.Version)
	assert.Equal(t, DefaultTiers, o.Tiers)
	assert.Equal(t, TierSession, o.SecondaryTier)
	assert.Equal(t, 3, o.MaxBackups)
	assert.Equal(t, 5, o.EmergencyBackupDepth)
	assert.Equal(t, 5*time.Second, o.AsyncTimeout)
	assert.Equal(t, CodecJSON, o.Codec)
	assert.Equal(t, CompressionNone, o.Compression)
	assert.True(t, o.StrictWrites)
}

func TestOptionsValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative version", Options{Version: -1}},
		{"negative max backups", Options{MaxBackups: -1}},
		{"negative timeout", Options{AsyncTimeout: -time.Second}},
		{"unknown tier", Options{Tiers: []Tier{"cloud"}}},
		{"unknown secondary", Options{SecondaryTier: "memory"}},
		{"unknown backup tier", Options{BackupTier: "cookie"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.opts.Validate())
		})
	}

	var nilOpts *Options
	assert.Error(t, nilOpts.Validate())
}

func TestOptionsMergeKeepsSetValues(t *testing.T) {
	o := Options{Version: 3, Tiers: []Tier{TierDisk}, Codec: CodecMsgpack}
	merged := o.Merge(Options{Version: 1, Tiers: DefaultTiers, Codec: CodecJSON, ConflictCheck: true, MaxBackups: 4})

	assert.Equal(t, 3, merged.Version)
	assert.Equal(t, []Tier{TierDisk}, merged.Tiers)
	assert.Equal(t, CodecMsgpack, merged.Codec)
	assert.Equal(t, 4, merged.MaxBackups)
	assert.True(t, merged.ConflictCheck)
}

func TestMonitorConfigValidate(t *testing.T) {
	require.NoError(t, DefaultMonitorConfig().Validate())

	c := DefaultMonitorConfig()
	c.EnableAutoBackup = false
	c.AutoBackupInterval = 0
	assert.NoError(t, c.Validate())

	c.EnableAutoBackup = true
	assert.Error(t, c.Validate())

	c = DefaultMonitorConfig()
	c.CheckTimeout = 0
	assert.Error(t, c.Validate())
}
