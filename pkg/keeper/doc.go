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

// Package keeper keeps small application datasets readable across redundant storage tiers.
//
// Every logical key is mirrored to several tiers, validated on every read and write,
// versioned, and recovered automatically when its authoritative copy is corrupt or missing.
//
// # Architecture
//
// The package consists of these components:
//
//   - Record: one key on one tier with version and validation enforcement
//   - Store: one key across every configured tier, with priority reads and fan-out writes
//   - RecoveryManager: backup ring, recovery state machine and manual restore
//   - Trail: the shared, capped log of recovery events
//   - Monitor: periodic health checks and automatic backups
//   - Registry: one Store per key in a process
//
// Tier adapters live in the tier subpackage.
//
// # Persisted Layout
//
// For a logical key K:
//
//	K                  authoritative record (primary tier)
//	K_session          session tier copy
//	K_backup           backup-copy tier copy
//	K_version          current record version
//	K_initialized      set once K was populated
//	K_backup_<ts>      backup ring entry
//	K_backups          backup ring index, newest first
//	keeper_recovery_log  recovery trail shared by every key
//
// # Usage
//
//	store, err := keeper.NewStore("countries", adapters, keeper.Config[[]Country]{
//	    Default:   defaultCountries,
//	    Predicate: keeper.All(keeper.NonEmpty[Country](), keeper.StructPredicate[[]Country](nil)),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	countries, err := store.Load(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Load never returns data that fails the predicate. When every recovery source fails,
// it returns a *RecoveryExhaustedError.
package keeper
