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
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrTierUnavailable is matched by every *TierUnavailableError.
	ErrTierUnavailable = errors.New("tier unavailable")

	// ErrCorruption is matched by every *CorruptionError.
	ErrCorruption = errors.New("corruption detected")

	// ErrRecoveryExhausted is matched by every *RecoveryExhaustedError.
	ErrRecoveryExhausted = errors.New("recovery exhausted")

	// ErrQuotaExceeded is returned by size-bounded tiers when a write does not fit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrTierClosed is returned by adapters used after Close.
	ErrTierClosed = errors.New("tier is closed")

	// ErrConflict is returned by Save when conflict checking is enabled and the stored
	// record advanced since it was last observed.
	ErrConflict = errors.New("stored record changed since last load")

	// ErrBackupNotFound is returned when a named backup does not exist.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrNothingToBackup is returned when no tier holds a valid value to snapshot.
	ErrNothingToBackup = errors.New("no valid data to back up")

	// ErrTypeMismatch is returned by Register when a key is already registered with another type.
	ErrTypeMismatch = errors.New("key registered with a different type")

	// ErrNotCollection is returned by emergency recovery for values that are not collections.
	ErrNotCollection = errors.New("value is not a collection")

	// ErrInvalidConfig is returned for invalid store options.
	ErrInvalidConfig = errors.New("invalid keeper config")

	// ErrNoTiers is returned when a store has no persistent tier configured.
	ErrNoTiers = errors.New("no storage tiers configured")
)

// ValidationError reports data rejected by a key's predicate. Nothing is written.
type ValidationError struct {
	Key    string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %v", e.Key, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TierUnavailableError reports that a tier could not complete an operation.
type TierUnavailableError struct {
	Tier Tier
	Op   string
	Err  error
}

func (e *TierUnavailableError) Error() string {
	return fmt.Sprintf("tier %s unavailable during %s: %v", e.Tier, e.Op, e.Err)
}

func (e *TierUnavailableError) Unwrap() error { return e.Err }

func (e *TierUnavailableError) Is(target error) bool { return target == ErrTierUnavailable }

// CorruptionError reports data that failed to decode or validate.
type CorruptionError struct {
	Key  string
	Tier Tier
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt data for %q in tier %s: %v", e.Key, e.Tier, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// RecoveryExhaustedError reports that backups, the secondary tier and reseeding all failed.
type RecoveryExhaustedError struct {
	Key      string
	Attempts map[RecoverySource]error
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("recovery exhausted for %q: reseed failed: %v", e.Key, e.Attempts[SourceDefaultReseed])
}

func (e *RecoveryExhaustedError) Unwrap() error {
	errs := make([]error, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *RecoveryExhaustedError) Is(target error) bool { return target == ErrRecoveryExhausted }

// unavailable wraps err as a TierUnavailableError unless it already is one.
func unavailable(t Tier, op string, err error) error {
	if err == nil {
		return nil
	}
	var tu *TierUnavailableError
	if errors.As(err, &tu) {
		return err
	}
	return &TierUnavailableError{Tier: t, Op: op, Err: err}
}
