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

// timeoutAdapter bounds every call to an underlying adapter. A call that outlives the
// deadline is reported as a *TierUnavailableError; its goroutine finishes in the background.
type timeoutAdapter struct {
	tier    Tier
	next    TierAdapter
	timeout time.Duration
}

// WithTimeout wraps adapter so that every operation fails with a *TierUnavailableError
// after d, even if the adapter ignores its context.
func WithTimeout(tier Tier, adapter TierAdapter, d time.Duration) TierAdapter {
	if d <= 0 {
		return adapter
	}
	return &timeoutAdapter{tier: tier, next: adapter, timeout: d}
}

type getResult struct {
	value []byte
	found bool
}

func (a *timeoutAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := bounded(ctx, a, "get", func(ctx context.Context) (getResult, error) {
		v, found, err := a.next.Get(ctx, key)
		return getResult{value: v, found: found}, err
	})
	return res.value, res.found, err
}

func (a *timeoutAdapter) Put(ctx context.Context, key string, value []byte) error {
	_, err := bounded(ctx, a, "put", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.next.Put(ctx, key, value)
	})
	return err
}

func (a *timeoutAdapter) Delete(ctx context.Context, key string) error {
	_, err := bounded(ctx, a, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.next.Delete(ctx, key)
	})
	return err
}

func (a *timeoutAdapter) Clear(ctx context.Context) error {
	_, err := bounded(ctx, a, "clear", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.next.Clear(ctx)
	})
	return err
}

func bounded[R any](ctx context.Context, a *timeoutAdapter, op string, fn func(context.Context) (R, error)) (R, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		value R
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, unavailable(a.tier, op, out.err)
	case <-ctx.Done():
		var zero R
		return zero, unavailable(a.tier, op, ctx.Err())
	}
}
