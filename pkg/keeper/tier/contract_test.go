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

// testAdapterContract exercises the behavior every keeper.TierAdapter shares.
func testAdapterContract(t *testing.T, a keeper.TierAdapter) {
	t.Helper()
	ctx := context.Background()

	_, found, err := a.Get(ctx, "missing")
	require.NoError(t, err, "absent keys are not errors")
	assert.False(t, found)
	require.NoError(t, a.Delete(ctx, "missing"), "deleting an absent key succeeds")

	require.NoError(t, a.Put(ctx, "countries", []byte("v1")))
	require.NoError(t, a.Put(ctx, "countries", []byte("v2")))
	v, found, err := a.Get(ctx, "countries")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v2"), v)

	binary := []byte{0, 1, 254, 255}
	require.NoError(t, a.Put(ctx, "countries_session", binary))
	v, found, err = a.Get(ctx, "countries_session")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, binary, v)

	require.NoError(t, a.Delete(ctx, "countries"))
	_, found, err = a.Get(ctx, "countries")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, a.Clear(ctx))
	_, found, err = a.Get(ctx, "countries_session")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, a.Clear(ctx), "clearing an empty tier succeeds")
}
