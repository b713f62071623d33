// Copyright 2025 The xfs-spaceevac Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitedBitmapSetMergesOverlaps(t *testing.T) {
	b := NewVisitedBitmap()
	b.Set(0, 100)
	b.Set(200, 100)
	require.Equal(t, 2, b.Len())

	// Bridges the gap between the two spans; should merge into one.
	b.Set(50, 200)
	require.Equal(t, 1, b.Len())
	assert.True(t, b.Test(0, 300))
	assert.False(t, b.Test(300, 1))
}

func TestVisitedBitmapSetNeverShrinks(t *testing.T) {
	b := NewVisitedBitmap()
	b.Set(100, 100)
	b.Set(120, 10) // fully contained in the existing span
	require.Equal(t, 1, b.Len())
	assert.True(t, b.Test(100, 100))
}

func TestVisitedBitmapTest(t *testing.T) {
	b := NewVisitedBitmap()
	b.Set(100, 50)

	assert.True(t, b.Test(90, 20))   // overlaps the start
	assert.True(t, b.Test(140, 20))  // overlaps the end
	assert.False(t, b.Test(0, 100))  // ends exactly where span starts
	assert.False(t, b.Test(150, 50)) // starts exactly where span ends
	assert.False(t, b.Test(10, 0))   // zero length never visited
}

func TestVisitedBitmapSubtract(t *testing.T) {
	b := NewVisitedBitmap()
	b.Set(100, 50) // [100, 150)

	out := b.Subtract(0, 200)
	require.Len(t, out, 2)
	assert.Equal(t, span{Start: 0, Length: 100}, out[0])
	assert.Equal(t, span{Start: 150, Length: 50}, out[1])
}

func TestVisitedBitmapSubtractFullyCovered(t *testing.T) {
	b := NewVisitedBitmap()
	b.Set(0, 1000)
	assert.Empty(t, b.Subtract(100, 200))
}

func TestVisitedBitmapSubtractNothingVisited(t *testing.T) {
	b := NewVisitedBitmap()
	out := b.Subtract(10, 20)
	require.Len(t, out, 1)
	assert.Equal(t, span{Start: 10, Length: 20}, out[0])
}

func TestVisitedBitmapFree(t *testing.T) {
	b := NewVisitedBitmap()
	b.Set(0, 10)
	b.Free()
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Test(0, 10))
}
