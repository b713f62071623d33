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
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSMapCursorClipsToWindow(t *testing.T) {
	k := &fakeKernel{
		fsmap: []FSMapRecord{
			{Device: DeviceData, Physical: 0, Length: 100, Owner: 5},
			{Device: DeviceData, Physical: 100, Length: 100, Owner: 6, OwnerOffset: 50},
		},
	}
	c := NewFSMapCursor(k, DeviceData)
	c.Start(50, 150)

	var got []FSMapRecord
	for {
		state, err := c.Next(context.Background())
		require.NoError(t, err)
		got = append(got, c.Rows()...)
		if state == StateDone {
			break
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, PhysicalAddr(50), got[0].Physical)
	assert.EqualValues(t, 50, got[0].Length)
	assert.Equal(t, PhysicalAddr(100), got[1].Physical)
	assert.EqualValues(t, 50, got[1].Length)
	// The second record's OwnerOffset must not be shifted: clipping only
	// trims its tail, not its head.
	assert.EqualValues(t, 50, got[1].OwnerOffset)
}

func TestFSMapCursorClipsHeadShiftsOwnerOffset(t *testing.T) {
	k := &fakeKernel{
		fsmap: []FSMapRecord{
			{Device: DeviceData, Physical: 0, Length: 100, Owner: 5, OwnerOffset: 1000},
		},
	}
	c := NewFSMapCursor(k, DeviceData)
	c.Start(40, 100)

	_, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Rows(), 1)
	assert.Equal(t, PhysicalAddr(40), c.Rows()[0].Physical)
	assert.EqualValues(t, 1040, c.Rows()[0].OwnerOffset)

	state, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Empty(t, c.Rows())
}

func TestFSMapCursorEmptyWindowIsImmediatelyDone(t *testing.T) {
	k := &fakeKernel{}
	c := NewFSMapCursor(k, DeviceData)
	c.Start(100, 100)
	state, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Empty(t, c.Rows())
	assert.Empty(t, k.getFSMapCalls)
}

func TestFSMapCursorWrongDeviceIsFatal(t *testing.T) {
	k := &fakeKernel{
		ignoreDevFilter: true,
		fsmap:           []FSMapRecord{{Device: DeviceRealtime, Physical: 0, Length: 100}},
	}
	c := NewFSMapCursor(k, DeviceData)
	c.Start(0, 100)
	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrWrongDevice)
}

func TestFSMapCursorUnusableAfterError(t *testing.T) {
	k := &fakeKernel{getFSMapErr: errors.New("ioctl failed")}
	c := NewFSMapCursor(k, DeviceData)
	c.Start(0, 100)
	_, err := c.Next(context.Background())
	require.Error(t, err)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrCursorExhausted)
}

func TestFSMapCursorPaginatesAcrossBatches(t *testing.T) {
	var records []FSMapRecord
	for i := 0; i < maxBatch+10; i++ {
		records = append(records, FSMapRecord{
			Device:   DeviceData,
			Physical: PhysicalAddr(i * 10),
			Length:   10,
			Owner:    Owner(i),
		})
	}
	k := &fakeKernel{fsmap: records}
	c := NewFSMapCursor(k, DeviceData)
	c.Start(0, PhysicalAddr(len(records)*10))

	total := 0
	batches := 0
	for {
		state, err := c.Next(context.Background())
		require.NoError(t, err)
		total += len(c.Rows())
		batches++
		if state == StateDone {
			break
		}
	}
	assert.Equal(t, len(records), total)
	assert.GreaterOrEqual(t, batches, 2)
}

func TestFSRefsCursorClipsToWindow(t *testing.T) {
	k := &fakeKernel{
		refs: []FSRefsRecord{
			{Device: DeviceData, Physical: 0, Length: 200, Owners: 3},
		},
	}
	c := NewFSRefsCursor(k, DeviceData)
	c.Start(50, 150)
	_, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Rows(), 1)
	assert.Equal(t, PhysicalAddr(50), c.Rows()[0].Physical)
	assert.EqualValues(t, 100, c.Rows()[0].Length)
}

func TestBMapXCursorClipsAndShiftsPhysical(t *testing.T) {
	f := &fakeKernelBMapXSource{
		rows: []BMapXRecord{
			{FileOffset: 0, Physical: 1000, Length: 100},
			{FileOffset: 100, Physical: BMapHole, Length: 50},
		},
	}
	c := NewBMapXCursor(f, nil, ForkData)
	c.Start(40, 150)

	var got []BMapXRecord
	for {
		state, err := c.Next(context.Background())
		require.NoError(t, err)
		got = append(got, c.Rows()...)
		if state == StateDone {
			break
		}
	}
	require.Len(t, got, 2)
	assert.EqualValues(t, 40, got[0].FileOffset)
	assert.EqualValues(t, 1040, got[0].Physical)
	assert.EqualValues(t, 60, got[0].Length)
	assert.True(t, got[1].IsHole())
}

// fakeKernelBMapXSource is a minimal Kernel that only answers GetBMapX, for
// the BMapXCursor test above; it embeds fakeKernel so every other method
// still panics if accidentally exercised.
type fakeKernelBMapXSource struct {
	fakeKernel
	rows []BMapXRecord
}

func (f *fakeKernelBMapXSource) GetBMapX(_ context.Context, _ *os.File, _ Fork, low, high uint64, max int) ([]BMapXRecord, error) {
	var out []BMapXRecord
	for _, r := range f.rows {
		end := r.FileOffset + r.Length
		if end <= low || r.FileOffset >= high {
			continue
		}
		out = append(out, r)
		if len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	last := &out[len(out)-1]
	if last.FileOffset+last.Length >= high {
		last.Flags |= FlagLast
	}
	return out, nil
}
