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
	"os"
)

// maxBatch is the largest number of records a single cursor batch holds.
// The caller must drain a batch (via Rows) before calling Next again.
const maxBatch = 1024

// CursorState reports what Next produced.
type CursorState int

const (
	// StateRows means Rows() holds a fresh, possibly empty, batch.
	StateRows CursorState = iota
	// StateDone means the cursor reached the last-record sentinel or an
	// empty result; it will not produce further rows.
	StateDone
)

// FSMapCursor is the batched, cursored reverse-map query (C1).
type FSMapCursor struct {
	kernel      Kernel
	dev         DeviceTag
	reqLow      PhysicalAddr
	reqHigh     PhysicalAddr
	curLow      PhysicalAddr
	rows        []FSMapRecord
	done        bool
	err         error
}

// NewFSMapCursor creates a cursor that queries dev through kernel.
func NewFSMapCursor(kernel Kernel, dev DeviceTag) *FSMapCursor {
	return &FSMapCursor{kernel: kernel, dev: dev, done: true}
}

// Start initializes the cursor over [low, high).
func (c *FSMapCursor) Start(low, high PhysicalAddr) {
	c.reqLow, c.reqHigh, c.curLow = low, high, low
	c.done = low >= high
	c.err = nil
	c.rows = nil
}

// Next fetches the next batch. Once it returns StateDone or an error the
// cursor is unusable until Start is called again.
func (c *FSMapCursor) Next(ctx context.Context) (CursorState, error) {
	if c.err != nil {
		return StateDone, ErrCursorExhausted
	}
	if c.done {
		c.rows = nil
		return StateDone, nil
	}

	raw, err := c.kernel.GetFSMap(ctx, c.dev, c.curLow, c.reqHigh, maxBatch)
	if err != nil {
		c.err = err
		c.done = true
		c.rows = nil
		return StateDone, err
	}
	if len(raw) == 0 {
		c.done = true
		c.rows = nil
		return StateDone, nil
	}

	c.rows = c.rows[:0]
	for _, r := range raw {
		if r.Device != c.dev {
			c.err = ErrWrongDevice
			c.done = true
			c.rows = nil
			return StateDone, c.err
		}
		if clipped, ok := clipFSMap(r, c.reqLow, c.reqHigh); ok {
			c.rows = append(c.rows, clipped)
		}
	}

	last := raw[len(raw)-1]
	c.curLow = last.End()
	if last.Flags.Has(FlagLast) {
		c.done = true
	}
	return StateRows, nil
}

// Rows returns the current batch. Valid until the next call to Next.
func (c *FSMapCursor) Rows() []FSMapRecord { return c.rows }

func clipFSMap(r FSMapRecord, low, high PhysicalAddr) (FSMapRecord, bool) {
	start := r.Physical
	end := r.End()
	if start < low {
		start = low
	}
	if end > high {
		end = high
	}
	if end <= start {
		return FSMapRecord{}, false
	}
	delta := uint64(start - r.Physical)
	r.Physical = start
	r.Length = uint64(end - start)
	r.OwnerOffset += delta
	return r, true
}

// FSRefsCursor is the batched, cursored refcount query (C1).
type FSRefsCursor struct {
	kernel  Kernel
	dev     DeviceTag
	reqLow  PhysicalAddr
	reqHigh PhysicalAddr
	curLow  PhysicalAddr
	rows    []FSRefsRecord
	done    bool
	err     error
}

func NewFSRefsCursor(kernel Kernel, dev DeviceTag) *FSRefsCursor {
	return &FSRefsCursor{kernel: kernel, dev: dev, done: true}
}

func (c *FSRefsCursor) Start(low, high PhysicalAddr) {
	c.reqLow, c.reqHigh, c.curLow = low, high, low
	c.done = low >= high
	c.err = nil
	c.rows = nil
}

func (c *FSRefsCursor) Next(ctx context.Context) (CursorState, error) {
	if c.err != nil {
		return StateDone, ErrCursorExhausted
	}
	if c.done {
		c.rows = nil
		return StateDone, nil
	}

	raw, err := c.kernel.GetFSRefs(ctx, c.dev, c.curLow, c.reqHigh, maxBatch)
	if err != nil {
		c.err = err
		c.done = true
		c.rows = nil
		return StateDone, err
	}
	if len(raw) == 0 {
		c.done = true
		c.rows = nil
		return StateDone, nil
	}

	c.rows = c.rows[:0]
	for _, r := range raw {
		if r.Device != c.dev {
			c.err = ErrWrongDevice
			c.done = true
			c.rows = nil
			return StateDone, c.err
		}
		if clipped, ok := clipFSRefs(r, c.reqLow, c.reqHigh); ok {
			c.rows = append(c.rows, clipped)
		}
	}

	last := raw[len(raw)-1]
	c.curLow = last.End()
	if last.Flags.Has(FlagLast) {
		c.done = true
	}
	return StateRows, nil
}

func (c *FSRefsCursor) Rows() []FSRefsRecord { return c.rows }

func clipFSRefs(r FSRefsRecord, low, high PhysicalAddr) (FSRefsRecord, bool) {
	start := r.Physical
	end := r.End()
	if start < low {
		start = low
	}
	if end > high {
		end = high
	}
	if end <= start {
		return FSRefsRecord{}, false
	}
	r.Physical = start
	r.Length = uint64(end - start)
	return r, true
}

// BMapXCursor is the batched, cursored per-file extent query (C1). Unlike
// the other two it is keyed by logical file offset, not physical address.
type BMapXCursor struct {
	kernel  Kernel
	file    *os.File
	fork    Fork
	reqLow  uint64
	reqHigh uint64
	curLow  uint64
	rows    []BMapXRecord
	done    bool
	err     error
}

// NewBMapXCursor creates a cursor over the given fork of f.
func NewBMapXCursor(kernel Kernel, f *os.File, fork Fork) *BMapXCursor {
	return &BMapXCursor{kernel: kernel, file: f, fork: fork, done: true}
}

func (c *BMapXCursor) Start(low, high uint64) {
	c.reqLow, c.reqHigh, c.curLow = low, high, low
	c.done = low >= high
	c.err = nil
	c.rows = nil
}

// Next fetches the next batch of extents.
func (c *BMapXCursor) Next(ctx context.Context) (CursorState, error) {
	if c.err != nil {
		return StateDone, ErrCursorExhausted
	}
	if c.done {
		c.rows = nil
		return StateDone, nil
	}

	raw, err := c.kernel.GetBMapX(ctx, c.file, c.fork, c.curLow, c.reqHigh, maxBatch)
	if err != nil {
		c.err = err
		c.done = true
		c.rows = nil
		return StateDone, err
	}
	if len(raw) == 0 {
		c.done = true
		c.rows = nil
		return StateDone, nil
	}

	c.rows = c.rows[:0]
	for _, r := range raw {
		if clipped, ok := clipBMapX(r, c.reqLow, c.reqHigh); ok {
			c.rows = append(c.rows, clipped)
		}
	}

	last := raw[len(raw)-1]
	c.curLow = last.FileOffset + last.Length
	if last.Flags.Has(FlagLast) {
		c.done = true
	}
	return StateRows, nil
}

func (c *BMapXCursor) Rows() []BMapXRecord { return c.rows }

func clipBMapX(r BMapXRecord, low, high uint64) (BMapXRecord, bool) {
	start := r.FileOffset
	end := r.FileOffset + r.Length
	if start < low {
		start = low
	}
	if end > high {
		end = high
	}
	if end <= start {
		return BMapXRecord{}, false
	}
	delta := start - r.FileOffset
	r.FileOffset = start
	r.Length = end - start
	if r.Physical >= 0 {
		r.Physical += int64(delta)
	}
	return r, true
}
