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
)

// freezeOnce runs one pass of the freeze stage (C4) over the capture
// file's current holes within the target window. It is a no-op on
// filesystems without reflink.
//
// For each hole, it walks the reverse map and, for every eligible data
// record, reflinks the owner's data into the work file, verifies the
// kernel actually produced the mapping it promised, and reflinks that
// range into the capture file at its identity offset so the block is
// pinned against reuse.
func (r *Request) freezeOnce(ctx context.Context) (PhaseResult, error) {
	if !r.geom.ReflinkCapable {
		return PhaseNoProgress, nil
	}

	start, end := r.window()
	holeList, err := holes(r.capture.f, start, uint64(end-start))
	if err != nil {
		return PhaseFatal, err
	}
	if len(holeList) == 0 {
		return PhaseNoProgress, nil
	}

	progress := false
	cursor := NewFSMapCursor(r.kernel, r.attrs.Device)

	for _, h := range holeList {
		cursor.Start(h.Start, h.end())
		for {
			state, err := cursor.Next(ctx)
			if err != nil {
				return PhaseFatal, err
			}
			for _, rec := range cursor.Rows() {
				made, err := r.freezeRecord(ctx, rec)
				if err != nil && !IsTransient(err) {
					return PhaseFatal, err
				}
				if made {
					progress = true
				}
			}
			if state == StateDone {
				break
			}
		}
	}

	if progress {
		return PhaseProgress, nil
	}
	return PhaseNoProgress, nil
}

func (r *Request) freezeRecord(ctx context.Context, rec FSMapRecord) (bool, error) {
	r.trace(TraceFreeze, "considering owner=%s physical=%d length=%d", rec.Owner, rec.Physical, rec.Length)

	if rec.Owner.IsSpecial() {
		return false, nil // helper files and special owners are never frozen here
	}
	if rec.Flags.Has(FlagAttrFork) || rec.Flags.Has(FlagExtentMap) {
		return false, nil // handled by the metadata stage
	}

	ino, _ := rec.Owner.Inode()
	snap, err := r.kernel.BulkStatSingle(ctx, r.handle, ino)
	if err != nil {
		return false, transient("freeze: bulkstat", err)
	}
	if snap.Mode&modeTypeMask != modeRegular {
		return false, nil // skip non-regular; directories go to the metadata stage
	}

	owner, err := r.kernel.OpenByHandle(ctx, r.handle, ino, snap.Gen)
	if err != nil {
		return false, transient("freeze: open owner", err)
	}
	defer owner.Close()
	if fi, err := owner.Stat(); err == nil {
		for _, h := range []*helperFile{r.capture, r.work} {
			if hfi, herr := h.f.Stat(); herr == nil && os.SameFile(fi, hfi) {
				return false, nil // one of this request's own helper files
			}
		}
	}

	if err := r.work.truncateToZero(); err != nil {
		return false, transient("freeze: truncate work file", err)
	}

	accepted, err := r.kernel.CloneRange(ctx, owner, rec.OwnerOffset, r.work.f, 0, rec.Length)
	if err != nil {
		return false, transient("freeze: clone into work file", err)
	}
	if accepted == 0 {
		return false, nil
	}

	mapping, err := r.kernel.GetBMapX(ctx, r.work.f, ForkData, 0, accepted, 1)
	if err != nil {
		return false, transient("freeze: verify work mapping", err)
	}
	if len(mapping) == 0 || mapping[0].IsHole() {
		if rec.Flags.Has(FlagUnwritten) {
			return false, nil // expected: unwritten extents produce a hole, never captured
		}
		return false, transient("freeze: verify work mapping", ErrMappingMismatch)
	}
	if PhysicalAddr(mapping[0].Physical) != rec.Physical {
		return false, transient("freeze: verify work mapping", ErrMappingMismatch)
	}

	if accepted < rec.Length {
		// Typical when the tail is a partially-written EOF block: force a
		// copy-out of the owner's trailing block and see if the work file
		// mapping still claims to be shared afterwards. tailStart rounds
		// accepted down to its enclosing block: when accepted already sits
		// on a block boundary that's a no-op and tailStart lands exactly at
		// the first unaccepted byte; when it doesn't, rounding down pulls
		// the partially-accepted block into the range being unshared too,
		// since the kernel can only unshare whole blocks.
		tailStart := rec.OwnerOffset + r.geom.RoundDownBlock(accepted)
		if err := r.kernel.Unshare(ctx, owner, tailStart, rec.Length-r.geom.RoundDownBlock(accepted)); err != nil {
			return false, transient("freeze: unshare tail", err)
		}
		recheck, err := r.kernel.GetBMapX(ctx, r.work.f, ForkData, accepted, rec.Length, 1)
		if err == nil && len(recheck) > 0 && recheck[0].Flags.Has(FlagShared) {
			accepted = r.geom.RoundDownBlock(accepted)
		}
	}
	if accepted == 0 {
		return false, nil
	}

	if _, err := r.kernel.CloneRange(ctx, r.work.f, 0, r.capture.f, uint64(rec.Physical), accepted); err != nil {
		if errors.Is(err, ErrOutOfSpace) {
			if err := r.kernel.ExchangeRange(ctx, r.capture.f, uint64(rec.Physical), r.work.f, 0, accepted, nil); err != nil {
				return false, transient("freeze: fallback exchange into capture", err)
			}
		} else {
			return false, transient("freeze: clone into capture", err)
		}
	}

	r.captured += accepted
	return true, nil
}

const (
	modeTypeMask = 0170000
	modeRegular  = 0100000
	modeDir      = 0040000
)
