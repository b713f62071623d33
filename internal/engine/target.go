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
	"math"
)

// ClearingTarget is a transient selection produced by one target-selection
// iteration and consumed by the migration phase.
type ClearingTarget struct {
	Start     PhysicalAddr
	Length    uint64
	Owners    uint32
	Priority  uint64
	Evacuated uint64
	TryAgain  bool
}

// cheapBit marks a target as cheapest-to-move: a single-owner,
// preallocated-but-unwritten extent never holds live data, so migrating it
// is just a mapping swap.
const cheapBit uint64 = 1 << 63

// selectTarget scans the refcount records in the window and returns the
// highest-priority range not already in visited, or ok=false if nothing
// remains.
func (r *Request) selectTarget(ctx context.Context) (ClearingTarget, bool, error) {
	start, end := r.window()
	cursor := NewFSRefsCursor(r.kernel, r.attrs.Device)
	cursor.Start(start, end)

	var best ClearingTarget
	found := false

	for {
		state, err := cursor.Next(ctx)
		if err != nil {
			return ClearingTarget{}, false, err
		}
		for _, rec := range cursor.Rows() {
			if r.visited.Test(rec.Physical, rec.Length) {
				continue
			}
			cand := rankTarget(rec, r.geom.BlockSize)
			if !found || cand.Priority > best.Priority ||
				(cand.Priority == best.Priority && cand.Length > best.Length) {
				best = cand
				found = true
			}
		}
		if state == StateDone {
			break
		}
	}

	return best, found, nil
}

func rankTarget(rec FSRefsRecord, blockSize uint32) ClearingTarget {
	blocks := rec.Length / uint64(blockSize)
	owners := uint64(rec.Owners)

	var priority uint64
	if blocks != 0 && owners != 0 && blocks > math.MaxUint64/owners {
		priority = math.MaxUint64
	} else {
		priority = blocks * owners
	}

	if rec.Owners == 1 && rec.Flags.Has(FlagUnwritten) {
		priority |= cheapBit
	}

	return ClearingTarget{
		Start:    rec.Physical,
		Length:   rec.Length,
		Owners:   rec.Owners,
		Priority: priority,
	}
}
