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

// fakeKernel is an in-memory Kernel used by unit tests that drive the
// cursors and target selection without a real filesystem. Methods not
// needed by those tests panic if called, so a test that exercises an
// unconfigured path fails loudly instead of silently returning zero
// values.
type fakeKernel struct {
	geom  Geometry
	fsmap []FSMapRecord
	refs  []FSRefsRecord

	// ignoreDevFilter simulates a misbehaving kernel that returns records
	// for a device other than the one queried, so tests can exercise the
	// cursor's own defensive ErrWrongDevice check.
	ignoreDevFilter bool

	getFSMapCalls []struct{ low, high PhysicalAddr }
	getFSMapErr   error
	getFSRefsErr  error

	// createHelperFileErr, when set, is returned by CreateHelperFile
	// instead of a real temp file.
	createHelperFileErr error
	createdHelperFiles  []*os.File

	// scrubMetadataErr, when set, is returned by every ScrubMetadata call.
	scrubMetadataErr error
	scrubMetadataCalls []struct {
		dev  DeviceTag
		ag   uint32
		kind MetadataKind
	}

	// mapFreeSpaceAccepted/mapFreeSpaceErr configure MapFreeSpace's
	// return values; mapFreeSpaceCalls records what was asked for.
	mapFreeSpaceAccepted uint64
	mapFreeSpaceErr      error
	mapFreeSpaceCalls    []struct {
		start  PhysicalAddr
		length uint64
	}
}

func (k *fakeKernel) Geometry(context.Context, int) (Geometry, error) { return k.geom, nil }

func (k *fakeKernel) GetHandle(context.Context, int) (Handle, error) { return Handle("fake-handle"), nil }

func (k *fakeKernel) GetFSMap(_ context.Context, dev DeviceTag, low, high PhysicalAddr, max int) ([]FSMapRecord, error) {
	k.getFSMapCalls = append(k.getFSMapCalls, struct{ low, high PhysicalAddr }{low, high})
	if k.getFSMapErr != nil {
		return nil, k.getFSMapErr
	}
	return batchFSMap(k.fsmap, dev, low, high, max, k.ignoreDevFilter), nil
}

func (k *fakeKernel) GetFSRefs(_ context.Context, dev DeviceTag, low, high PhysicalAddr, max int) ([]FSRefsRecord, error) {
	if k.getFSRefsErr != nil {
		return nil, k.getFSRefsErr
	}
	return batchFSRefs(k.refs, dev, low, high, max), nil
}

func (k *fakeKernel) GetBMapX(context.Context, *os.File, Fork, uint64, uint64, int) ([]BMapXRecord, error) {
	panic("fakeKernel: GetBMapX not configured for this test")
}

func (k *fakeKernel) OpenByHandle(context.Context, Handle, uint64, uint32) (*os.File, error) {
	panic("fakeKernel: OpenByHandle not configured for this test")
}

func (k *fakeKernel) BulkStatSingle(context.Context, Handle, uint64) (BulkStat, error) {
	panic("fakeKernel: BulkStatSingle not configured for this test")
}

func (k *fakeKernel) CreateHelperFile(context.Context, int, bool) (*os.File, error) {
	if k.createHelperFileErr != nil {
		return nil, k.createHelperFileErr
	}
	f, err := os.CreateTemp("", "fakekernel-helper-*")
	if err != nil {
		return nil, err
	}
	k.createdHelperFiles = append(k.createdHelperFiles, f)
	return f, nil
}

func (k *fakeKernel) MapFreeSpace(_ context.Context, _ *os.File, start PhysicalAddr, length uint64) (uint64, error) {
	k.mapFreeSpaceCalls = append(k.mapFreeSpaceCalls, struct {
		start  PhysicalAddr
		length uint64
	}{start, length})
	return k.mapFreeSpaceAccepted, k.mapFreeSpaceErr
}

func (k *fakeKernel) CloneRange(context.Context, *os.File, uint64, *os.File, uint64, uint64) (uint64, error) {
	panic("fakeKernel: CloneRange not configured for this test")
}

func (k *fakeKernel) DedupeRange(context.Context, *os.File, uint64, *os.File, uint64, uint64) (uint64, bool, error) {
	panic("fakeKernel: DedupeRange not configured for this test")
}

func (k *fakeKernel) ExchangeRange(context.Context, *os.File, uint64, *os.File, uint64, uint64, *BulkStat) error {
	panic("fakeKernel: ExchangeRange not configured for this test")
}

func (k *fakeKernel) Unshare(context.Context, *os.File, uint64, uint64) error {
	panic("fakeKernel: Unshare not configured for this test")
}

func (k *fakeKernel) ScrubMetadata(_ context.Context, dev DeviceTag, ag uint32, kind MetadataKind) error {
	k.scrubMetadataCalls = append(k.scrubMetadataCalls, struct {
		dev  DeviceTag
		ag   uint32
		kind MetadataKind
	}{dev, ag, kind})
	return k.scrubMetadataErr
}

func (k *fakeKernel) FreeEOFBlocks(context.Context, int) error {
	panic("fakeKernel: FreeEOFBlocks not configured for this test")
}

// batchFSMap mimics the kernel-side ioctl contract that FSMapCursor relies
// on: records are returned in physical order, clipped to at most max
// entries, with FlagLast set on the final record of the whole query (not
// just the final record of this batch) once the batch reaches the end of
// the configured data or the requested window.
func batchFSMap(all []FSMapRecord, dev DeviceTag, low, high PhysicalAddr, max int, ignoreDevFilter bool) []FSMapRecord {
	var out []FSMapRecord
	for _, r := range all {
		if (!ignoreDevFilter && r.Device != dev) || r.End() <= low || r.Physical >= high {
			continue
		}
		out = append(out, r)
		if len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.End() >= high {
		out[len(out)-1].Flags |= FlagLast
	}
	return out
}

func batchFSRefs(all []FSRefsRecord, dev DeviceTag, low, high PhysicalAddr, max int) []FSRefsRecord {
	var out []FSRefsRecord
	for _, r := range all {
		if r.Device != dev || r.End() <= low || r.Physical >= high {
			continue
		}
		out = append(out, r)
		if len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.End() >= high {
		out[len(out)-1].Flags |= FlagLast
	}
	return out
}
