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

// Package engine implements the physical space evacuation engine: given a
// byte range on a reflink- and reverse-map-capable filesystem, it tries to
// make that range free of live data and metadata so a caller can reuse it
// for defragmentation, shrinking, or discard.
package engine

import "fmt"

// DeviceTag identifies one of the volumes a clearing request may target.
type DeviceTag uint32

const (
	// DeviceData is the filesystem's primary data volume.
	DeviceData DeviceTag = iota
	// DeviceRealtime is the filesystem's realtime volume, if any.
	DeviceRealtime
)

func (d DeviceTag) String() string {
	if d == DeviceRealtime {
		return "realtime"
	}
	return "data"
}

// PhysicalAddr is a byte offset on a DeviceTag volume.
type PhysicalAddr uint64

// Owner identifies who a reverse-map or refcount record belongs to. Values
// >= 0 are inode numbers; negative values are special-owner tags for
// non-file space consumers (free space, metadata, the log, and so on).
type Owner int64

const (
	OwnerUnknown    Owner = -1
	OwnerFree       Owner = -2
	OwnerFS         Owner = -3 // static filesystem metadata (superblock, AG headers)
	OwnerLog        Owner = -4
	OwnerAG         Owner = -5 // per-AG free-space/rmap btrees
	OwnerInobt      Owner = -6 // inode btree / finobt
	OwnerInodes     Owner = -7 // allocated inode chunks
	OwnerRefcount   Owner = -8 // refcount btree
	OwnerCoW        Owner = -9 // CoW staging extents
	OwnerDefective  Owner = -10
)

// IsSpecial reports whether o names a non-file owner.
func (o Owner) IsSpecial() bool { return o < 0 }

// Inode returns the inode number o names, if it is not special.
func (o Owner) Inode() (uint64, bool) {
	if o.IsSpecial() {
		return 0, false
	}
	return uint64(o), true
}

func (o Owner) String() string {
	switch {
	case o == OwnerUnknown:
		return "unknown"
	case o == OwnerFree:
		return "free"
	case o == OwnerFS:
		return "static-fs-metadata"
	case o == OwnerLog:
		return "log"
	case o == OwnerAG:
		return "ag-metadata"
	case o == OwnerInobt:
		return "inode-btree"
	case o == OwnerInodes:
		return "inode-chunk"
	case o == OwnerRefcount:
		return "refcount-btree"
	case o == OwnerCoW:
		return "cow-staging"
	case o == OwnerDefective:
		return "defective"
	default:
		return fmt.Sprintf("inode %d", int64(o))
	}
}

// RecordFlag is a bitmask of reverse-map/refcount/bmapx record attributes.
type RecordFlag uint32

const (
	// FlagAttrFork marks a record as belonging to an inode's attribute fork.
	FlagAttrFork RecordFlag = 1 << iota
	// FlagExtentMap marks a record as belonging to an inode's extent-map
	// (btree format) blocks rather than its data.
	FlagExtentMap
	// FlagUnwritten marks a preallocated-but-never-written extent.
	FlagUnwritten
	// FlagLast marks the final record of a cursored query.
	FlagLast
	// FlagShared marks an extent with more than one reachable owner.
	FlagShared
	// FlagPreallocated marks an extent reserved ahead of a write (bmapx only).
	FlagPreallocated
)

func (f RecordFlag) Has(bit RecordFlag) bool { return f&bit != 0 }

// FSMapRecord is one row of the reverse-mapping query (FSMAP): it names the
// owner of a span of physical space.
type FSMapRecord struct {
	Device      DeviceTag
	Physical    PhysicalAddr
	Length      uint64
	Owner       Owner
	OwnerOffset uint64
	Flags       RecordFlag
}

// End returns the exclusive end of the record's physical span.
func (r FSMapRecord) End() PhysicalAddr { return r.Physical + PhysicalAddr(r.Length) }

// FSRefsRecord is one row of the refcount query (FSREFS): cheaper than
// FSMapRecord, used for target ranking.
type FSRefsRecord struct {
	Device   DeviceTag
	Physical PhysicalAddr
	Length   uint64
	Owners   uint32
	Flags    RecordFlag
}

func (r FSRefsRecord) End() PhysicalAddr { return r.Physical + PhysicalAddr(r.Length) }

// Special physical_start sentinels for BMapXRecord, matching the kernel's
// BMAPX convention.
const (
	BMapHole     int64 = -1
	BMapDelalloc int64 = -2
)

// Fork selects which fork of an inode a BMapX query reads.
type Fork int

const (
	ForkData Fork = iota
	ForkAttr
	ForkCoW
)

// BMapXRecord is one row of a per-file extent query.
type BMapXRecord struct {
	FileOffset uint64
	Physical   int64 // PhysicalAddr, or BMapHole / BMapDelalloc
	Length     uint64
	Flags      RecordFlag
}

func (r BMapXRecord) IsHole() bool     { return r.Physical == BMapHole }
func (r BMapXRecord) IsDelalloc() bool { return r.Physical == BMapDelalloc }

// Timespec is a nanosecond-precision timestamp as reported by bulkstat.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Equal reports whether two timestamps name the same instant.
func (t Timespec) Equal(o Timespec) bool { return t.Sec == o.Sec && t.Nsec == o.Nsec }

// BulkStat is a compact inode snapshot used as a freshness token: the
// engine only mutates an owner inode when its generation and timestamps
// still match the snapshot taken at open.
type BulkStat struct {
	Ino   uint64
	Gen   uint32
	Mode  uint32
	Ctime Timespec
	Mtime Timespec
}

// Fresh reports whether a later snapshot of the same inode still matches
// the freshness token b was derived from.
func (b BulkStat) Fresh(later BulkStat) bool {
	return b.Ino == later.Ino && b.Gen == later.Gen &&
		b.Ctime.Equal(later.Ctime) && b.Mtime.Equal(later.Mtime)
}

// Geometry describes the filesystem properties the engine needs to know
// about up front.
type Geometry struct {
	BlockSize              uint32
	SectorSize             uint32
	AGBlocks               uint64 // blocks per allocation group, data device only
	AGCount                uint32
	ReflinkCapable         bool
	MetadataRebuildCapable bool
	Realtime               bool
}

// AGNumber returns the allocation group addr falls in. Undefined on the
// realtime device, which has no AG structure.
func (g Geometry) AGNumber(addr PhysicalAddr) uint32 {
	if g.AGBlocks == 0 || g.BlockSize == 0 {
		return 0
	}
	agBytes := g.AGBlocks * uint64(g.BlockSize)
	return uint32(uint64(addr) / agBytes)
}

// RoundUpBlock rounds n up to the next BlockSize boundary.
func (g Geometry) RoundUpBlock(n uint64) uint64 {
	bs := uint64(g.BlockSize)
	return (n + bs - 1) / bs * bs
}

// RoundDownBlock rounds n down to the previous BlockSize boundary.
func (g Geometry) RoundDownBlock(n uint64) uint64 {
	bs := uint64(g.BlockSize)
	return n / bs * bs
}

// MetadataKind names a per-allocation-group metadata btree/object that the
// metadata stage can ask the kernel to rebuild.
type MetadataKind int

const (
	MetaFreeSpaceByBlock MetadataKind = iota
	MetaFreeSpaceByCount
	MetaFreeList
	MetaReverseMap
	MetaInodeBtree
	MetaFinobt
	MetaRefcountBtree
)

func (k MetadataKind) String() string {
	switch k {
	case MetaFreeSpaceByBlock:
		return "free-space-by-block"
	case MetaFreeSpaceByCount:
		return "free-space-by-count"
	case MetaFreeList:
		return "free-list"
	case MetaReverseMap:
		return "reverse-map"
	case MetaInodeBtree:
		return "inode-btree"
	case MetaFinobt:
		return "finobt"
	case MetaRefcountBtree:
		return "refcount-btree"
	default:
		return "unknown"
	}
}

// PhaseResult is the tri-state every phase returns internally so the
// driver can decide whether to keep looping.
type PhaseResult int

const (
	PhaseProgress PhaseResult = iota
	PhaseNoProgress
	PhaseFatal
)

func (r PhaseResult) String() string {
	switch r {
	case PhaseProgress:
		return "progress"
	case PhaseNoProgress:
		return "no-progress"
	case PhaseFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome summarizes a completed Run for the caller.
type Outcome int

const (
	// Cleared means the target window holds no live data or metadata.
	Cleared Outcome = iota
	// PartialProgress means some bytes were evacuated but the window is
	// not fully clear; a rerun may make further progress.
	PartialProgress
	// NoProgress means the engine could not evacuate anything, usually
	// because every remaining extent hit a transient failure.
	NoProgress
)

func (o Outcome) String() string {
	switch o {
	case Cleared:
		return "cleared"
	case PartialProgress:
		return "partial-progress"
	case NoProgress:
		return "no-progress"
	default:
		return "unknown"
	}
}
