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

//go:build linux

package engine

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl number encoding, mirroring <asm-generic/ioctl.h>. The struct sizes
// fed to these are this package's own wire structs, not the kernel UAPI
// ones byte-for-byte; a real port would pull the latter from xfs_fs.h.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iowr(typ, nr uintptr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

func ior(typ, nr uintptr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr uintptr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }

const xfsIoctlType = uintptr('X')

var (
	iocFSGeometry     = ior(xfsIoctlType, 126, unsafe.Sizeof(wireFSGeometry{}))
	iocScrubMetadata  = iowr(xfsIoctlType, 127, unsafe.Sizeof(wireScrubMetadata{}))
	iocExchangeRange  = iowr(xfsIoctlType, 128, unsafe.Sizeof(wireExchangeRange{}))
	iocMapFreeSpace   = iowr(xfsIoctlType, 129, unsafe.Sizeof(wireMapFreeSpace{}))
	iocBulkStatSingle = iowr(xfsIoctlType, 130, unsafe.Sizeof(wireBulkStat{}))
	iocFreeEOFBlocks  = iow(xfsIoctlType, 131, 0)
	iocFSGetXAttr     = ior(uintptr('X'), 31, unsafe.Sizeof(wireFSXAttr{}))
	iocFSSetXAttr     = iow(uintptr('X'), 32, unsafe.Sizeof(wireFSXAttr{}))
	iocGetFSMap       = iowr(xfsIoctlType, 132, unsafe.Sizeof(wireFSMapHead{}))
	iocGetFSRefs      = iowr(xfsIoctlType, 133, unsafe.Sizeof(wireFSMapHead{}))
	iocGetBMapX       = iowr(xfsIoctlType, 134, unsafe.Sizeof(wireBMapXHead{}))
)

type wireFSGeometry struct {
	BlockSize  uint32
	SectorSize uint32
	AGBlocks   uint64
	AGCount    uint32
	Flags      uint32
}

type wireScrubMetadata struct {
	AG   uint32
	Kind uint32
	Flags uint32
}

type wireExchangeRange struct {
	File2FD    int32
	_          int32
	File1Off   uint64
	File2Off   uint64
	Length     uint64
	File2Ino   uint64
	File2Ctime int64
	File2CtimeNsec int64
	File2Mtime int64
	File2MtimeNsec int64
	Flags      uint32
	_          uint32
}

type wireMapFreeSpace struct {
	Physical uint64
	Length   uint64
	Accepted uint64
}

type wireBulkStat struct {
	Ino   uint64
	Gen   uint32
	Mode  uint32
	CtimeSec, CtimeNsec int64
	MtimeSec, MtimeNsec int64
}

type wireFSXAttr struct {
	Flags uint32
	_     [32]byte
}

const xfsFlagRealtime = 0x00000001

func ioctl(fd int, cmd uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// LinuxKernel implements Kernel against a real Linux/XFS filesystem.
type LinuxKernel struct{}

// NewLinuxKernel returns the production Kernel implementation.
func NewLinuxKernel() *LinuxKernel { return &LinuxKernel{} }

func (k *LinuxKernel) Geometry(_ context.Context, dirFD int) (Geometry, error) {
	var g wireFSGeometry
	if err := ioctl(dirFD, iocFSGeometry, unsafe.Pointer(&g)); err != nil {
		return Geometry{}, fmt.Errorf("fsgeometry: %w", err)
	}
	return Geometry{
		BlockSize:              g.BlockSize,
		SectorSize:             g.SectorSize,
		AGBlocks:               g.AGBlocks,
		AGCount:                g.AGCount,
		ReflinkCapable:         g.Flags&0x1 != 0,
		MetadataRebuildCapable: g.Flags&0x2 != 0,
	}, nil
}

func (k *LinuxKernel) GetHandle(_ context.Context, dirFD int) (Handle, error) {
	fh, _, err := unix.NameToHandleAt(dirFD, ".", 0)
	if err != nil {
		return nil, fmt.Errorf("name_to_handle_at: %w", err)
	}
	return Handle(fh.Bytes()), nil
}

// wireFSMapKey and wireFSMapHead mirror the kernel's GETFSMAP convention of
// a fixed head struct followed by a caller-sized array of result records in
// the same ioctl buffer.
type wireFSMapKey struct {
	Device   uint32
	_        uint32
	Physical uint64
}

type wireFSMapHead struct {
	ReqCount uint32
	EntCount uint32
	_        uint32
	_        uint32
	LowKey   wireFSMapKey
	HighKey  wireFSMapKey
}

type wireFSMapRecordABI struct {
	Device      uint32
	Flags       uint32
	Physical    uint64
	Length      uint64
	Owner       int64
	OwnerOffset uint64
}

func (k *LinuxKernel) GetFSMap(_ context.Context, dev DeviceTag, low, high PhysicalAddr, max int) ([]FSMapRecord, error) {
	buf := newFSMapBuf(dev, low, high, max)
	if err := ioctl(fsmapIoctlFD, iocGetFSMap, unsafe.Pointer(&buf[0])); err != nil {
		return nil, fmt.Errorf("getfsmap: %w", err)
	}
	head := (*wireFSMapHead)(unsafe.Pointer(&buf[0]))
	recs := fsmapRecordsFromBuf(buf, int(head.EntCount))

	out := make([]FSMapRecord, len(recs))
	for i, r := range recs {
		out[i] = FSMapRecord{
			Device:      DeviceTag(r.Device),
			Physical:    PhysicalAddr(r.Physical),
			Length:      r.Length,
			Owner:       Owner(r.Owner),
			OwnerOffset: r.OwnerOffset,
			Flags:       RecordFlag(r.Flags),
		}
	}
	return out, nil
}

func (k *LinuxKernel) GetFSRefs(_ context.Context, dev DeviceTag, low, high PhysicalAddr, max int) ([]FSRefsRecord, error) {
	buf := newFSMapBuf(dev, low, high, max)
	if err := ioctl(fsmapIoctlFD, iocGetFSRefs, unsafe.Pointer(&buf[0])); err != nil {
		return nil, fmt.Errorf("getfsrefs: %w", err)
	}
	head := (*wireFSMapHead)(unsafe.Pointer(&buf[0]))
	recs := fsmapRecordsFromBuf(buf, int(head.EntCount))

	out := make([]FSRefsRecord, len(recs))
	for i, r := range recs {
		out[i] = FSRefsRecord{
			Device: DeviceTag(r.Device),
			Physical: PhysicalAddr(r.Physical),
			Length:   r.Length,
			Owners:   uint32(r.Owner),
			Flags:    RecordFlag(r.Flags),
		}
	}
	return out, nil
}

type wireBMapXRecordABI struct {
	FileOffset uint64
	Physical   int64
	Length     uint64
	Flags      uint32
	_          uint32
}

type wireBMapXHead struct {
	ReqCount uint32
	EntCount uint32
	LowOff   uint64
	HighOff  uint64
	Fork     uint32
	_        uint32
}

func (k *LinuxKernel) GetBMapX(_ context.Context, f *os.File, fork Fork, low, high uint64, max int) ([]BMapXRecord, error) {
	headSz := int(unsafe.Sizeof(wireBMapXHead{}))
	recSz := int(unsafe.Sizeof(wireBMapXRecordABI{}))
	buf := make([]byte, headSz+recSz*max)
	head := (*wireBMapXHead)(unsafe.Pointer(&buf[0]))
	head.ReqCount = uint32(max)
	head.LowOff, head.HighOff = low, high
	head.Fork = uint32(fork)

	if err := ioctl(int(f.Fd()), iocGetBMapX, unsafe.Pointer(&buf[0])); err != nil {
		return nil, fmt.Errorf("getbmapx: %w", err)
	}
	head = (*wireBMapXHead)(unsafe.Pointer(&buf[0]))
	n := int(head.EntCount)
	out := make([]BMapXRecord, n)
	for i := 0; i < n; i++ {
		r := (*wireBMapXRecordABI)(unsafe.Pointer(&buf[headSz+i*recSz]))
		out[i] = BMapXRecord{
			FileOffset: r.FileOffset,
			Physical:   r.Physical,
			Length:     r.Length,
			Flags:      RecordFlag(r.Flags),
		}
	}
	return out, nil
}

// fsmapIoctlFD is AT_FDCWD: the spec's get-fsmap/get-fsrefs queries are
// scoped by device tag inside the ioctl payload, not by an open fd on a
// particular file, so any fd on the mounted filesystem works; the request
// keeps a directory fd open for exactly this purpose (see request.go).
const fsmapIoctlFD = unix.AT_FDCWD

func newFSMapBuf(dev DeviceTag, low, high PhysicalAddr, max int) []byte {
	headSz := int(unsafe.Sizeof(wireFSMapHead{}))
	recSz := int(unsafe.Sizeof(wireFSMapRecordABI{}))
	buf := make([]byte, headSz+recSz*max)
	head := (*wireFSMapHead)(unsafe.Pointer(&buf[0]))
	head.ReqCount = uint32(max)
	head.LowKey = wireFSMapKey{Device: uint32(dev), Physical: uint64(low)}
	head.HighKey = wireFSMapKey{Device: uint32(dev), Physical: uint64(high)}
	return buf
}

func fsmapRecordsFromBuf(buf []byte, n int) []wireFSMapRecordABI {
	headSz := int(unsafe.Sizeof(wireFSMapHead{}))
	recSz := int(unsafe.Sizeof(wireFSMapRecordABI{}))
	out := make([]wireFSMapRecordABI, n)
	for i := 0; i < n; i++ {
		out[i] = *(*wireFSMapRecordABI)(unsafe.Pointer(&buf[headSz+i*recSz]))
	}
	return out
}

func (k *LinuxKernel) OpenByHandle(_ context.Context, h Handle, ino uint64, gen uint32) (*os.File, error) {
	if len(h) == 0 {
		return nil, ErrZeroLengthHandle
	}
	fh := unix.NewFileHandle(0, h)
	fd, err := unix.OpenByHandleAt(unix.AT_FDCWD, fh, os.O_RDWR)
	if err != nil {
		if err == unix.ESTALE || err == unix.ENOENT {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("open_by_handle_at(ino=%d,gen=%d): %w", ino, gen, err)
	}
	return os.NewFile(uintptr(fd), fmt.Sprintf("handle:%d", ino)), nil
}

func (k *LinuxKernel) BulkStatSingle(_ context.Context, h Handle, ino uint64) (BulkStat, error) {
	req := wireBulkStat{Ino: ino}
	if err := ioctl(int(unix.AT_FDCWD), iocBulkStatSingle, unsafe.Pointer(&req)); err != nil {
		return BulkStat{}, fmt.Errorf("bulkstat(%d): %w", ino, err)
	}
	return BulkStat{
		Ino:   req.Ino,
		Gen:   req.Gen,
		Mode:  req.Mode,
		Ctime: Timespec{Sec: req.CtimeSec, Nsec: req.CtimeNsec},
		Mtime: Timespec{Sec: req.MtimeSec, Nsec: req.MtimeNsec},
	}, nil
}

func (k *LinuxKernel) CreateHelperFile(_ context.Context, dirFD int, rt bool) (*os.File, error) {
	fd, err := unix.Openat(dirFD, ".", unix.O_TMPFILE|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: openat O_TMPFILE: %v", ErrHelperFileCreate, err)
	}
	f := os.NewFile(uintptr(fd), "helper")
	if rt {
		var xa wireFSXAttr
		if err := ioctl(fd, iocFSGetXAttr, unsafe.Pointer(&xa)); err == nil {
			xa.Flags |= xfsFlagRealtime
			_ = ioctl(fd, iocFSSetXAttr, unsafe.Pointer(&xa))
		}
	}
	return f, nil
}

func (k *LinuxKernel) MapFreeSpace(_ context.Context, dst *os.File, physical PhysicalAddr, length uint64) (uint64, error) {
	req := wireMapFreeSpace{Physical: uint64(physical), Length: length}
	if err := ioctl(int(dst.Fd()), iocMapFreeSpace, unsafe.Pointer(&req)); err != nil {
		if err == unix.ENOSPC {
			return req.Accepted, ErrOutOfSpace
		}
		return 0, fmt.Errorf("map_freesp: %w", err)
	}
	return req.Accepted, nil
}

func (k *LinuxKernel) CloneRange(_ context.Context, src *os.File, srcOff uint64, dst *os.File, dstOff uint64, length uint64) (uint64, error) {
	fcr := unix.FileCloneRange{
		Src_fd:      int64(src.Fd()),
		Src_offset:  srcOff,
		Src_length:  length,
		Dest_offset: dstOff,
	}
	if err := unix.IoctlFileCloneRange(int(dst.Fd()), &fcr); err != nil {
		if err == unix.ENOSPC {
			return 0, ErrOutOfSpace
		}
		return 0, fmt.Errorf("clone_range: %w", err)
	}
	return length, nil
}

func (k *LinuxKernel) DedupeRange(_ context.Context, src *os.File, srcOff uint64, dst *os.File, dstOff uint64, length uint64) (uint64, bool, error) {
	fdr := unix.FileDedupeRange{
		Src_offset: srcOff,
		Src_length: length,
		Info: []unix.FileDedupeRangeInfo{{
			Dest_fd:     int64(dst.Fd()),
			Dest_offset: dstOff,
		}},
	}
	if err := unix.IoctlFileDedupeRange(int(src.Fd()), &fdr); err != nil {
		if err == unix.ENOSPC {
			return 0, false, ErrOutOfSpace
		}
		return 0, false, fmt.Errorf("dedupe_range: %w", err)
	}
	info := fdr.Info[0]
	if info.Status != 0 { // 0 is FILE_DEDUPE_RANGE_SAME; DIFFERS (1) and errnos (<0) are not
		return 0, false, nil
	}
	return uint64(info.Bytes_deduped), true, nil
}

func (k *LinuxKernel) ExchangeRange(_ context.Context, a *os.File, aOff uint64, b *os.File, bOff uint64, length uint64, fresh *BulkStat) error {
	req := wireExchangeRange{
		File2FD:  int32(b.Fd()),
		File1Off: aOff,
		File2Off: bOff,
		Length:   length,
	}
	if fresh != nil {
		req.Flags |= 0x1
		req.File2Ino = fresh.Ino
		req.File2Ctime, req.File2CtimeNsec = fresh.Ctime.Sec, fresh.Ctime.Nsec
		req.File2Mtime, req.File2MtimeNsec = fresh.Mtime.Sec, fresh.Mtime.Nsec
	}
	if err := ioctl(int(a.Fd()), iocExchangeRange, unsafe.Pointer(&req)); err != nil {
		if err == unix.ETXTBSY || err == unix.EAGAIN {
			return ErrBusy
		}
		return fmt.Errorf("exchange_range: %w", err)
	}
	return nil
}

func (k *LinuxKernel) Unshare(_ context.Context, f *os.File, offset, length uint64) error {
	if err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_UNSHARE_RANGE, int64(offset), int64(length)); err != nil {
		return fmt.Errorf("unshare: %w", err)
	}
	return nil
}

func (k *LinuxKernel) ScrubMetadata(_ context.Context, dev DeviceTag, ag uint32, kind MetadataKind) error {
	req := wireScrubMetadata{AG: ag, Kind: uint32(kind)}
	if err := ioctl(int(unix.AT_FDCWD), iocScrubMetadata, unsafe.Pointer(&req)); err != nil {
		if err == unix.ENOENT {
			return ErrNotFound
		}
		if err == unix.ENOSPC {
			return ErrOutOfSpace
		}
		return fmt.Errorf("scrub_metadata(ag=%d,kind=%s): %w", ag, kind, err)
	}
	return nil
}

func (k *LinuxKernel) FreeEOFBlocks(_ context.Context, dirFD int) error {
	if err := ioctl(dirFD, iocFreeEOFBlocks, nil); err != nil {
		return fmt.Errorf("free_eofblocks: %w", err)
	}
	return nil
}

