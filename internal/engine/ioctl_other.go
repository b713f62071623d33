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

//go:build !linux

package engine

import (
	"context"
	"errors"
	"os"
)

// ErrUnsupportedPlatform is returned by every LinuxKernel method outside
// Linux: the evacuation engine is inherently tied to a reverse-mapped,
// reflink-capable filesystem, which in practice means XFS on Linux.
var ErrUnsupportedPlatform = errors.New("engine: not supported on this platform")

// LinuxKernel is a stub on non-Linux platforms so the package still
// builds; every method fails with ErrUnsupportedPlatform.
type LinuxKernel struct{}

func NewLinuxKernel() *LinuxKernel { return &LinuxKernel{} }

func (k *LinuxKernel) Geometry(context.Context, int) (Geometry, error) {
	return Geometry{}, ErrUnsupportedPlatform
}
func (k *LinuxKernel) GetHandle(context.Context, int) (Handle, error) {
	return nil, ErrUnsupportedPlatform
}
func (k *LinuxKernel) GetFSMap(context.Context, DeviceTag, PhysicalAddr, PhysicalAddr, int) ([]FSMapRecord, error) {
	return nil, ErrUnsupportedPlatform
}
func (k *LinuxKernel) GetFSRefs(context.Context, DeviceTag, PhysicalAddr, PhysicalAddr, int) ([]FSRefsRecord, error) {
	return nil, ErrUnsupportedPlatform
}
func (k *LinuxKernel) GetBMapX(context.Context, *os.File, Fork, uint64, uint64, int) ([]BMapXRecord, error) {
	return nil, ErrUnsupportedPlatform
}
func (k *LinuxKernel) OpenByHandle(context.Context, Handle, uint64, uint32) (*os.File, error) {
	return nil, ErrUnsupportedPlatform
}
func (k *LinuxKernel) BulkStatSingle(context.Context, Handle, uint64) (BulkStat, error) {
	return BulkStat{}, ErrUnsupportedPlatform
}
func (k *LinuxKernel) CreateHelperFile(context.Context, int, bool) (*os.File, error) {
	return nil, ErrUnsupportedPlatform
}
func (k *LinuxKernel) MapFreeSpace(context.Context, *os.File, PhysicalAddr, uint64) (uint64, error) {
	return 0, ErrUnsupportedPlatform
}
func (k *LinuxKernel) CloneRange(context.Context, *os.File, uint64, *os.File, uint64, uint64) (uint64, error) {
	return 0, ErrUnsupportedPlatform
}
func (k *LinuxKernel) DedupeRange(context.Context, *os.File, uint64, *os.File, uint64, uint64) (uint64, bool, error) {
	return 0, false, ErrUnsupportedPlatform
}
func (k *LinuxKernel) ExchangeRange(context.Context, *os.File, uint64, *os.File, uint64, uint64, *BulkStat) error {
	return ErrUnsupportedPlatform
}
func (k *LinuxKernel) Unshare(context.Context, *os.File, uint64, uint64) error {
	return ErrUnsupportedPlatform
}
func (k *LinuxKernel) ScrubMetadata(context.Context, DeviceTag, uint32, MetadataKind) error {
	return ErrUnsupportedPlatform
}
func (k *LinuxKernel) FreeEOFBlocks(context.Context, int) error {
	return ErrUnsupportedPlatform
}
