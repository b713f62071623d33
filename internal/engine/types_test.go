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
)

func TestOwnerIsSpecialAndInode(t *testing.T) {
	assert.True(t, OwnerFree.IsSpecial())
	assert.True(t, OwnerAG.IsSpecial())
	assert.False(t, Owner(42).IsSpecial())

	_, ok := OwnerFree.Inode()
	assert.False(t, ok)

	ino, ok := Owner(42).Inode()
	assert.True(t, ok)
	assert.EqualValues(t, 42, ino)
}

func TestOwnerString(t *testing.T) {
	assert.Equal(t, "free", OwnerFree.String())
	assert.Equal(t, "ag-metadata", OwnerAG.String())
	assert.Contains(t, Owner(7).String(), "7")
}

func TestGeometryAGNumber(t *testing.T) {
	g := Geometry{BlockSize: 4096, AGBlocks: 1000, AGCount: 4}
	agBytes := PhysicalAddr(1000 * 4096)

	assert.EqualValues(t, 0, g.AGNumber(0))
	assert.EqualValues(t, 0, g.AGNumber(agBytes-1))
	assert.EqualValues(t, 1, g.AGNumber(agBytes))
	assert.EqualValues(t, 2, g.AGNumber(2*agBytes+10))
}

func TestGeometryAGNumberZeroGeometryIsSafe(t *testing.T) {
	var g Geometry
	assert.EqualValues(t, 0, g.AGNumber(12345))
}

func TestGeometryRounding(t *testing.T) {
	g := Geometry{BlockSize: 4096}
	assert.EqualValues(t, 4096, g.RoundUpBlock(1))
	assert.EqualValues(t, 4096, g.RoundUpBlock(4096))
	assert.EqualValues(t, 8192, g.RoundUpBlock(4097))
	assert.EqualValues(t, 0, g.RoundDownBlock(4095))
	assert.EqualValues(t, 4096, g.RoundDownBlock(4096))
	assert.EqualValues(t, 4096, g.RoundDownBlock(8191))
}

func TestBulkStatFresh(t *testing.T) {
	a := BulkStat{Ino: 1, Gen: 2, Ctime: Timespec{1, 2}, Mtime: Timespec{3, 4}}
	same := a
	assert.True(t, a.Fresh(same))

	changedMtime := a
	changedMtime.Mtime = Timespec{3, 5}
	assert.False(t, a.Fresh(changedMtime))

	changedGen := a
	changedGen.Gen = 99
	assert.False(t, a.Fresh(changedGen))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "cleared", Cleared.String())
	assert.Equal(t, "partial-progress", PartialProgress.String())
	assert.Equal(t, "no-progress", NoProgress.String())
}

func TestMetadataKindString(t *testing.T) {
	assert.Equal(t, "refcount-btree", MetaRefcountBtree.String())
	assert.Equal(t, "inode-btree", MetaInodeBtree.String())
}

func TestBMapXRecordHoleAndDelalloc(t *testing.T) {
	assert.True(t, BMapXRecord{Physical: BMapHole}.IsHole())
	assert.True(t, BMapXRecord{Physical: BMapDelalloc}.IsDelalloc())
	assert.False(t, BMapXRecord{Physical: 0}.IsHole())
}
