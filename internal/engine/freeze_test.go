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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreezeOnceNoopWithoutReflink(t *testing.T) {
	k := &fakeKernel{geom: Geometry{BlockSize: 4096, ReflinkCapable: false}}
	r := testRequestForMetadata(t, k)

	result, err := r.freezeOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseNoProgress, result)
	// freezeOnce must bail out before ever touching the reverse map.
	assert.Empty(t, k.getFSMapCalls)
}

func TestFreezeRecordSkipsSpecialOwners(t *testing.T) {
	k := &fakeKernel{geom: Geometry{BlockSize: 4096, ReflinkCapable: true}}
	r := testRequestForMetadata(t, k)

	made, err := r.freezeRecord(context.Background(), FSMapRecord{Owner: OwnerAG, Physical: 0, Length: 4096})
	require.NoError(t, err)
	assert.False(t, made)
}

func TestFreezeRecordSkipsMetadataForkRecords(t *testing.T) {
	k := &fakeKernel{geom: Geometry{BlockSize: 4096, ReflinkCapable: true}}
	r := testRequestForMetadata(t, k)

	made, err := r.freezeRecord(context.Background(), FSMapRecord{
		Owner:    Owner(100),
		Physical: 0,
		Length:   4096,
		Flags:    FlagExtentMap,
	})
	require.NoError(t, err)
	assert.False(t, made)
}
