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
	"github.com/stretchr/testify/require"
)

func TestParseTraceMaskEmpty(t *testing.T) {
	m, err := ParseTraceMask("")
	require.NoError(t, err)
	assert.Equal(t, TraceMask(0), m)
}

func TestParseTraceMaskAll(t *testing.T) {
	m, err := ParseTraceMask("all")
	require.NoError(t, err)
	assert.Equal(t, TraceAll, m)
}

func TestParseTraceMaskCommaList(t *testing.T) {
	m, err := ParseTraceMask("freeze, target,rebuild")
	require.NoError(t, err)
	assert.True(t, m.Has(TraceFreeze))
	assert.True(t, m.Has(TraceTarget))
	assert.True(t, m.Has(TraceRebuild))
	assert.False(t, m.Has(TraceDedupe))
}

func TestParseTraceMaskUnknownCategory(t *testing.T) {
	_, err := ParseTraceMask("bogus")
	require.Error(t, err)
	var unknown *UnknownTraceCategoryError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Category)
}

func TestTraceMaskStringRoundTrips(t *testing.T) {
	m, err := ParseTraceMask("freeze,target")
	require.NoError(t, err)
	back, err := ParseTraceMask(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, back)
}

func TestTraceMaskStringAll(t *testing.T) {
	assert.Equal(t, "all", TraceAll.String())
}
