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

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetricsDoesNotPanic(t *testing.T) {
	m := NewNoopMetrics()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.PhaseDuration(ctx, time.Second, []MetricAttr{{Key: PhaseKey, Value: "freeze"}})
		m.PhaseCount(ctx, 1, nil)
		m.TargetsSelected(ctx, 1, nil)
		m.BytesEvacuated(ctx, 100)
		m.BytesCaptured(ctx, 100)
		m.RecordOutcome(ctx, 1, nil)
		m.MetadataRebuildCount(ctx, 1, nil)
	})
}

func TestNewOTelMetricsRegistersDistinctInstruments(t *testing.T) {
	handle, err := NewOTelMetrics()
	require.NoError(t, err)
	require.NotNil(t, handle)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		handle.PhaseDuration(ctx, 10*time.Millisecond, []MetricAttr{{Key: PhaseKey, Value: "migrate"}})
		handle.BytesCaptured(ctx, 4096)
	})
}

func TestAttributeSetCaching(t *testing.T) {
	a := attributeSet([]MetricAttr{{Key: "a", Value: "1"}})
	b := attributeSet([]MetricAttr{{Key: "a", Value: "1"}})
	assert.Equal(t, a, b)
}
