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

// Package telemetry instruments the evacuation engine with OpenTelemetry
// metrics, exported to Prometheus. It mirrors the engine's own vocabulary
// (phases, targets, records) rather than generic counters.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// MetricAttr is a single metric label.
type MetricAttr struct {
	Key, Value string
}

const (
	PhaseKey    = "phase"
	PriorityKey = "priority"
	StageKey    = "stage"
	MetaKindKey = "metadata_kind"
	OutcomeKey  = "outcome"
)

// The default latency buckets, in milliseconds, shared by every duration
// histogram this package exports.
var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(
	1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000,
)

// PhaseMetricHandle records the duration of the driver's top-level phases
// (garbage collection, freeze, migrate, metadata rebuild).
type PhaseMetricHandle interface {
	PhaseDuration(ctx context.Context, latency time.Duration, attrs []MetricAttr)
	PhaseCount(ctx context.Context, inc int64, attrs []MetricAttr)
}

// TargetMetricHandle records target-selection and clearing outcomes.
type TargetMetricHandle interface {
	TargetsSelected(ctx context.Context, inc int64, attrs []MetricAttr)
	BytesEvacuated(ctx context.Context, inc int64)
	// BytesCaptured reports the engine's efficacy gauge: the total number
	// of bytes captured into the capture file so far this run. Callers
	// pass the current running total, not a delta.
	BytesCaptured(ctx context.Context, value int64)
}

// RecordMetricHandle records each run's final outcome (cleared, partial
// progress, no progress) and the number of metadata groups successfully
// rebuilt.
type RecordMetricHandle interface {
	RecordOutcome(ctx context.Context, inc int64, attrs []MetricAttr)
	MetadataRebuildCount(ctx context.Context, inc int64, attrs []MetricAttr)
}

// MetricHandle is the full set of instrumentation the engine emits.
type MetricHandle interface {
	PhaseMetricHandle
	TargetMetricHandle
	RecordMetricHandle
}
