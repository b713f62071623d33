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
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var engineMeter = otel.Meter("xfs_spaceevac/engine")

var attributeSetCache sync.Map

func attributeSet(attrs []MetricAttr) metric.MeasurementOption {
	key := ""
	for _, a := range attrs {
		key += a.Key + "=" + a.Value + ";"
	}
	if v, ok := attributeSetCache.Load(key); ok {
		return v.(metric.MeasurementOption)
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		kvs = append(kvs, attribute.String(a.Key, a.Value))
	}
	opt := metric.WithAttributeSet(attribute.NewSet(kvs...))
	v, _ := attributeSetCache.LoadOrStore(key, opt)
	return v.(metric.MeasurementOption)
}

type otelMetrics struct {
	phaseDuration metric.Float64Histogram
	phaseCount    metric.Int64Counter

	targetsSelected metric.Int64Counter
	bytesEvacuated  metric.Int64Counter
	bytesCaptured   metric.Int64Gauge

	recordOutcome        metric.Int64Counter
	metadataRebuildCount metric.Int64Counter
}

func (o *otelMetrics) PhaseDuration(ctx context.Context, latency time.Duration, attrs []MetricAttr) {
	o.phaseDuration.Record(ctx, float64(latency.Milliseconds()), attributeSet(attrs))
}

func (o *otelMetrics) PhaseCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	o.phaseCount.Add(ctx, inc, attributeSet(attrs))
}

func (o *otelMetrics) TargetsSelected(ctx context.Context, inc int64, attrs []MetricAttr) {
	o.targetsSelected.Add(ctx, inc, attributeSet(attrs))
}

func (o *otelMetrics) BytesEvacuated(ctx context.Context, inc int64) {
	o.bytesEvacuated.Add(ctx, inc)
}

func (o *otelMetrics) BytesCaptured(ctx context.Context, value int64) {
	o.bytesCaptured.Record(ctx, value)
}

func (o *otelMetrics) RecordOutcome(ctx context.Context, inc int64, attrs []MetricAttr) {
	o.recordOutcome.Add(ctx, inc, attributeSet(attrs))
}

func (o *otelMetrics) MetadataRebuildCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	o.metadataRebuildCount.Add(ctx, inc, attributeSet(attrs))
}

// NewOTelMetrics registers the engine's instruments against the global
// OpenTelemetry meter provider, which the caller is expected to have
// already installed (see NewPrometheusProvider).
func NewOTelMetrics() (MetricHandle, error) {
	phaseDuration, err1 := engineMeter.Float64Histogram("evacuate/phase_latency",
		metric.WithDescription("Duration of each top-level driver phase per request."),
		metric.WithUnit("ms"),
		defaultLatencyDistribution)
	phaseCount, err2 := engineMeter.Int64Counter("evacuate/phase_count",
		metric.WithDescription("The number of times each driver phase has run."))

	targetsSelected, err3 := engineMeter.Int64Counter("evacuate/targets_selected_count",
		metric.WithDescription("The number of clearing targets selected, by priority class."))
	bytesEvacuated, err4 := engineMeter.Int64Counter("evacuate/bytes_evacuated_count",
		metric.WithDescription("Bytes moved out of selected targets by migration."),
		metric.WithUnit("By"))
	bytesCaptured, err5 := engineMeter.Int64Gauge("evacuate/efficacy_bytes",
		metric.WithDescription("Bytes captured into the capture file so far this run, the engine's efficacy counter."),
		metric.WithUnit("By"))

	recordOutcome, err6 := engineMeter.Int64Counter("evacuate/record_outcome_count",
		metric.WithDescription("Final outcome of each run (cleared, partial-progress, no-progress)."))
	metadataRebuildCount, err7 := engineMeter.Int64Counter("evacuate/metadata_rebuild_count",
		metric.WithDescription("Metadata groups rebuilt, by allocation-group metadata kind."))

	if err := errors.Join(err1, err2, err3, err4, err5, err6, err7); err != nil {
		return nil, err
	}

	return &otelMetrics{
		phaseDuration:        phaseDuration,
		phaseCount:           phaseCount,
		targetsSelected:      targetsSelected,
		bytesEvacuated:       bytesEvacuated,
		bytesCaptured:        bytesCaptured,
		recordOutcome:        recordOutcome,
		metadataRebuildCount: metadataRebuildCount,
	}, nil
}
