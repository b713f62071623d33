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
	"time"
)

type noopMetrics struct{}

func (noopMetrics) PhaseDuration(context.Context, time.Duration, []MetricAttr) {}
func (noopMetrics) PhaseCount(context.Context, int64, []MetricAttr)            {}
func (noopMetrics) TargetsSelected(context.Context, int64, []MetricAttr)       {}
func (noopMetrics) BytesEvacuated(context.Context, int64)                      {}
func (noopMetrics) BytesCaptured(context.Context, int64)                       {}
func (noopMetrics) RecordOutcome(context.Context, int64, []MetricAttr)         {}
func (noopMetrics) MetadataRebuildCount(context.Context, int64, []MetricAttr)  {}

// NewNoopMetrics returns a MetricHandle that discards everything, used when
// no metrics endpoint was requested.
func NewNoopMetrics() MetricHandle { return noopMetrics{} }
