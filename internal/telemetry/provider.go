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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

func setGlobalMeterProvider(mp *metric.MeterProvider) {
	otel.SetMeterProvider(mp)
}

// ShutdownFn flushes and releases provider resources.
type ShutdownFn func(ctx context.Context) error

// Provider bundles an installed meter provider with the HTTP handler that
// serves its scraped state.
type Provider struct {
	meterProvider *metric.MeterProvider
	Handler       http.Handler
	Shutdown      ShutdownFn
}

// NewPrometheusProvider wires an OpenTelemetry SDK MeterProvider to a
// dedicated Prometheus registry and sets it as the process-wide default, so
// that subsequent calls to otel.Meter (as used by NewOTelMetrics) record
// against it.
func NewPrometheusProvider() (*Provider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry), otelprom.WithoutTargetInfo())
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	setGlobalMeterProvider(mp)

	return &Provider{
		meterProvider: mp,
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:      mp.Shutdown,
	}, nil
}
