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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/johnpgarry/xfs-spaceevac/internal/engine"
	"github.com/johnpgarry/xfs-spaceevac/internal/logger"
	"github.com/johnpgarry/xfs-spaceevac/internal/telemetry"
	"github.com/spf13/cobra"
)

var metricsAddr string

var evacuateCmd = &cobra.Command{
	Use:   "evacuate <path> <start> <length>",
	Short: "Clear a physical byte range of the filesystem containing path",
	Args:  cobra.ExactArgs(3),
	RunE:  runEvacuate,
}

func init() {
	evacuateCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090. Empty disables metrics.")
}

func runEvacuate(cmd *cobra.Command, args []string) error {
	if err := logger.InitLogFile(Resolved.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}
	defer logger.Close()

	path := args[0]
	start, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid start offset %q: %w", args[1], err)
	}
	length, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid length %q: %w", args[2], err)
	}

	traceMask, err := engine.ParseTraceMask(Resolved.Evacuate.TraceMask)
	if err != nil {
		return fmt.Errorf("invalid --trace value: %w", err)
	}

	ctx := cmd.Context()

	metrics, shutdown, err := setUpMetrics(ctx)
	if err != nil {
		return fmt.Errorf("set up metrics: %w", err)
	}
	if shutdown != nil {
		defer shutdown()
	}

	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer dir.Close()

	device := engine.DeviceData
	if Resolved.Evacuate.Realtime {
		device = engine.DeviceRealtime
	}

	attrs := engine.Attrs{
		Device:      device,
		Realtime:    Resolved.Evacuate.Realtime,
		Start:       engine.PhysicalAddr(start),
		Length:      length,
		TraceMask:   traceMask,
		DirFD:       int(dir.Fd()),
		DisplayName: Resolved.Evacuate.DisplayName,
		Metrics:     metrics,
	}

	req, err := engine.Init(ctx, engine.NewLinuxKernel(), attrs)
	if err != nil {
		return fmt.Errorf("init request: %w", err)
	}
	defer func() {
		if err := req.Free(); err != nil {
			logger.Errorf("freeing request: %v", err)
		}
	}()

	outcome, err := engine.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Infof("evacuate finished: outcome=%s efficacy_bytes=%d", outcome, req.Efficacy())
	fmt.Printf("%s (efficacy: %d bytes)\n", outcome, req.Efficacy())

	if outcome == engine.NoProgress {
		return fmt.Errorf("no progress made clearing the requested range")
	}
	return nil
}

// setUpMetrics wires a Prometheus scrape endpoint when --metrics-addr is
// set, or returns a no-op handle otherwise. The returned func, if non-nil,
// must be called to flush and stop the exporter.
func setUpMetrics(ctx context.Context) (telemetry.MetricHandle, func(), error) {
	if metricsAddr == "" {
		return telemetry.NewNoopMetrics(), nil, nil
	}

	provider, err := telemetry.NewPrometheusProvider()
	if err != nil {
		return nil, nil, err
	}
	handle, err := telemetry.NewOTelMetrics()
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.Handler)
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	return handle, func() {
		_ = srv.Close()
		_ = provider.Shutdown(ctx)
	}, nil
}
