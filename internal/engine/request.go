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
	"fmt"
	"log/slog"

	"github.com/johnpgarry/xfs-spaceevac/internal/telemetry"
)

// Attrs are the parameters a caller supplies to Init. They name the target
// window and the knobs that do not change over the life of the run.
type Attrs struct {
	Device      DeviceTag
	Realtime    bool
	Start       PhysicalAddr
	Length      uint64
	TraceMask   TraceMask
	DirFD       int
	DisplayName string

	// Metrics receives the run's instrumentation. Nil is treated as
	// telemetry.NewNoopMetrics().
	Metrics telemetry.MetricHandle
}

// Request is the central, long-lived entity owned by a single clearing
// run. It is created by Init, mutated only through its own methods, and
// destroyed exactly once by Free.
type Request struct {
	attrs  Attrs
	geom   Geometry
	kernel Kernel
	handle Handle

	capture *helperFile
	work    *helperFile

	visited *VisitedBitmap

	traceIndent int
	log         *slog.Logger

	migration migrationStrategy
	metadata  metadataStrategy

	metrics telemetry.MetricHandle

	captured uint64 // running efficacy total, in bytes
}

// NewRequest constructs a Request against a concrete Kernel. Production
// callers pass NewLinuxKernel(); tests pass a fake.
func NewRequest(ctx context.Context, kernel Kernel, log *slog.Logger, attrs Attrs) (*Request, error) {
	if log == nil {
		log = slog.Default()
	}
	metrics := attrs.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	geom, err := kernel.Geometry(ctx, attrs.DirFD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoReverseMap, err)
	}
	geom.Realtime = attrs.Realtime

	handle, err := kernel.GetHandle(ctx, attrs.DirFD)
	if err != nil {
		return nil, fmt.Errorf("get filesystem handle: %w", err)
	}

	r := &Request{
		attrs:   attrs,
		geom:    geom,
		kernel:  kernel,
		handle:  handle,
		visited: NewVisitedBitmap(),
		log:     log,
		metrics: metrics,
	}

	if geom.ReflinkCapable {
		r.migration = dedupeMigration{}
	} else {
		r.migration = exchangeMigration{}
	}
	if geom.MetadataRebuildCapable {
		r.metadata = enabledMetadata{}
	} else {
		r.metadata = disabledMetadata{}
	}

	capture, err := createHelperFile(ctx, kernel, attrs.DirFD, attrs.Realtime, "capture")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHelperFileCreate, err)
	}
	r.capture = capture

	work, err := createHelperFile(ctx, kernel, attrs.DirFD, attrs.Realtime, "work")
	if err != nil {
		_ = capture.close()
		return nil, fmt.Errorf("%w: %v", ErrHelperFileCreate, err)
	}
	r.work = work

	return r, nil
}

// Free closes and releases every resource the request owns, in reverse
// order of acquisition. It is safe to call once; calling it twice is a
// caller bug but will not panic.
func (r *Request) Free() error {
	var errs []error
	if r.work != nil {
		if err := r.work.close(); err != nil {
			errs = append(errs, err)
		}
		r.work = nil
	}
	if r.capture != nil {
		if err := r.capture.close(); err != nil {
			errs = append(errs, err)
		}
		r.capture = nil
	}
	if r.visited != nil {
		r.visited.Free()
		r.visited = nil
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("engine: errors freeing request: %v", errs)
}

// Efficacy returns the number of bytes captured so far this run.
func (r *Request) Efficacy() uint64 { return r.captured }

func (r *Request) window() (PhysicalAddr, PhysicalAddr) {
	return r.attrs.Start, r.attrs.Start + PhysicalAddr(r.attrs.Length)
}

func (r *Request) trace(category TraceMask, format string, args ...any) {
	if !r.attrs.TraceMask.Has(category) {
		return
	}
	indent := ""
	for i := 0; i < r.traceIndent; i++ {
		indent += "  "
	}
	r.log.Debug(indent+fmt.Sprintf(format, args...), "category", traceNames[category])
}

func (r *Request) pushIndent() { r.traceIndent++ }
func (r *Request) popIndent() {
	if r.traceIndent > 0 {
		r.traceIndent--
	}
}
