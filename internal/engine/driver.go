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
	"time"

	"github.com/johnpgarry/xfs-spaceevac/internal/telemetry"
)

// Init validates a Kernel and the caller's attrs and returns a ready
// Request. It is the engine's first public entry point; the other three
// are Run, (*Request).Efficacy, and (*Request).Free.
func Init(ctx context.Context, kernel Kernel, attrs Attrs) (*Request, error) {
	return NewRequest(ctx, kernel, nil, attrs)
}

// Run executes the full five-phase clearing state machine against an
// initialized request: prepare, migrate, rebuild metadata, report. It
// returns an Outcome describing how much of the window got cleared.
//
// State machine: INIT (done by Init) -> PREPARE -> MIGRATE <-> MIGRATE_ONE
// -> META <-> META_ONE -> DONE. Any fatal phase error aborts the run; the
// caller still owes the request a Free.
func Run(ctx context.Context, r *Request) (Outcome, error) {
	r.trace(TraceStatus, "run start window=[%d,%d)", r.attrs.Start, r.attrs.Start+PhysicalAddr(r.attrs.Length))

	if r.attrs.Length == 0 {
		return Cleared, nil
	}

	if err := r.timedPhase(ctx, "gc", func() error {
		return r.kernel.FreeEOFBlocks(ctx, r.attrs.DirFD)
	}); err != nil {
		return NoProgress, fmt.Errorf("garbage collect: %w", err)
	}

	if err := r.timedPhase(ctx, "freeze", func() error {
		return r.prepareCapture(ctx)
	}); err != nil {
		return NoProgress, err
	}

	if r.geom.ReflinkCapable {
		if err := r.timedPhase(ctx, "prepare_work", func() error {
			return r.prepareWork(ctx)
		}); err != nil {
			return NoProgress, err
		}
	}

	anyProgress := false

	if err := r.timedPhase(ctx, "migrate", func() error {
		return r.runMigrationLoop(ctx, &anyProgress)
	}); err != nil {
		return NoProgress, err
	}

	if err := r.timedPhase(ctx, "metadata", func() error {
		return r.runMetadataLoop(ctx, &anyProgress)
	}); err != nil {
		return NoProgress, err
	}

	cleared, err := r.windowCleared(ctx)
	if err != nil {
		return NoProgress, fmt.Errorf("check window cleared: %w", err)
	}

	outcome := NoProgress
	switch {
	case cleared:
		outcome = Cleared
	case anyProgress:
		outcome = PartialProgress
	}

	r.metrics.BytesCaptured(ctx, int64(r.Efficacy()))
	r.metrics.RecordOutcome(ctx, 1, []telemetry.MetricAttr{{Key: telemetry.OutcomeKey, Value: outcome.String()}})

	return outcome, nil
}

// timedPhase runs fn and records its wall-clock duration and invocation
// count under the named phase, regardless of whether fn succeeds.
func (r *Request) timedPhase(ctx context.Context, phase string, fn func() error) error {
	attrs := []telemetry.MetricAttr{{Key: telemetry.PhaseKey, Value: phase}}
	started := time.Now()
	err := fn()
	r.metrics.PhaseDuration(ctx, time.Since(started), attrs)
	r.metrics.PhaseCount(ctx, 1, attrs)
	return err
}

// windowCleared reports whether the target window is, right now, empty of
// live data and metadata: every reverse-map record left in it is free
// space. This is the actual definition of "cleared" a caller cares about.
// The visited set only records what the engine attempted this run, not
// what it achieved, so it cannot stand in for this check: a free-only
// window that nothing ever needed to touch leaves visited empty even
// though the window was already fully clear.
func (r *Request) windowCleared(ctx context.Context) (bool, error) {
	start, end := r.window()
	cursor := NewFSMapCursor(r.kernel, r.attrs.Device)
	cursor.Start(start, end)

	for {
		state, err := cursor.Next(ctx)
		if err != nil {
			return false, err
		}
		for _, rec := range cursor.Rows() {
			if rec.Owner != OwnerFree {
				return false, nil
			}
		}
		if state == StateDone {
			break
		}
	}
	return true, nil
}

// prepareCapture sizes the capture file to the window and runs the freeze
// loop (C4) plus free-space grabs until the capture file's mapped extent
// count stops growing, per §4.7 step 3.
func (r *Request) prepareCapture(ctx context.Context) error {
	start, length := r.attrs.Start, r.attrs.Length
	if err := r.capture.sizeTo(int64(start) + int64(length)); err != nil {
		return fmt.Errorf("%w: size capture file: %v", ErrHelperFileCreate, err)
	}

	for {
		before, err := r.capturedExtentCount(ctx)
		if err != nil {
			return err
		}

		result, err := r.freezeOnce(ctx)
		if err != nil {
			return fmt.Errorf("freeze: %w", err)
		}

		if err := r.grabFreeSpace(ctx, start, length); err != nil && !IsTransient(err) {
			return fmt.Errorf("grab free space: %w", err)
		}

		after, err := r.capturedExtentCount(ctx)
		if err != nil {
			return err
		}

		if result == PhaseNoProgress && after <= before {
			return nil
		}
	}
}

// capturedExtentCount is the loop-termination probe for prepareCapture: it
// counts the capture file's mapped (non-hole) sub-ranges in the window.
func (r *Request) capturedExtentCount(ctx context.Context) (int, error) {
	start, end := r.window()
	spans, err := data(r.capture.f, start, uint64(end-start))
	if err != nil {
		return 0, fmt.Errorf("capture extent probe: %w", err)
	}
	return len(spans), nil
}

// prepareWork clones the capture file's data into the work file at
// identity offsets and unshares the whole window, so every later dedupe
// call compares the owner's live data against a private copy instead of
// the shared capture blocks.
func (r *Request) prepareWork(ctx context.Context) error {
	start, length := r.attrs.Start, r.attrs.Length
	if err := r.work.truncateToZero(); err != nil {
		return fmt.Errorf("prepare work file: %w", err)
	}
	if err := r.work.sizeTo(int64(start) + int64(length)); err != nil {
		return fmt.Errorf("prepare work file: %w", err)
	}
	if _, err := r.kernel.CloneRange(ctx, r.capture.f, uint64(start), r.work.f, uint64(start), length); err != nil {
		return fmt.Errorf("prepare work file: clone capture: %w", err)
	}
	if err := r.kernel.Unshare(ctx, r.work.f, uint64(start), length); err != nil {
		return fmt.Errorf("prepare work file: unshare: %w", err)
	}
	return nil
}

// priorityClass buckets a target's priority score into a small, bounded
// label so the targets_selected metric doesn't grow an unbounded number of
// series: one series per raw priority value would defeat the point of the
// histogram-shaped cardinality Prometheus expects from a label.
func priorityClass(priority uint64) string {
	if priority&cheapBit != 0 {
		return "cheap"
	}
	return "normal"
}

// runMigrationLoop repeats target selection and migration until selection
// finds nothing left to designate, per §4.5 "Loop termination". Every
// selected target is marked visited as soon as it is chosen, regardless of
// how the migration attempt turns out: that is what guarantees the loop
// terminates even when a target resists clearing (busy owner, racing
// writer) instead of being retried forever within a single run.
func (r *Request) runMigrationLoop(ctx context.Context, anyProgress *bool) error {
	for {
		target, found, err := r.selectTarget(ctx)
		if err != nil {
			return fmt.Errorf("select target: %w", err)
		}
		if !found {
			return nil
		}

		r.trace(TraceTarget, "selected start=%d length=%d owners=%d priority=%d", target.Start, target.Length, target.Owners, target.Priority)
		r.metrics.TargetsSelected(ctx, 1, []telemetry.MetricAttr{{Key: telemetry.PriorityKey, Value: priorityClass(target.Priority)}})
		r.visited.Set(target.Start, target.Length)

		result, err := r.migrateTarget(ctx, &target)
		if err != nil {
			return fmt.Errorf("migrate target: %w", err)
		}

		if err := r.grabFreeSpace(ctx, target.Start, target.Length); err != nil && !IsTransient(err) {
			return fmt.Errorf("grab free space: %w", err)
		}

		if result == PhaseProgress || target.Evacuated > 0 {
			*anyProgress = true
		}
	}
}

// runMetadataLoop repeats the metadata rebuild stage until it stops
// reporting progress, per §4.7 step 6.
func (r *Request) runMetadataLoop(ctx context.Context, anyProgress *bool) error {
	for {
		result, err := r.metadata.rebuild(ctx, r)
		if err != nil {
			return fmt.Errorf("rebuild metadata: %w", err)
		}
		if result != PhaseProgress {
			return nil
		}
		*anyProgress = true
	}
}
