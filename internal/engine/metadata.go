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
	"errors"

	"github.com/johnpgarry/xfs-spaceevac/internal/telemetry"
)

// metadataStrategy runs the metadata stage (C6). enabledMetadata does the
// real work; disabledMetadata is a no-op used when the kernel does not
// expose a force-rebuild primitive for this filesystem.
type metadataStrategy interface {
	rebuild(ctx context.Context, r *Request) (PhaseResult, error)
}

// disabledMetadata is selected when Geometry.MetadataRebuildCapable is
// false; the metadata stage is then permanently a no-op for this run.
type disabledMetadata struct{}

func (disabledMetadata) rebuild(context.Context, *Request) (PhaseResult, error) {
	return PhaseNoProgress, nil
}

// metaGroupOwner maps a special owner to the kind of metadata object a
// reverse-map record of that owner represents, or reports that the owner
// does not correspond to a rebuildable metadata kind at all.
func metaGroupOwner(o Owner) (MetadataKind, bool) {
	switch o {
	case OwnerAG:
		return MetaFreeSpaceByBlock, true
	case OwnerInobt:
		return MetaInodeBtree, true
	case OwnerRefcount:
		return MetaRefcountBtree, true
	default:
		return 0, false
	}
}

// nonMovable reports whether o names space the metadata stage must leave
// alone regardless of whether the kernel could technically move it.
func nonMovable(o Owner) bool {
	return o == OwnerLog || o == OwnerFS || o == OwnerDefective
}

// enabledMetadata rebuilds per-allocation-group metadata objects found
// within the target window, one (AG, kind) group at a time.
type enabledMetadata struct{}

// metaGroup is a run of consecutive reverse-map records that share an
// allocation group and a metadata kind.
type metaGroup struct {
	ag     uint32
	kind   MetadataKind
	start  PhysicalAddr
	length uint64
}

func (enabledMetadata) rebuild(ctx context.Context, r *Request) (PhaseResult, error) {
	if r.geom.Realtime {
		return PhaseNoProgress, nil // metadata rebuild is data-volume only
	}

	start, end := r.window()
	cursor := NewFSMapCursor(r.kernel, r.attrs.Device)
	cursor.Start(start, end)

	var groups []metaGroup
	var cur *metaGroup

	flush := func() {
		if cur != nil {
			groups = append(groups, *cur)
			cur = nil
		}
	}

	for {
		state, err := cursor.Next(ctx)
		if err != nil {
			return PhaseFatal, err
		}
		for _, rec := range cursor.Rows() {
			if nonMovable(rec.Owner) {
				flush()
				continue
			}
			kind, ok := metaGroupOwner(rec.Owner)
			if !ok {
				flush()
				continue
			}
			ag := r.geom.AGNumber(rec.Physical)
			if cur != nil && cur.ag == ag && cur.kind == kind && cur.start+PhysicalAddr(cur.length) == rec.Physical {
				cur.length += rec.Length
				continue
			}
			flush()
			cur = &metaGroup{ag: ag, kind: kind, start: rec.Physical, length: rec.Length}
		}
		if state == StateDone {
			break
		}
	}
	flush()

	progress := false
	for _, g := range groups {
		if r.visited.Test(g.start, g.length) {
			continue
		}
		r.trace(TraceRebuild, "rebuild ag=%d kind=%s start=%d length=%d", g.ag, g.kind, g.start, g.length)

		err := r.kernel.ScrubMetadata(ctx, r.attrs.Device, g.ag, g.kind)
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrOutOfSpace) {
			return PhaseFatal, err
		}
		if err == nil {
			progress = true
			r.metrics.MetadataRebuildCount(ctx, 1, []telemetry.MetricAttr{{Key: telemetry.MetaKindKey, Value: g.kind.String()}})
		}

		if ferr := r.grabFreeSpace(ctx, g.start, g.length); ferr != nil && !IsTransient(ferr) {
			return PhaseFatal, ferr
		}
		r.visited.Set(g.start, g.length)
	}

	if progress {
		return PhaseProgress, nil
	}
	return PhaseNoProgress, nil
}
