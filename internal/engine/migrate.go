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
	"io"
	"os"
)

// migrationStrategy evacuates the live data backing a single reverse-map
// record out of a selected target, onto space the request already owns
// outside the target window. The two implementations correspond to the
// "Dedupe path" and "Exchange path" of the migration stage: which one a
// Request uses is fixed for the life of the run by whether the filesystem
// is reflink-capable.
type migrationStrategy interface {
	migrateRecord(ctx context.Context, r *Request, rec FSMapRecord, t *ClearingTarget) (bool, error)
}

// migrateTarget drives the migration stage (C5) for one selected target: it
// walks every reverse-map record inside the target's span and asks the
// request's migration strategy to evacuate each one in turn.
func (r *Request) migrateTarget(ctx context.Context, t *ClearingTarget) (PhaseResult, error) {
	progress := false
	cursor := NewFSMapCursor(r.kernel, r.attrs.Device)
	cursor.Start(t.Start, t.Start+PhysicalAddr(t.Length))

	for {
		state, err := cursor.Next(ctx)
		if err != nil {
			return PhaseFatal, err
		}
		for _, rec := range cursor.Rows() {
			if rec.Owner.IsSpecial() {
				continue // the metadata stage owns non-file consumers
			}
			moved, err := r.migration.migrateRecord(ctx, r, rec, t)
			if err != nil && !IsTransient(err) {
				return PhaseFatal, err
			}
			if moved {
				progress = true
			}
		}
		if state == StateDone {
			break
		}
	}

	if progress {
		return PhaseProgress, nil
	}
	return PhaseNoProgress, nil
}

// grabFreeSpace asks the kernel to claim newly-freed physical space into
// the capture file, extending it after a migration record frees up its
// backing blocks. Every byte it accepts counts toward the run's efficacy.
func (r *Request) grabFreeSpace(ctx context.Context, start PhysicalAddr, length uint64) error {
	accepted, err := r.kernel.MapFreeSpace(ctx, r.capture.f, start, length)
	r.captured += accepted
	if err != nil && !errors.Is(err, ErrOutOfSpace) {
		return transient("grab free space", err)
	}
	return nil
}

// dedupeMigration is used on reflink-capable filesystems. It relies on the
// work file already holding an unshared, identity-offset copy of the
// capture file's content over the whole window (see driver.go's prepare
// step) and asks the kernel to compare-and-remap the owner's data onto
// those blocks.
type dedupeMigration struct{}

func (dedupeMigration) migrateRecord(ctx context.Context, r *Request, rec FSMapRecord, t *ClearingTarget) (bool, error) {
	if rec.Flags.Has(FlagAttrFork) || rec.Flags.Has(FlagExtentMap) {
		return false, nil // metadata stage
	}

	ino, _ := rec.Owner.Inode()
	snap, err := r.kernel.BulkStatSingle(ctx, r.handle, ino)
	if err != nil {
		return false, transient("migrate: bulkstat", err)
	}
	if snap.Mode&modeTypeMask != modeRegular {
		return false, nil
	}

	owner, err := r.kernel.OpenByHandle(ctx, r.handle, ino, snap.Gen)
	if err != nil {
		return false, transient("migrate: open owner", err)
	}
	defer owner.Close()

	n, same, err := dedupeWithUnshareRetry(ctx, r, owner, rec)
	if err != nil {
		t.TryAgain = true
		return false, transient("migrate: dedupe", err)
	}
	if !same {
		// The owner's data diverged from the captured snapshot: a writer
		// raced us. Leave the record for a later pass.
		t.TryAgain = true
		return false, nil
	}
	if n == 0 {
		return false, nil
	}

	if err := r.grabFreeSpace(ctx, rec.Physical, rec.Length); err != nil {
		return false, err
	}
	t.Evacuated += n
	r.metrics.BytesEvacuated(ctx, int64(n))
	return true, nil
}

func dedupeWithUnshareRetry(ctx context.Context, r *Request, owner *os.File, rec FSMapRecord) (uint64, bool, error) {
	n, same, err := r.kernel.DedupeRange(ctx, r.work.f, uint64(rec.Physical), owner, rec.OwnerOffset, rec.Length)
	if err == nil {
		return n, same, nil
	}
	if !errors.Is(err, ErrOutOfSpace) {
		return retryDedupePerBlock(ctx, r, owner, rec)
	}
	if unshareErr := r.kernel.Unshare(ctx, owner, rec.OwnerOffset, rec.Length); unshareErr != nil {
		return 0, false, unshareErr
	}
	return r.kernel.DedupeRange(ctx, r.work.f, uint64(rec.Physical), owner, rec.OwnerOffset, rec.Length)
}

// retryDedupePerBlock is the "whole-batch failure" fallback: a single
// oversized dedupe call can fail for a reason that only affects one block
// in the range, so step through it one block at a time and accumulate
// whatever succeeds.
func retryDedupePerBlock(ctx context.Context, r *Request, owner *os.File, rec FSMapRecord) (uint64, bool, error) {
	bs := uint64(r.geom.BlockSize)
	if bs == 0 {
		return 0, false, ErrInvalidGeometry
	}
	var total uint64
	allSame := true
	for off := uint64(0); off < rec.Length; off += bs {
		n, same, err := r.kernel.DedupeRange(ctx, r.work.f, uint64(rec.Physical)+off, owner, rec.OwnerOffset+off, bs)
		if err != nil {
			return total, allSame, err
		}
		if !same {
			allSame = false
			continue
		}
		total += n
	}
	return total, allSame, nil
}

// exchangeMigration is used when the filesystem cannot reflink. It copies
// the owner's data into the work file and asks the kernel to atomically
// swap the work file's blocks into the owner, conditioned on the owner
// inode not having changed since the freshness snapshot was taken.
type exchangeMigration struct{}

func (exchangeMigration) migrateRecord(ctx context.Context, r *Request, rec FSMapRecord, t *ClearingTarget) (bool, error) {
	if rec.Flags.Has(FlagAttrFork) || rec.Flags.Has(FlagExtentMap) {
		return false, nil
	}

	ino, _ := rec.Owner.Inode()
	snap, err := r.kernel.BulkStatSingle(ctx, r.handle, ino)
	if err != nil {
		return false, transient("migrate: bulkstat", err)
	}
	if snap.Mode&modeTypeMask != modeRegular {
		return false, nil
	}

	owner, err := r.kernel.OpenByHandle(ctx, r.handle, ino, snap.Gen)
	if err != nil {
		return false, transient("migrate: open owner", err)
	}
	defer owner.Close()

	if err := r.work.truncateToZero(); err != nil {
		return false, transient("migrate: truncate work file", err)
	}
	if err := r.work.sizeTo(int64(rec.OwnerOffset) + int64(rec.Length)); err != nil {
		return false, transient("migrate: size work file", err)
	}
	// The work file mirrors the owner's offsets (not the physical address)
	// for the duration of the exchange, since exchange-range swaps mappings
	// at matching logical offsets in both files.
	if err := bufferedCopyAt(owner, r.work.f, int64(rec.OwnerOffset), rec.Length); err != nil {
		return false, transient("migrate: copy owner data", err)
	}

	err = r.kernel.ExchangeRange(ctx, owner, rec.OwnerOffset, r.work.f, rec.OwnerOffset, rec.Length, &snap)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			t.TryAgain = true
			return false, nil
		}
		t.TryAgain = true
		return false, transient("migrate: exchange range", err)
	}

	if err := r.grabFreeSpace(ctx, rec.Physical, rec.Length); err != nil {
		return false, err
	}
	t.Evacuated += rec.Length
	r.metrics.BytesEvacuated(ctx, int64(rec.Length))
	return true, nil
}

// copyBufSize bounds the scratch buffer bufferedCopyAt allocates on each
// call, rather than reading an arbitrarily large range into memory at
// once.
const copyBufSize = 1 << 20

// bufferedCopyAt copies length bytes from src's current-offset-independent
// ReadAt starting at off into dst at the same offset, in fixed-size
// chunks.
func bufferedCopyAt(src io.ReaderAt, dst io.WriterAt, off int64, length uint64) error {
	buf := make([]byte, copyBufSize)
	var done uint64
	for done < length {
		chunk := uint64(len(buf))
		if remaining := length - done; remaining < chunk {
			chunk = remaining
		}
		n, err := src.ReadAt(buf[:chunk], off+int64(done))
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], off+int64(done)); werr != nil {
				return werr
			}
			done += uint64(n)
		}
		if err != nil {
			if err == io.EOF && done >= length {
				break
			}
			if err != io.EOF {
				return err
			}
			break
		}
	}
	return nil
}
