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
	"os"

	"github.com/google/uuid"
)

// helperFile wraps one of the request's two anonymous scratch files
// (capture or work). Both are created on the target volume, mode 0600,
// with the realtime affinity flag set to match the target, and are
// invisible to every other process from the moment they are created.
type helperFile struct {
	name string // for trace output only; the file has no real path
	f    *os.File
}

func createHelperFile(ctx context.Context, kernel Kernel, dirFD int, realtime bool, label string) (*helperFile, error) {
	f, err := kernel.CreateHelperFile(ctx, dirFD, realtime)
	if err != nil {
		return nil, transient(label, err)
	}
	return &helperFile{name: label + "-" + uuid.NewString(), f: f}, nil
}

func (h *helperFile) close() error {
	if h == nil || h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

// sizeTo extends the file to at least n bytes without allocating any
// physical blocks, matching the capture file's "sparse holder" role.
func (h *helperFile) sizeTo(n int64) error {
	fi, err := h.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= n {
		return nil
	}
	return h.f.Truncate(n)
}

func (h *helperFile) truncateToZero() error {
	return h.f.Truncate(0)
}

// holes and data (platform-specific, see seek_linux.go / seek_other.go)
// walk a helper file's extent map within [start, start+len) and report,
// respectively, the unmapped and mapped sub-ranges within it.
