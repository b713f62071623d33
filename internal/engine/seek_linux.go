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

//go:build linux

package engine

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// seekSpans walks a file's extent map within [start, start+length) using
// SEEK_DATA/SEEK_HOLE and reports both its hole spans and its data spans,
// each in increasing order.
func seekSpans(f *os.File, start PhysicalAddr, length uint64) (holeSpans, dataSpans []span, err error) {
	end := int64(start) + int64(length)
	cur := int64(start)
	fd := int(f.Fd())

	for cur < end {
		dataOff, serr := unix.Seek(fd, cur, unix.SEEK_DATA)
		if serr == unix.ENXIO {
			// Nothing but holes from cur to EOF.
			holeSpans = append(holeSpans, span{Start: PhysicalAddr(cur), Length: uint64(end - cur)})
			break
		}
		if serr != nil {
			err = serr
			return
		}
		if dataOff > end {
			dataOff = end
		}
		if dataOff > cur {
			holeSpans = append(holeSpans, span{Start: PhysicalAddr(cur), Length: uint64(dataOff - cur)})
		}
		if dataOff >= end {
			break
		}

		holeOff, serr := unix.Seek(fd, dataOff, unix.SEEK_HOLE)
		if serr == unix.ENXIO {
			holeOff = end
		} else if serr != nil {
			err = serr
			return
		}
		if holeOff > end {
			holeOff = end
		}
		dataSpans = append(dataSpans, span{Start: PhysicalAddr(dataOff), Length: uint64(holeOff - dataOff)})
		cur = holeOff
	}

	_, _ = f.Seek(0, io.SeekStart)
	return
}

func holes(f *os.File, start PhysicalAddr, length uint64) ([]span, error) {
	h, _, err := seekSpans(f, start, length)
	return h, err
}

func data(f *os.File, start PhysicalAddr, length uint64) ([]span, error) {
	_, d, err := seekSpans(f, start, length)
	return d, err
}
