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

import "sort"

// span is a half-open physical byte range [Start, Start+Length).
type span struct {
	Start  PhysicalAddr
	Length uint64
}

func (s span) end() PhysicalAddr { return s.Start + PhysicalAddr(s.Length) }

// VisitedBitmap is a sparse interval set over 64-bit physical byte
// addresses. It never shrinks within a run: Set only ever grows the set,
// matching the §3 invariant that the visited set only ever grows.
//
// The representation is a sorted slice of disjoint, merged spans, which is
// the cheapest structure that still makes Test a binary search rather than
// a linear scan; any other efficient interval representation would satisfy
// the same contract.
type VisitedBitmap struct {
	spans []span
}

// NewVisitedBitmap returns an empty bitmap.
func NewVisitedBitmap() *VisitedBitmap {
	return &VisitedBitmap{}
}

// Set marks [start, start+length) as visited.
func (b *VisitedBitmap) Set(start PhysicalAddr, length uint64) {
	if length == 0 {
		return
	}
	s := span{Start: start, Length: length}

	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].end() >= s.Start })
	j := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].Start > s.end() })

	for k := i; k < j; k++ {
		if b.spans[k].Start < s.Start {
			s.Start = b.spans[k].Start
		}
		if b.spans[k].end() > s.end() {
			s.Length = uint64(b.spans[k].end() - s.Start)
		}
	}

	merged := make([]span, 0, len(b.spans)-(j-i)+1)
	merged = append(merged, b.spans[:i]...)
	merged = append(merged, s)
	merged = append(merged, b.spans[j:]...)
	b.spans = merged
}

// Test reports whether any byte of [start, start+length) has been visited.
func (b *VisitedBitmap) Test(start PhysicalAddr, length uint64) bool {
	if length == 0 {
		return false
	}
	end := start + PhysicalAddr(length)
	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].end() > start })
	return i < len(b.spans) && b.spans[i].Start < end
}

// Subtract returns the portion of [start, start+length) not covered by any
// visited span, as a list of disjoint sub-ranges in increasing order. It is
// used to find what is "still unclaimed" within a window.
func (b *VisitedBitmap) Subtract(start PhysicalAddr, length uint64) []span {
	if length == 0 {
		return nil
	}
	cursor := start
	end := start + PhysicalAddr(length)
	var out []span

	i := sort.Search(len(b.spans), func(i int) bool { return b.spans[i].end() > start })
	for ; i < len(b.spans) && b.spans[i].Start < end; i++ {
		s := b.spans[i]
		if s.Start > cursor {
			out = append(out, span{Start: cursor, Length: uint64(s.Start - cursor)})
		}
		if s.end() > cursor {
			cursor = s.end()
		}
	}
	if cursor < end {
		out = append(out, span{Start: cursor, Length: uint64(end - cursor)})
	}
	return out
}

// Free releases the bitmap's storage. Present for symmetry with the other
// request-owned resources (§5 "scoped acquisition"); the garbage collector
// would reclaim it anyway, but Free makes the request's Free sequence
// uniform across all of its owned pieces.
func (b *VisitedBitmap) Free() {
	b.spans = nil
}

// Len reports the number of disjoint spans currently recorded, for tests
// and trace output.
func (b *VisitedBitmap) Len() int { return len(b.spans) }
