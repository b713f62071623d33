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

//go:build !linux

package engine

import (
	"errors"
	"os"
)

var errNoSeekHole = errors.New("engine: SEEK_HOLE/SEEK_DATA not supported on this platform")

func holes(f *os.File, start PhysicalAddr, length uint64) ([]span, error) {
	return nil, errNoSeekHole
}

func data(f *os.File, start PhysicalAddr, length uint64) ([]span, error) {
	return nil, errNoSeekHole
}
