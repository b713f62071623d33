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

package logger

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a goroutine-safe io.WriteCloser test double standing in for
// a lumberjack.Logger.
type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	failOn string
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && bytes.Contains(p, []byte(s.failOn)) {
		return 0, errors.New("simulated write failure")
	}
	return s.buf.Write(p)
}

func (s *syncBuffer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestAsyncLoggerWritesAndCloses(t *testing.T) {
	dst := &syncBuffer{}
	asyncLogger := NewAsyncLogger(dst, 10)

	fmt.Fprintln(asyncLogger, "line one")
	fmt.Fprintln(asyncLogger, "line two")

	require.NoError(t, asyncLogger.Close())
	assert.Equal(t, "line one\nline two\n", dst.String())
	assert.True(t, dst.closed)
}

func TestAsyncLoggerReturnsWriteErrorFromClose(t *testing.T) {
	dst := &syncBuffer{failOn: "boom"}
	asyncLogger := NewAsyncLogger(dst, 10)

	fmt.Fprintln(asyncLogger, "boom")

	err := asyncLogger.Close()
	assert.Error(t, err)
	assert.True(t, dst.closed)
}

func TestAsyncLoggerWriteCopiesBuffer(t *testing.T) {
	dst := &syncBuffer{}
	asyncLogger := NewAsyncLogger(dst, 10)

	buf := []byte("mutable")
	_, err := asyncLogger.Write(buf)
	require.NoError(t, err)
	buf[0] = 'X' // mutate after Write returns, as slog would reuse its buffer

	require.NoError(t, asyncLogger.Close())
	assert.Equal(t, "mutable", dst.String())
}
