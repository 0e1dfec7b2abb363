// Copyright 2025 Tom Barlow
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

package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotter_WriteConfigurationAndTimestamps(t *testing.T) {
	root := t.TempDir()
	s := NewSnapshotter(root)

	require.NoError(t, s.WriteConfiguration("core1", "hostname core1\n"))
	data, err := os.ReadFile(filepath.Join(root, "core1", "configuration.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hostname core1\n", string(data))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpdateTimestamp("core1", TimestampLastUpdate, at))

	ts, err := s.ReadTimestamps("core1")
	require.NoError(t, err)
	require.Contains(t, ts, TimestampLastUpdate)
	assert.Equal(t, float64(at.Unix()), ts[TimestampLastUpdate].Seconds)
}

func TestSnapshotter_ReadTimestampsMissingFileReturnsEmpty(t *testing.T) {
	s := NewSnapshotter(t.TempDir())
	ts, err := s.ReadTimestamps("ghost")
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestSnapshotter_UpdateTimestampPreservesOtherKinds(t *testing.T) {
	s := NewSnapshotter(t.TempDir())
	require.NoError(t, s.UpdateTimestamp("d1", TimestampLastRuntime, time.Now()))
	require.NoError(t, s.UpdateTimestamp("d1", TimestampLastFailure, time.Now()))

	ts, err := s.ReadTimestamps("d1")
	require.NoError(t, err)
	assert.Contains(t, ts, TimestampLastRuntime)
	assert.Contains(t, ts, TimestampLastFailure)
}
