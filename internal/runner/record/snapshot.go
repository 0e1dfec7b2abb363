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

// Configuration-backup snapshot layout: git/configurations/<device>/ holds
// the latest text configuration and a timestamps.json mapping each
// timestamp kind to named instants. The runner only produces the tree; a
// sibling git-backed process commits it.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampKind enumerates the instants tracked per device.
type TimestampKind string

const (
	TimestampLastFailure TimestampKind = "last_failure"
	TimestampLastRuntime TimestampKind = "last_runtime"
	TimestampLastUpdate  TimestampKind = "last_update"
	TimestampLastStatus  TimestampKind = "last_status"
)

// Instant is one named timestamp value, stored as both a Unix epoch and a
// human-readable string so readers needn't re-parse either representation.
type Instant struct {
	Seconds float64 `json:"seconds"`
	String  string  `json:"string"`
}

// Timestamps is the full timestamps.json document for one device.
type Timestamps map[TimestampKind]Instant

// Snapshotter writes the configuration-backup layout under root
// (conventionally <cwd>/git/configurations).
type Snapshotter struct {
	Root string
}

// NewSnapshotter returns a Snapshotter rooted at root.
func NewSnapshotter(root string) *Snapshotter {
	return &Snapshotter{Root: root}
}

func (s *Snapshotter) deviceDir(device string) string {
	return filepath.Join(s.Root, device)
}

// WriteConfiguration writes text as the device's latest configuration file.
func (s *Snapshotter) WriteConfiguration(device, text string) error {
	dir := s.deviceDir(device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("record: make device dir: %w", err)
	}
	path := filepath.Join(dir, "configuration.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("record: write configuration: %w", err)
	}
	return nil
}

// ReadTimestamps loads the device's timestamps.json, returning an empty
// Timestamps if none has been written yet.
func (s *Snapshotter) ReadTimestamps(device string) (Timestamps, error) {
	path := filepath.Join(s.deviceDir(device), "timestamps.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Timestamps{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record: read timestamps: %w", err)
	}
	var ts Timestamps
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("record: parse timestamps: %w", err)
	}
	return ts, nil
}

// UpdateTimestamp sets kind to at (defaulting to now when at is zero) and
// rewrites timestamps.json.
func (s *Snapshotter) UpdateTimestamp(device string, kind TimestampKind, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	dir := s.deviceDir(device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("record: make device dir: %w", err)
	}
	ts, err := s.ReadTimestamps(device)
	if err != nil {
		return err
	}
	ts[kind] = Instant{Seconds: float64(at.Unix()), String: at.UTC().Format(time.RFC3339)}

	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("record: marshal timestamps: %w", err)
	}
	path := filepath.Join(dir, "timestamps.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("record: write timestamps: %w", err)
	}
	return nil
}
