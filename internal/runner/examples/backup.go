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

package examples

import (
	"fmt"
	"time"

	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/internal/runner/record"
)

// ConfigBackup pulls a device's running configuration over its cached
// session and writes it into the configuration-backup tree, stamping the
// per-device timestamps as it goes.
type ConfigBackup struct {
	// Command is the configuration dump command; defaults to
	// "show running-config".
	Command string

	// Snapshots is the backup tree writer.
	Snapshots *record.Snapshotter
}

// Job returns the runner job body.
func (b *ConfigBackup) Job() runner.Job {
	return func(r *runner.Runner, device *runner.Device) (any, error) {
		if device == nil {
			return nil, fmt.Errorf("backup: requires per-device execution")
		}

		command := b.Command
		if command == "" {
			command = "show running-config"
		}

		sess, err := r.Connection(device)
		if err != nil {
			b.stamp(device.Name, record.TimestampLastFailure)
			return nil, err
		}
		output, err := sess.Send(r.Context(), command)
		if err != nil {
			b.stamp(device.Name, record.TimestampLastFailure)
			return nil, fmt.Errorf("backup: %s on %s: %w", command, device.Name, err)
		}

		if b.Snapshots != nil {
			if err := b.Snapshots.WriteConfiguration(device.Name, output); err != nil {
				b.stamp(device.Name, record.TimestampLastFailure)
				return nil, err
			}
			b.stamp(device.Name, record.TimestampLastUpdate)
			b.stamp(device.Name, record.TimestampLastRuntime)
			b.stamp(device.Name, record.TimestampLastStatus)
		}

		return map[string]any{
			"success": true,
			"result":  fmt.Sprintf("configuration captured (%d bytes)", len(output)),
		}, nil
	}
}

func (b *ConfigBackup) stamp(device string, kind record.TimestampKind) {
	if b.Snapshots == nil {
		return
	}
	_ = b.Snapshots.UpdateTimestamp(device, kind, time.Time{})
}
