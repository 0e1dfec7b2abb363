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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/internal/runner/protocol"
	"github.com/netrunner/netrunner/internal/runner/record"
)

type scriptedCLI struct{}

func (scriptedCLI) FindPrompt(context.Context) (string, error) { return "edge-1#", nil }
func (scriptedCLI) SendCommand(_ context.Context, cmd string) (string, error) {
	return "hostname edge-1\ninterface Gi0/0\n", nil
}
func (scriptedCLI) Disconnect(context.Context) error { return nil }

func TestConfigBackupJob_WritesSnapshotTree(t *testing.T) {
	root := t.TempDir()
	e := runner.NewEngine()
	e.RegisterDriver(protocol.FamilyCLI, func(context.Context, *runner.Device) (any, error) {
		return scriptedCLI{}, nil
	})

	backup := &ConfigBackup{Snapshots: record.NewSnapshotter(root)}
	svc := &runner.ServiceDefinition{
		ID:                 "backup",
		Name:               "backup-configs",
		RunMethod:          runner.RunMethodPerDevice,
		ConnectionProtocol: "cli",
		Job:                backup.Job(),
	}
	r := runner.NewRunner(context.Background(), e, svc,
		[]runner.Device{{ID: "1", Name: "edge-1"}}, nil, "admin")
	res := r.Start()

	require.True(t, res.Success, "%v", res.PerDevice["edge-1"])

	config, err := os.ReadFile(filepath.Join(root, "edge-1", "configuration.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(config), "hostname edge-1")

	ts, err := record.NewSnapshotter(root).ReadTimestamps("edge-1")
	require.NoError(t, err)
	assert.Contains(t, ts, record.TimestampLastUpdate)
	assert.Contains(t, ts, record.TimestampLastRuntime)
	assert.NotContains(t, ts, record.TimestampLastFailure)
}

func TestConfigBackupJob_RequiresDevice(t *testing.T) {
	backup := &ConfigBackup{}
	_, err := backup.Job()(nil, nil)
	require.Error(t, err)
}
