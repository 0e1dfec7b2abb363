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

package definition

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/pkg/errors"
)

const backupService = `
id: backup-configs
name: Backup Configurations
job: netmiko_backup
run_method: per_device
multiprocessing: true
max_processes: 10
number_of_retries: 2
max_number_of_retries: 5
time_between_retries: 10s
conversion_method: text
validation_method: text
content_match: "uptime"
skip_value: discard
`

func TestParseService_FullSpec(t *testing.T) {
	spec, err := ParseService([]byte(backupService))
	require.NoError(t, err)
	assert.Equal(t, "backup-configs", spec.ID)
	assert.Equal(t, "Backup Configurations", spec.Name)
	assert.True(t, spec.Multiprocessing)
	assert.Equal(t, 10, spec.MaxProcesses)
	assert.Equal(t, "10s", spec.TimeBetweenRetries)
}

func TestParseService_RejectsUnknownRunMethod(t *testing.T) {
	_, err := ParseService([]byte("name: x\nrun_method: sometimes"))
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "run_method", verr.Field)
}

func TestParseService_RejectsBadDuration(t *testing.T) {
	_, err := ParseService([]byte("name: x\ntime_between_retries: soon"))
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "time_between_retries", verr.Field)
}

func TestParseService_RequiresName(t *testing.T) {
	_, err := ParseService([]byte("run_method: once"))
	require.Error(t, err)
}

func TestRuntime_ConvertsKnobs(t *testing.T) {
	spec, err := ParseService([]byte(backupService))
	require.NoError(t, err)

	jobs := map[string]runner.Job{
		"netmiko_backup": func(*runner.Runner, *runner.Device) (any, error) { return "ok", nil },
	}
	def, err := spec.Runtime(jobs)
	require.NoError(t, err)

	assert.Equal(t, runner.RunMethodPerDevice, def.RunMethod)
	assert.Equal(t, 10*time.Second, def.TimeBetweenRetries)
	assert.Equal(t, runner.ConversionText, def.ConversionMethod)
	assert.Equal(t, runner.SkipDiscard, def.SkipValue)
	assert.NotNil(t, def.Job)
}

func TestRuntime_UnknownJobFails(t *testing.T) {
	spec, err := ParseService([]byte(backupService))
	require.NoError(t, err)

	_, err = spec.Runtime(map[string]runner.Job{})
	var nf *errors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "netmiko_backup", nf.ID)
}

func TestParseWorkflow(t *testing.T) {
	spec, err := ParseWorkflow([]byte("name: nightly\nservices: [backup-configs]"))
	require.NoError(t, err)
	assert.Equal(t, "nightly", spec.Name)

	_, err = ParseWorkflow([]byte("name: empty\nservices: []"))
	require.Error(t, err)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "services/backup.yaml", backupService)
	writeFile(t, root, "services/nested/ping.yml", "id: ping\nname: Ping\nrun_method: once")
	writeFile(t, root, "workflows/nightly.yaml", "name: nightly\nservices: [backup-configs, ping]")

	lib, err := LoadDir(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup-configs", "ping"}, lib.ServiceNames())
	assert.Contains(t, lib.Workflows, "nightly")

	spec, ok := lib.Lookup("Backup Configurations")
	require.True(t, ok)
	assert.Equal(t, "backup-configs", spec.ID)
}

func TestLoadDir_UnknownWorkflowServiceFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "workflows/broken.yaml", "name: broken\nservices: [ghost]")

	_, err := LoadDir(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestLoadDir_DuplicateServiceFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "services/a.yaml", "id: dup\nname: A")
	writeFile(t, root, "services/b.yaml", "id: dup\nname: B")

	_, err := LoadDir(root)
	require.Error(t, err)
}
