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

package runner

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/netrunner/internal/runner/protocol"
)

type fakeCLIDriver struct {
	alive  atomic.Bool
	closed atomic.Bool
}

func (f *fakeCLIDriver) FindPrompt(context.Context) (string, error) {
	if f.alive.Load() {
		return "router#", nil
	}
	return "", assert.AnError
}

func (f *fakeCLIDriver) SendCommand(_ context.Context, cmd string) (string, error) {
	return "output of " + cmd, nil
}

func (f *fakeCLIDriver) Disconnect(context.Context) error {
	f.closed.Store(true)
	return nil
}

func TestConnection_CachesAcrossAttemptsAndClosesOnFinish(t *testing.T) {
	e := newTestEngine(t, nil)

	var opens atomic.Int64
	driver := &fakeCLIDriver{}
	driver.alive.Store(true)
	e.RegisterDriver(protocol.FamilyCLI, func(context.Context, *Device) (any, error) {
		opens.Add(1)
		return driver, nil
	})

	svc := &ServiceDefinition{
		ID:                 "svc1",
		Name:               "show-version",
		RunMethod:          RunMethodPerDevice,
		ConnectionProtocol: "cli",
		Job: func(r *Runner, device *Device) (any, error) {
			sess, err := r.Connection(device)
			if err != nil {
				return nil, err
			}
			// Second acquisition within the same run reuses the cache.
			if _, err := r.Connection(device); err != nil {
				return nil, err
			}
			return sess.Send(r.Context(), "show version")
		},
	}
	r := NewRunner(context.Background(), e, svc, devices("edge-1"), nil, "admin")
	res := r.Start()

	require.True(t, res.Success, "%v", res.Result)
	assert.EqualValues(t, 1, opens.Load(), "one open serves the whole run")
	assert.True(t, driver.closed.Load(), "teardown closes the cached session")
	assert.Zero(t, e.Connections.Len())
}

func TestConnection_DeadSessionIsReopened(t *testing.T) {
	e := newTestEngine(t, nil)

	var opens atomic.Int64
	e.RegisterDriver(protocol.FamilyCLI, func(context.Context, *Device) (any, error) {
		opens.Add(1)
		d := &fakeCLIDriver{}
		// The first driver dies immediately; replacements stay alive.
		d.alive.Store(opens.Load() > 1)
		return d, nil
	})

	svc := &ServiceDefinition{
		ID:                 "svc1",
		Name:               "reconnecting",
		RunMethod:          RunMethodPerDevice,
		ConnectionProtocol: "cli",
		Job: func(r *Runner, device *Device) (any, error) {
			if _, err := r.Connection(device); err != nil {
				return nil, err
			}
			// The first handle fails its liveness probe here, forcing a
			// reopen.
			if _, err := r.Connection(device); err != nil {
				return nil, err
			}
			return "ok", nil
		},
	}
	r := NewRunner(context.Background(), e, svc, devices("edge-1"), nil, "admin")
	res := r.Start()

	require.True(t, res.Success, "%v", res.Result)
	assert.EqualValues(t, 2, opens.Load())
}

func TestConnection_UnregisteredFamilyFails(t *testing.T) {
	e := newTestEngine(t, nil)
	svc := &ServiceDefinition{
		ID:                 "svc1",
		Name:               "no-driver",
		RunMethod:          RunMethodPerDevice,
		ConnectionProtocol: "netconf",
		Job: func(r *Runner, device *Device) (any, error) {
			return r.Connection(device)
		},
	}
	r := NewRunner(context.Background(), e, svc, devices("edge-1"), nil, "admin")
	res := r.Start()
	assert.False(t, res.Success)
}
