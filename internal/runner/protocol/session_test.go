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

package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCLI struct {
	promptErr error
	closed    bool
}

func (f *fakeCLI) FindPrompt(context.Context) (string, error) { return "router#", f.promptErr }
func (f *fakeCLI) SendCommand(_ context.Context, cmd string) (string, error) {
	return "ran " + cmd, nil
}
func (f *fakeCLI) Disconnect(context.Context) error {
	f.closed = true
	return nil
}

type fakeNetconf struct {
	connected bool
}

func (f *fakeNetconf) Connected() bool { return f.connected }
func (f *fakeNetconf) RPC(_ context.Context, payload string) (string, error) {
	return "<ok/>", nil
}
func (f *fakeNetconf) Close(context.Context) error {
	f.connected = false
	return nil
}

func TestCLISession_AliveTracksPromptDiscovery(t *testing.T) {
	driver := &fakeCLI{}
	s := &CLISession{Driver: driver}
	assert.True(t, s.Alive(context.Background()))

	driver.promptErr = errors.New("channel closed")
	assert.False(t, s.Alive(context.Background()))
}

func TestCLISession_SendAndClose(t *testing.T) {
	driver := &fakeCLI{}
	s := &CLISession{Driver: driver}

	out, err := s.Send(context.Background(), "show version")
	require.NoError(t, err)
	assert.Equal(t, "ran show version", out)

	require.NoError(t, s.Close(context.Background()))
	assert.True(t, driver.closed)
}

func TestNetconfSession_AliveReadsConnectedFlag(t *testing.T) {
	driver := &fakeNetconf{connected: true}
	s := &NetconfSession{Driver: driver}
	assert.True(t, s.Alive(context.Background()))

	require.NoError(t, s.Close(context.Background()))
	assert.False(t, s.Alive(context.Background()))
}

func TestWrap_RejectsMismatchedDriver(t *testing.T) {
	_, err := Wrap(FamilyNetconf, &fakeCLI{})
	require.Error(t, err)

	s, err := Wrap(FamilyCLI, &fakeCLI{})
	require.NoError(t, err)
	assert.True(t, s.Alive(context.Background()))
}

func TestWrap_UnknownFamily(t *testing.T) {
	_, err := Wrap("carrier-pigeon", &fakeCLI{})
	require.Error(t, err)
}
