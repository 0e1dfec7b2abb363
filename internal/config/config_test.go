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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/netrunner/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:7431", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.StateBackend)
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NETRUNNER_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("NETRUNNER_STATE_BACKEND", "kv")
	t.Setenv("NETRUNNER_KV_ADDR", "localhost:6379")
	t.Setenv("NETRUNNER_DRAIN_TIMEOUT", "5s")
	t.Setenv("NETRUNNER_RATE_LIMIT", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, "kv", cfg.StateBackend)
	assert.Equal(t, "localhost:6379", cfg.KVAddr)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 120, cfg.MaxRequestsPerMinute)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.StateBackend = "cassandra"

	err := cfg.Validate()
	var configErr *errors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "state_backend", configErr.Key)
}

func TestValidate_KVBackendRequiresAddr(t *testing.T) {
	cfg := Default()
	cfg.StateBackend = "kv"

	err := cfg.Validate()
	var configErr *errors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "kv_addr", configErr.Key)
}

func TestValidate_RejectsNegativeRateLimit(t *testing.T) {
	cfg := Default()
	cfg.MaxRequestsPerMinute = -1
	require.Error(t, cfg.Validate())
}
