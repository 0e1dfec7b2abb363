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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/netrunner/internal/daemon/auth"
	"github.com/netrunner/netrunner/internal/definition"
	"github.com/netrunner/netrunner/internal/runner"
)

func testServer(t *testing.T) (*Server, *runner.Engine) {
	t.Helper()
	e := runner.NewEngine()
	jobs := map[string]runner.Job{
		"echo": func(r *runner.Runner, d *runner.Device) (any, error) {
			return "ok", nil
		},
	}
	s := New(e, jobs, &auth.Authenticator{}, nil, nil)

	root := t.TempDir()
	writeDef(t, root, "services/echo.yaml", "id: echo-svc\nname: Echo\njob: echo\nrun_method: per_device")
	lib, err := definition.LoadDir(root)
	require.NoError(t, err)
	s.SetLibrary(lib)
	return s, e
}

func writeDef(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStartRun_AndInspect(t *testing.T) {
	s, e := testServer(t)
	handler := s.Handler()

	req := httptest.NewRequest("POST", "/api/runs",
		strings.NewReader(`{"service": "Echo", "devices": ["edge-1"], "creator": "admin"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started startRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started.Runtime)

	// Wait for the run to finish and its state to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e.Get(started.Runtime); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/"+started.Runtime+"/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "progress")
}

func TestStartRun_UnknownServiceIs404(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest("POST", "/api/runs", strings.NewReader(`{"service": "ghost"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRun_MissingServiceIs400(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest("POST", "/api/runs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancel_UnknownRuntimeIs404(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/runs/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListServices(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/services", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echo-svc")
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	e := runner.NewEngine()
	s := New(e, nil, &auth.Authenticator{Token: "s3cret"}, nil, nil)
	handler := s.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsWhenDraining(t *testing.T) {
	s, e := testServer(t)
	e.StartDraining()

	req := httptest.NewRequest("POST", "/api/runs",
		strings.NewReader(`{"service": "Echo", "devices": ["edge-1"]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
