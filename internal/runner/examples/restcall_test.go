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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netrunner/netrunner/internal/runner"
)

func TestRESTCallJob_SuccessDecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/edge-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reachable": true}`))
	}))
	defer server.Close()

	e := runner.NewEngine()
	call := &RESTCall{
		URL: server.URL + "/devices/{{ device.name }}",
		Sub: func(input string, scope map[string]any) (string, error) {
			out, err := e.Expr.Sub(input, scope)
			if err != nil {
				return "", err
			}
			return out.(string), nil
		},
		Client: server.Client(),
	}

	svc := &runner.ServiceDefinition{
		ID:        "rest1",
		Name:      "check-inventory",
		RunMethod: runner.RunMethodPerDevice,
		Job:       call.Job(),
	}
	r := runner.NewRunner(context.Background(), e, svc,
		[]runner.Device{{ID: "1", Name: "edge-1"}}, nil, "admin")
	res := r.Start()

	require.True(t, res.Success)
	attempt := res.PerDevice["edge-1"]
	require.NotNil(t, attempt)
	body := attempt.Result.(map[string]any)["body"].(map[string]any)
	assert.Equal(t, true, body["reachable"])
}

func TestRESTCallJob_Non2xxFailsAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	e := runner.NewEngine()
	call := &RESTCall{URL: server.URL, Client: server.Client()}
	svc := &runner.ServiceDefinition{
		ID:        "rest1",
		Name:      "failing-call",
		RunMethod: runner.RunMethodPerDevice,
		Job:       call.Job(),
	}
	r := runner.NewRunner(context.Background(), e, svc,
		[]runner.Device{{ID: "1", Name: "edge-1"}}, nil, "admin")
	res := r.Start()

	assert.False(t, res.Success)
	assert.Equal(t, []string{"edge-1"}, res.Summary.Failure)
}
