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

// Package api exposes the engine over HTTP: submit a run, inspect its
// status and progress state, cancel it, scrape metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/netrunner/netrunner/internal/daemon/auth"
	"github.com/netrunner/netrunner/internal/definition"
	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/internal/runner/state"
)

// Server handles the HTTP API.
type Server struct {
	engine  *runner.Engine
	library atomic.Pointer[definition.Library]
	jobs    map[string]runner.Job
	logger  *slog.Logger

	authn   *auth.Authenticator
	limiter *auth.RateLimiter
}

// New constructs a Server around engine.
func New(engine *runner.Engine, jobs map[string]runner.Job, authn *auth.Authenticator, limiter *auth.RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		jobs:    jobs,
		authn:   authn,
		limiter: limiter,
		logger:  logger,
	}
}

// SetLibrary swaps the active definitions library; safe while serving.
func (s *Server) SetLibrary(lib *definition.Library) {
	s.library.Store(lib)
}

// Handler builds the routed, authenticated handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs/{runtime}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{runtime}/state", s.handleGetState)
	mux.HandleFunc("POST /api/runs/{runtime}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/services", s.handleListServices)
	if s.engine.Metrics != nil {
		mux.Handle("GET /metrics", s.engine.Metrics.Handler())
	}

	var handler http.Handler = mux
	if s.authn.Enabled() {
		handler = s.authn.Middleware(handler)
	}
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	return handler
}

type startRunRequest struct {
	Service  string         `json:"service"`
	Devices  []string       `json:"devices"`
	Creator  string         `json:"creator"`
	Workflow string         `json:"workflow"`
	Payload  map[string]any `json:"payload"`
}

type startRunResponse struct {
	Runtime       string `json:"runtime"`
	ParentRuntime string `json:"parent_runtime"`
	Status        string `json:"status"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Service == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	lib := s.library.Load()
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "definitions not loaded")
		return
	}
	spec, ok := lib.Lookup(req.Service)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown service "+req.Service)
		return
	}
	def, err := spec.Runtime(s.jobs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	creator := req.Creator
	if creator == "" {
		creator = r.Header.Get("X-Authenticated-Subject")
	}
	devices := make([]runner.Device, len(req.Devices))
	for i, name := range req.Devices {
		devices[i] = runner.Device{ID: name, Name: name}
	}

	run := runner.NewRunner(context.Background(), s.engine, def, devices, nil, creator)
	run.Workflow = req.Workflow
	for k, v := range req.Payload {
		run.Payload.Set(k, v)
	}

	if err := s.engine.Submit(run); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, startRunResponse{
		Runtime:       run.Runtime,
		ParentRuntime: run.ParentRuntime,
		Status:        string(runner.StatusPending),
	})
}

type runStatusResponse struct {
	Runtime       string                  `json:"runtime"`
	ParentRuntime string                  `json:"parent_runtime"`
	Path          string                  `json:"path"`
	Service       string                  `json:"service"`
	Status        string                  `json:"status"`
	Results       *runner.AggregateResult `json:"results,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.engine.Get(r.PathValue("runtime"))
	if !ok {
		writeError(w, http.StatusNotFound, "no active run with that runtime")
		return
	}
	writeJSON(w, http.StatusOK, runStatusResponse{
		Runtime:       run.Runtime,
		ParentRuntime: run.ParentRuntime,
		Path:          run.Path,
		Service:       run.Service.Name,
		Status:        string(run.Status),
		Results:       run.Results,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	runtime := r.PathValue("runtime")
	subtree, err := s.engine.State.Get(r.Context(), runtime)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if subtree == state.Missing {
		writeError(w, http.StatusNotFound, "no state for that runtime")
		return
	}
	writeJSON(w, http.StatusOK, subtree)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runtime := r.PathValue("runtime")
	if err := s.engine.Stop(runtime); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	lib := s.library.Load()
	if lib == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, lib.ServiceNames())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.engine.ActiveCount(),
		"draining":    s.engine.Draining(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
