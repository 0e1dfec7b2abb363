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
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netrunner/netrunner/internal/metrics"
	"github.com/netrunner/netrunner/internal/runner/connection"
	"github.com/netrunner/netrunner/internal/runner/expression"
	"github.com/netrunner/netrunner/internal/runner/notify"
	"github.com/netrunner/netrunner/internal/runner/protocol"
	"github.com/netrunner/netrunner/internal/runner/record"
	"github.com/netrunner/netrunner/internal/runner/secret"
	"github.com/netrunner/netrunner/internal/runner/state"
	"github.com/netrunner/netrunner/internal/runner/store"
	"github.com/netrunner/netrunner/internal/runner/target"
)

// Engine is the single long-lived value that owns every in-flight Runner,
// the shared progress tree, and the connection cache runs reuse across
// devices. Everything a run needs reaches it through its Engine; there is
// no package-global registry.
type Engine struct {
	mu      sync.RWMutex
	runs    map[string]*Runner
	drivers map[protocol.Family]DriverOpener

	State       state.Store
	Connections *connection.Cache
	Expr        *expression.Host
	Targets     *target.Resolver
	Recorder    *record.Recorder
	Notify      *notify.Dispatcher
	Objects     store.ObjectStore
	Secrets     secret.Service
	RBAC        *RBAC
	Metrics     *metrics.Metrics

	// Settings is the read-only application settings map exposed to user
	// expressions through the settings helper.
	Settings map[string]any

	// AppAddress is the externally reachable base URL used to assemble
	// result links in notifications.
	AppAddress string

	logger *slog.Logger

	active atomic.Int64
	wg     sync.WaitGroup

	serviceMu   sync.Mutex
	serviceRuns map[string]int

	draining atomic.Bool
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithStateStore overrides the default in-memory state.Store.
func WithStateStore(s state.Store) EngineOption {
	return func(e *Engine) { e.State = s }
}

// WithExpressionHost overrides the default expression.Host.
func WithExpressionHost(h *expression.Host) EngineOption {
	return func(e *Engine) { e.Expr = h }
}

// WithLogger overrides the Engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithTargetResolver installs the TargetResolver a Runner's Start uses to
// compute its effective device set.
func WithTargetResolver(r *target.Resolver) EngineOption {
	return func(e *Engine) { e.Targets = r }
}

// WithRecorder installs the ResultRecorder used to persist per-device and
// aggregate results.
func WithRecorder(r *record.Recorder) EngineOption {
	return func(e *Engine) { e.Recorder = r }
}

// WithNotifier installs the NotificationDispatcher used when a service's
// SendNotification knob is set.
func WithNotifier(n *notify.Dispatcher) EngineOption {
	return func(e *Engine) { e.Notify = n }
}

// WithObjectStore installs the persistence-layer collaborator used for
// session commit/rollback and credential lookups.
func WithObjectStore(s store.ObjectStore) EngineOption {
	return func(e *Engine) { e.Objects = s }
}

// WithSecrets installs the credential-protection service backing the
// encrypt and get_credential helpers.
func WithSecrets(s secret.Service) EngineOption {
	return func(e *Engine) { e.Secrets = s }
}

// WithRBAC installs the per-operation model whitelist enforced by the
// database helpers exposed to user expressions.
func WithRBAC(r *RBAC) EngineOption {
	return func(e *Engine) { e.RBAC = r }
}

// WithSettings exposes the application settings map to user expressions.
func WithSettings(settings map[string]any) EngineOption {
	return func(e *Engine) { e.Settings = settings }
}

// WithAppAddress sets the base URL used for notification links.
func WithAppAddress(addr string) EngineOption {
	return func(e *Engine) { e.AppAddress = addr }
}

// WithMetrics installs the Prometheus instrumentation bundle.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.Metrics = m }
}

// NewEngine constructs an Engine with in-memory defaults.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		runs:        make(map[string]*Runner),
		State:       state.NewMemoryStore(),
		Connections: connection.New(slog.Default()),
		Expr:        expression.New(),
		logger:      slog.Default(),
		serviceRuns: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register records a Runner as active. Start calls it for every Runner it
// executes, including nested/iteration children, so Stop/Cancel can reach
// every run sharing a ParentRuntime.
func (e *Engine) Register(r *Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[r.ID] = r
	if r.IsStart {
		e.active.Add(1)
	}
}

// Unregister removes a Runner from the active set. Called once the run's
// final status has been recorded.
func (e *Engine) Unregister(r *Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, r.ID)
	if r.IsStart {
		e.active.Add(-1)
	}
}

// Get returns the Runner registered under id, if any.
func (e *Engine) Get(id string) (*Runner, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	return r, ok
}

// Stop cancels the run rooted at parentRuntime and every Runner nested
// under it (sub-workflows, per-device fan-out units, iteration children).
func (e *Engine) Stop(parentRuntime string) error {
	e.mu.RLock()
	var matched []*Runner
	for _, r := range e.runs {
		if r.ParentRuntime == parentRuntime {
			matched = append(matched, r)
		}
	}
	e.mu.RUnlock()

	if len(matched) == 0 {
		return fmt.Errorf("runner: no active run for parent runtime %q", parentRuntime)
	}
	for _, r := range matched {
		r.Stop()
	}
	return nil
}

// ActiveCount returns the number of active top-level runs.
func (e *Engine) ActiveCount() int64 { return e.active.Load() }

// StartDraining marks the engine as refusing new top-level runs.
func (e *Engine) StartDraining() { e.draining.Store(true) }

// Draining reports whether the engine is in graceful-shutdown mode.
func (e *Engine) Draining() bool { return e.draining.Load() }

// trackGoroutine registers a long-running run goroutine for clean shutdown.
func (e *Engine) trackGoroutine(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// WaitForDrain blocks until every active run finishes or timeout elapses.
func (e *Engine) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		if n := e.ActiveCount(); n > 0 {
			return fmt.Errorf("runner: drain timeout with %d run(s) still active", n)
		}
		return nil
	}
}

// Logger returns the Engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// serviceStarted bumps the per-service active-run counter.
func (e *Engine) serviceStarted(svc *ServiceDefinition) {
	if svc == nil {
		return
	}
	e.serviceMu.Lock()
	defer e.serviceMu.Unlock()
	e.serviceRuns[svc.ID]++
	svc.Status = "Running"
}

// serviceFinished decrements the per-service active-run counter and marks
// the service idle once its last run completes.
func (e *Engine) serviceFinished(svc *ServiceDefinition) {
	if svc == nil {
		return
	}
	e.serviceMu.Lock()
	defer e.serviceMu.Unlock()
	if e.serviceRuns[svc.ID] > 0 {
		e.serviceRuns[svc.ID]--
	}
	if e.serviceRuns[svc.ID] == 0 {
		svc.Status = "Idle"
	}
}

// ServiceRunCount reports the number of active runs for one service.
func (e *Engine) ServiceRunCount(serviceID string) int {
	e.serviceMu.Lock()
	defer e.serviceMu.Unlock()
	return e.serviceRuns[serviceID]
}
