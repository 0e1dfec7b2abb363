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

// Package daemon assembles the long-running service: engine, object store,
// definitions watcher, scheduler, notification transports, and the HTTP
// API, with graceful drain on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/netrunner/netrunner/internal/config"
	"github.com/netrunner/netrunner/internal/daemon/api"
	"github.com/netrunner/netrunner/internal/daemon/auth"
	"github.com/netrunner/netrunner/internal/daemon/scheduler"
	"github.com/netrunner/netrunner/internal/daemon/trigger"
	"github.com/netrunner/netrunner/internal/definition"
	"github.com/netrunner/netrunner/internal/metrics"
	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/internal/runner/notify"
	"github.com/netrunner/netrunner/internal/runner/record"
	"github.com/netrunner/netrunner/internal/runner/target"
	"github.com/netrunner/netrunner/internal/store/sqlite"
	"github.com/netrunner/netrunner/pkg/httpclient"
)

// Daemon is the assembled service.
type Daemon struct {
	cfg    *config.Config
	engine *runner.Engine
	store  *sqlite.Store
	server *api.Server
	sched  *scheduler.Scheduler
	jobs   map[string]runner.Job
	logger *slog.Logger
	lib    atomic.Pointer[definition.Library]
}

// New wires a Daemon from configuration. jobs maps the job names the
// definitions reference to their registered bodies.
func New(cfg *config.Config, jobs map[string]runner.Job, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	objStore, err := sqlite.New(sqlite.Config{Path: cfg.StorePath, WAL: true})
	if err != nil {
		return nil, fmt.Errorf("daemon: open object store: %w", err)
	}

	httpClient, err := httpclient.New(httpclient.DefaultConfig())
	if err != nil {
		objStore.Close()
		return nil, fmt.Errorf("daemon: build http client: %w", err)
	}

	var email notify.EmailSender
	if cfg.SMTPHost != "" {
		email = &smtpSender{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.SMTPFrom}
	}
	var chat notify.ChatSender
	if cfg.ChatTokenEnv != "" {
		chat = &chatSender{tokenEnv: cfg.ChatTokenEnv, client: httpClient, apiURL: cfg.WebhookURL}
	}
	webhook := &notify.WebhookSender{Client: httpClient}

	m := metrics.New()
	engine := runner.NewEngine(
		runner.WithObjectStore(objStore),
		runner.WithRecorder(record.New(objStore, logger)),
		runner.WithLogger(logger),
		runner.WithMetrics(m),
		runner.WithAppAddress(cfg.AppAddress),
	)
	engine.Notify = notify.New(email, chat, webhook, func(input string, vars map[string]any) (string, error) {
		out, err := engine.Expr.Sub(input, vars)
		if err != nil {
			return "", err
		}
		return fmt.Sprint(out), nil
	})
	engine.Targets = target.New(
		func(query string, scope map[string]any) (any, error) {
			value, _, err := engine.Expr.Eval(query, scope)
			return value, err
		},
		func(ctx context.Context, property string, value any) (target.Device, bool, error) {
			row, ok, err := objStore.Fetch(ctx, "device", map[string]any{property: value})
			if err != nil || !ok {
				return target.Device{}, false, err
			}
			fields := row.(map[string]any)
			d := target.Device{}
			d.ID, _ = fields["id"].(string)
			d.Name, _ = fields["name"].(string)
			d.IPAddress, _ = fields["ip_address"].(string)
			if port, ok := fields["port"].(float64); ok {
				d.Port = int(port)
			}
			return d, true, nil
		},
		logger,
	)

	authn := &auth.Authenticator{Token: cfg.AuthToken, JWTSecret: cfg.JWTSecret}
	var limiter *auth.RateLimiter
	if cfg.MaxRequestsPerMinute > 0 {
		limiter = auth.NewRateLimiter(cfg.MaxRequestsPerMinute)
	}
	server := api.New(engine, jobs, authn, limiter, logger)

	d := &Daemon{
		cfg:    cfg,
		engine: engine,
		store:  objStore,
		server: server,
		jobs:   jobs,
		logger: logger,
	}
	d.sched = scheduler.New(d.startScheduled, logger)
	return d, nil
}

// Engine exposes the assembled engine, for embedding callers.
func (d *Daemon) Engine() *runner.Engine { return d.engine }

// Scheduler exposes the task scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.sched }

// startScheduled fires one scheduled run.
func (d *Daemon) startScheduled(ctx context.Context, task *scheduler.Task) error {
	lib := d.libraryNow()
	if lib == nil {
		return fmt.Errorf("daemon: definitions not loaded")
	}
	spec, ok := lib.Lookup(task.Service)
	if !ok {
		return fmt.Errorf("daemon: scheduled task %s references unknown service %s", task.Name, task.Service)
	}
	def, err := spec.Runtime(d.jobs)
	if err != nil {
		return err
	}
	run := runner.NewRunner(context.Background(), d.engine, def, nil, nil, "scheduler")
	if task.OneShot() {
		run.Task = &runner.TriggerDescriptor{
			MarkInactive: func(context.Context) error {
				task.Active = false
				return nil
			},
		}
	} else {
		run.Task = &runner.TriggerDescriptor{
			Frequency:          task.Frequency,
			CalendarExpression: task.CalendarExpression,
		}
	}
	return d.engine.Submit(run)
}

func (d *Daemon) libraryNow() *definition.Library {
	return d.lib.Load()
}

// Run serves until ctx is cancelled, then drains.
func (d *Daemon) Run(ctx context.Context) error {
	watcher := trigger.NewWatcher(d.cfg.DefinitionsDir, func(lib *definition.Library) {
		d.lib.Store(lib)
		d.server.SetLibrary(lib)
	}, d.logger)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := watcher.Run(watchCtx); err != nil {
			d.logger.Error("definitions watcher stopped", "error", err)
		}
	}()
	go d.sched.Run(watchCtx)

	httpServer := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           d.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon listening", "addr", d.cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	d.logger.Info("daemon draining", "timeout", d.cfg.DrainTimeout)
	d.engine.StartDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := d.engine.WaitForDrain(shutdownCtx, d.cfg.DrainTimeout); err != nil {
		d.logger.Warn("drain incomplete", "error", err)
	}
	return d.store.Close()
}
