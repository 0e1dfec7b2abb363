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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/netrunner/netrunner/internal/config"
	"github.com/netrunner/netrunner/internal/daemon"
	"github.com/netrunner/netrunner/internal/log"
	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/internal/runner/examples"
	"github.com/netrunner/netrunner/internal/runner/record"
	"github.com/netrunner/netrunner/internal/tracing"
)

func main() {
	logger := log.New(log.FromEnv())

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "netrunnerd",
		ServiceVersion: "dev",
		Exporter:       tracing.Exporter(os.Getenv("NETRUNNER_TRACE_EXPORTER")),
		Endpoint:       os.Getenv("NETRUNNER_TRACE_ENDPOINT"),
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer provider.Shutdown(context.Background())

	d, err := daemon.New(cfg, builtinJobs(cfg), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// builtinJobs registers the job bodies shipped with the daemon. Site-local
// builds append their own.
func builtinJobs(cfg *config.Config) map[string]runner.Job {
	restPing := &examples.RESTCall{URL: "http://{{ device.ip_address }}/api/system/status"}
	backup := &examples.ConfigBackup{
		Snapshots: record.NewSnapshotter(cfg.SnapshotRoot),
	}
	return map[string]runner.Job{
		"rest_call":     restPing.Job(),
		"config_backup": backup.Job(),
		"noop": func(*runner.Runner, *runner.Device) (any, error) {
			return map[string]any{"success": true, "result": "noop"}, nil
		},
	}
}
