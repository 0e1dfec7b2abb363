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

// Package metrics exposes the engine's Prometheus instrumentation: run and
// device-attempt counters, the active-run gauge, connection-cache hit
// rates, and the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the engine updates. All fields are safe
// for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   *prometheus.CounterVec
	RunsCompleted *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge

	DeviceAttempts *prometheus.CounterVec
	Retries        prometheus.Counter

	ConnectionHits   prometheus.Counter
	ConnectionMisses prometheus.Counter

	NotificationFailures *prometheus.CounterVec
}

// New constructs a Metrics bundle on its own registry, so tests never
// collide on the default global registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netrunner_runs_started_total",
			Help: "Runs started, labeled by service.",
		}, []string{"service"}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netrunner_runs_completed_total",
			Help: "Runs completed, labeled by service and outcome.",
		}, []string{"service", "outcome"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netrunner_active_runs",
			Help: "Top-level runs currently executing.",
		}),
		DeviceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netrunner_device_attempts_total",
			Help: "Per-device attempts, labeled by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netrunner_retries_total",
			Help: "Retry iterations beyond the first attempt.",
		}),
		ConnectionHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netrunner_connection_cache_hits_total",
			Help: "Connection cache lookups satisfied by a live cached session.",
		}),
		ConnectionMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netrunner_connection_cache_misses_total",
			Help: "Connection cache lookups that opened a fresh session.",
		}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netrunner_notification_failures_total",
			Help: "Notification dispatches that failed, labeled by transport.",
		}, []string{"transport"}),
	}

	registry.MustRegister(
		m.RunsStarted,
		m.RunsCompleted,
		m.ActiveRuns,
		m.DeviceAttempts,
		m.Retries,
		m.ConnectionHits,
		m.ConnectionMisses,
		m.NotificationFailures,
	)
	return m
}

// Handler returns the scrape endpoint for this bundle's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that register
// additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
