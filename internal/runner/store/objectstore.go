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

// Package store defines the persistence boundary the runner engine depends
// on but never implements: model fetch/factory/delete, credential
// retrieval, and a transactional session per run.
package store

import "context"

// Accessor is the model-access surface shared by the bare store and a
// run's transactional session.
type Accessor interface {
	// Fetch returns the first model matching filters.
	Fetch(ctx context.Context, model string, filters map[string]any) (any, bool, error)
	// FetchAll returns every instance of model.
	FetchAll(ctx context.Context, model string) ([]any, error)
	// Factory creates (or updates, if an id filter matches) an instance of
	// model with the given fields.
	Factory(ctx context.Context, model string, fields map[string]any) (any, error)
	// Delete removes the first model matching filters.
	Delete(ctx context.Context, model string, filters map[string]any) error
	// GetCredential resolves a device/user credential through the secret
	// service boundary.
	GetCredential(ctx context.Context, user string, device string, credType string) (string, error)
	// AppendServiceLog merges lines into the run's per-service log row.
	AppendServiceLog(ctx context.Context, log ServiceLog) error
}

// Session is the single transactional window one run holds on the object
// store. Every write a run issues (result rows, service logs, factory
// calls from user expressions) is staged through its Accessor surface and
// becomes durable only on Commit; Rollback discards the run's whole staged
// state.
type Session interface {
	Accessor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ObjectStore is the persistence surface the runner engine consumes.
// Reads outside a run go straight through the Accessor surface; a run's
// writes go through the Session it opens at start.
type ObjectStore interface {
	Accessor
	// NewSession opens the single transactional session for one run.
	NewSession(ctx context.Context) (Session, error)
}

// Result is the persisted shape of one run or device outcome.
type Result struct {
	RunID         string
	Service       string
	ParentService string
	ParentRuntime string
	Workflow      string
	ParentDevice  string
	Device        string
	Result        any
	Duration      float64 // seconds
	Success       bool
	Tags          []string
	Creator       string
}

// ServiceLog is one service_log row: the accumulated log lines contributed
// by one service within one run.
type ServiceLog struct {
	RunID   string
	Service string
	Lines   []string
}
