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

	"github.com/netrunner/netrunner/internal/runner/state"
)

// progressWriter adapts the state store to the counter surface the device
// fan-out increments as work proceeds.
type progressWriter struct {
	store         state.Store
	parentRuntime string
	path          string
	scope         state.ProgressScope
}

func (p *progressWriter) Scope() string { return string(p.scope) }

func (p *progressWriter) inc(ctx context.Context, counter string, delta int) error {
	return state.IncrementProgress(ctx, p.store, p.parentRuntime, p.path, p.scope, counter, float64(delta))
}

func (p *progressWriter) Total(ctx context.Context, delta int) error {
	return p.inc(ctx, "total", delta)
}

func (p *progressWriter) Success(ctx context.Context, delta int) error {
	return p.inc(ctx, "success", delta)
}

func (p *progressWriter) Failure(ctx context.Context, delta int) error {
	return p.inc(ctx, "failure", delta)
}

func (p *progressWriter) Skipped(ctx context.Context, delta int) error {
	return p.inc(ctx, "skipped", delta)
}
