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

package state

import (
	"context"
	"fmt"
)

// ProgressScope selects the device vs iteration_device progress namespace.
type ProgressScope string

const (
	ScopeDevice          ProgressScope = "device"
	ScopeIterationDevice ProgressScope = "iteration_device"
)

// ProgressPath builds "<parentRuntime>/<path>/progress/<scope>/<counter>".
func ProgressPath(parentRuntime, runPath string, scope ProgressScope, counter string) string {
	return fmt.Sprintf("%s/%s/progress/%s/%s", parentRuntime, runPath, scope, counter)
}

// IncrementProgress is a convenience wrapper around Write(..., MethodIncrement)
// for the total/success/failure/skipped counters.
func IncrementProgress(ctx context.Context, s Store, parentRuntime, runPath string, scope ProgressScope, counter string, delta float64) error {
	return s.Write(ctx, ProgressPath(parentRuntime, runPath, scope, counter), delta, MethodIncrement)
}

// StatusPath builds "<parentRuntime>/<path>/status".
func StatusPath(parentRuntime, runPath string) string {
	return fmt.Sprintf("%s/%s/status", parentRuntime, runPath)
}

// SetStatus writes the run's status subkey.
func SetStatus(ctx context.Context, s Store, parentRuntime, runPath, status string) error {
	return s.Write(ctx, StatusPath(parentRuntime, runPath), status, MethodSet)
}
