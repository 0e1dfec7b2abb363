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

// Package record normalizes a job's polymorphic result into a
// transport-safe shape (JSON scalars, lists, maps only) and persists it
// through the object-store boundary.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/netrunner/netrunner/internal/runner/store"
)

// Writer is the minimal surface result rows are staged through: the run's
// transactional session while a run is live, the bare store otherwise.
type Writer interface {
	Factory(ctx context.Context, model string, fields map[string]any) (any, error)
}

// Recorder is the ResultRecorder.
type Recorder struct {
	Store  store.ObjectStore
	logger *slog.Logger
}

// New constructs a Recorder bound to an ObjectStore.
func New(objStore store.ObjectStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Store: objStore, logger: logger}
}

// Record normalizes rec.Result in place and persists it through dest,
// attaching run_id, parent references, and creator tags. A nil dest falls
// back to the Recorder's bound store.
func (r *Recorder) Record(ctx context.Context, dest Writer, rec store.Result) error {
	if dest == nil {
		dest = r.Store
	}
	rec.Result = Normalize(rec.Result, r.logger)
	_, err := dest.Factory(ctx, "result", map[string]any{
		"run_id":         rec.RunID,
		"service":        rec.Service,
		"parent_service": rec.ParentService,
		"parent_runtime": rec.ParentRuntime,
		"workflow":       rec.Workflow,
		"parent_device":  rec.ParentDevice,
		"device":         rec.Device,
		"result":         rec.Result,
		"duration":       rec.Duration,
		"success":        rec.Success,
		"tags":           rec.Tags,
		"creator":        rec.Creator,
	})
	if err != nil {
		return fmt.Errorf("record: persist result: %w", err)
	}
	return nil
}

// Normalize recursively walks v, passing maps and lists through (after
// normalizing their elements) and scalars (int, float, bool, string, nil)
// through unchanged. Anything else is stringified with a log message.
//
// Normalize is idempotent: every branch either recurses into already-safe
// children or produces a string/scalar that falls straight through on a
// second pass.
func Normalize(v any, logger *slog.Logger) any {
	switch t := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val, logger)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val, logger)
		}
		return out
	default:
		return normalizeOther(v, logger)
	}
}

func normalizeOther(v any, logger *slog.Logger) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface(), logger)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface(), logger)
		}
		return out
	default:
		if logger != nil {
			logger.Debug("record: stringifying non-primitive result value", "type", fmt.Sprintf("%T", v))
		}
		return fmt.Sprint(v)
	}
}

// Duration converts a time.Duration into the float-seconds shape stored
// results use.
func Duration(d time.Duration) float64 { return d.Seconds() }
