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

// Package fanout spreads one service invocation across its target devices:
// skip filtering, the once/per_device branch, bounded-parallel per-device
// execution, and iteration (spawning per-target child runners). Parallel
// dispatch uses a buffered-channel semaphore sized to the configured worker
// count, one goroutine per device.
package fanout

import (
	"context"
	"fmt"
	"sync"
)

// Device is the minimal device shape DeviceFanOut operates over.
type Device struct {
	Name string
}

// RunMethod selects whether the body runs once for all targets or once per
// target.
type RunMethod string

const (
	RunMethodOnce      RunMethod = "once"
	RunMethodPerDevice RunMethod = "per_device"
)

// SkipValue controls what happens to a device a skip predicate matched.
type SkipValue string

const (
	SkipAsSuccess SkipValue = "success"
	SkipAsFailure SkipValue = "failure"
	SkipDiscard   SkipValue = "discard"
)

// Attempt is the outcome of one job invocation (once-level or per-device).
type Attempt struct {
	Success bool
	Result  any
}

// AttemptFunc executes the service body for one device (nil for
// run_method=once, where the whole retained target list is passed instead).
type AttemptFunc func(ctx context.Context, device *Device) Attempt

// SkipEvaluator evaluates a service's skip_query expression against a
// device-scoped scope.
type SkipEvaluator func(ctx context.Context, device Device) (bool, error)

// IterationFunc spawns and runs a child runner for one target device,
// returning whether that child's aggregate run succeeded. Nil means the
// service declares no iteration_devices.
type IterationFunc func(ctx context.Context, target Device) (bool, error)

// Progress receives the total/success/failure/skipped counter increments as
// work proceeds. Scope selects the "device" vs "iteration_device" namespace.
type Progress interface {
	Scope() string
	Total(ctx context.Context, delta int) error
	Success(ctx context.Context, delta int) error
	Failure(ctx context.Context, delta int) error
	Skipped(ctx context.Context, delta int) error
}

// ResultSink persists one synthetic or real per-device (or once-level)
// result row, mirroring ResultRecorder's role as DeviceFanOut's downstream
// collaborator.
type ResultSink func(device *Device, attempt Attempt)

// Config is one fan-out invocation's static behavior, drawn from a
// ServiceDefinition by the caller.
type Config struct {
	RunMethod       RunMethod
	Multiprocessing bool
	MaxProcesses    int

	SkipValue    SkipValue
	WorkflowSkip map[string]bool // workflow-level skip map, checked before Skip
	Skip         SkipEvaluator   // skip_query evaluation; nil if unset

	Iteration IterationFunc

	IsIterationRun bool // true when this fanout's own runner is already an iteration run
	InWorkflow     bool // iteration is only legal inside a workflow
}

// Result is the fan-out's aggregate outcome: the {success, failure} device
// name lists plus the overall success flag. The lists reflect completion
// order; parallel runs carry no ordering promise across devices.
type Result struct {
	Summary struct {
		Success []string
		Failure []string
	}
	Success bool
}

// ConfigurationError is a fatal-to-the-run misconfiguration (per_device
// without targets, iteration devices outside a workflow).
type ConfigurationError struct{ Reason string }

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Reason }

// Run executes one fan-out pass against targets: count them, then either
// iterate per-target or filter the skipped and run once/per-device. Skip
// filtering does not apply to iteration targets; each child run does its
// own skip evaluation against the iteration-device set.
func Run(ctx context.Context, progress Progress, cfg Config, targets []Device, attempt AttemptFunc, sink ResultSink) (Result, error) {
	var result Result

	if err := progress.Total(ctx, len(targets)); err != nil {
		return result, fmt.Errorf("fanout: write total: %w", err)
	}

	if cfg.Iteration != nil {
		if cfg.IsIterationRun {
			return result, &ConfigurationError{Reason: "iteration_devices cannot be declared on a runner that is itself an iteration run"}
		}
		if !cfg.InWorkflow {
			return result, &ConfigurationError{Reason: "iteration_devices requires a surrounding workflow"}
		}
		for _, d := range targets {
			ok, err := cfg.Iteration(ctx, d)
			if err != nil {
				ok = false
			}
			recordOutcome(&result, progress, ctx, d.Name, ok)
		}
		result.Success = allSucceeded(result)
		return result, nil
	}

	retained, skipped, err := filterSkipped(ctx, cfg, targets)
	if err != nil {
		return result, err
	}

	for _, d := range skipped {
		if cfg.SkipValue == SkipDiscard {
			continue
		}
		synthetic := Attempt{Success: cfg.SkipValue == SkipAsSuccess, Result: "skipped"}
		if sink != nil {
			dd := d
			sink(&dd, synthetic)
		}
		if err := progress.Skipped(ctx, 1); err != nil {
			return result, fmt.Errorf("fanout: write skipped: %w", err)
		}
		name := d.Name
		if synthetic.Success {
			result.Summary.Success = append(result.Summary.Success, name)
		} else {
			result.Summary.Failure = append(result.Summary.Failure, name)
		}
	}

	switch cfg.RunMethod {
	case RunMethodOnce:
		if len(retained) == 0 && len(targets) > 0 {
			// every target was skipped/discarded; nothing to attribute a
			// once-level attempt to.
			result.Success = allSucceeded(result)
			return result, nil
		}
		a := attempt(ctx, nil)
		if sink != nil {
			sink(nil, a)
		}
		for _, d := range retained {
			recordOutcome(&result, progress, ctx, d.Name, a.Success)
		}
	case RunMethodPerDevice:
		if len(retained) == 0 && len(targets) == 0 {
			return result, &ConfigurationError{Reason: "per_device run requires at least one target device"}
		}
		runPerDevice(ctx, progress, cfg, retained, attempt, sink, &result)
	default:
		return result, &ConfigurationError{Reason: fmt.Sprintf("unknown run_method %q", cfg.RunMethod)}
	}

	result.Success = allSucceeded(result)
	return result, nil
}

func filterSkipped(ctx context.Context, cfg Config, targets []Device) (retained, skipped []Device, err error) {
	for _, d := range targets {
		skip := cfg.WorkflowSkip[d.Name]
		if !skip && cfg.Skip != nil {
			skip, err = cfg.Skip(ctx, d)
			if err != nil {
				return nil, nil, fmt.Errorf("fanout: skip_query on %s: %w", d.Name, err)
			}
		}
		if skip {
			skipped = append(skipped, d)
		} else {
			retained = append(retained, d)
		}
	}
	return retained, skipped, nil
}

func runPerDevice(ctx context.Context, progress Progress, cfg Config, devices []Device, attempt AttemptFunc, sink ResultSink, result *Result) {
	if cfg.Multiprocessing && len(devices) > 1 {
		workers := cfg.MaxProcesses
		if workers <= 0 || workers > len(devices) {
			workers = len(devices)
		}
		sem := make(chan struct{}, workers)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, d := range devices {
			d := d
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				a := attempt(ctx, &d)
				if sink != nil {
					sink(&d, a)
				}
				mu.Lock()
				recordOutcome(result, progress, ctx, d.Name, a.Success)
				mu.Unlock()
			}()
		}
		wg.Wait()
		return
	}

	for _, d := range devices {
		d := d
		a := attempt(ctx, &d)
		if sink != nil {
			sink(&d, a)
		}
		recordOutcome(result, progress, ctx, d.Name, a.Success)
	}
}

func recordOutcome(result *Result, progress Progress, ctx context.Context, name string, success bool) {
	if success {
		result.Summary.Success = append(result.Summary.Success, name)
		_ = progress.Success(ctx, 1)
	} else {
		result.Summary.Failure = append(result.Summary.Failure, name)
		_ = progress.Failure(ctx, 1)
	}
}

func allSucceeded(result Result) bool {
	return len(result.Summary.Failure) == 0
}
