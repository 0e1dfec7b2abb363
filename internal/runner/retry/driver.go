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

// Package retry drives one (service, device) attempt cycle: preprocessing
// and postprocessing hooks, result normalization, validation, and a
// two-counter retry loop — a resettable baseline plus a hard cap on total
// attempts.
package retry

import "time"

// Mode selects when postprocessing/validation runs relative to the
// body/conversion outcome so far.
type Mode string

const (
	ModeAlways  Mode = "always"
	ModeSuccess Mode = "success"
	ModeFailure Mode = "failure"
)

func (m Mode) matches(success bool) bool {
	switch m {
	case ModeSuccess:
		return success
	case ModeFailure:
		return !success
	default:
		return true
	}
}

// ConversionMethod controls result normalization.
type ConversionMethod string

const (
	ConversionNone ConversionMethod = "none"
	ConversionText ConversionMethod = "text"
	ConversionJSON ConversionMethod = "json"
	ConversionXML  ConversionMethod = "xml"
)

// ValidationMethod controls how a normalized result is checked.
type ValidationMethod string

const (
	ValidationText         ValidationMethod = "text"
	ValidationDictEqual    ValidationMethod = "dict_equal"
	ValidationDictIncluded ValidationMethod = "dict_included"
)

// Exec is the subset of expression.Host the driver needs: evaluating
// pre/postprocessing blocks and validation templates. Kept as an interface
// so this package never imports internal/runner/expression directly.
type Exec interface {
	Eval(source string, scope map[string]any) (any, map[string]any, error)
	Exec(source string, scope map[string]any) (map[string]any, error)
}

// Config is the static behavior for one attempt, drawn from a
// ServiceDefinition by the caller. A MaxNumberOfRetries of zero is a hard
// no-attempt budget; callers wanting "unbounded up to the baseline" must
// pass NumberOfRetries+1 themselves.
type Config struct {
	NumberOfRetries    int // baseline counter, resettable by postprocessing
	MaxNumberOfRetries int // hard cap on total attempts
	TimeBetweenRetries time.Duration

	Preprocessing      string
	Postprocessing     string
	PostprocessingMode Mode

	ConversionMethod ConversionMethod

	ValidationMethod           ValidationMethod
	ValidationCondition        Mode
	ContentMatch               string
	ContentMatchRegex          bool
	DeleteSpacesBeforeMatching bool
	DictMatch                  map[string]any
	NegativeLogic              bool
}

// ValidationEntry records one dict_included path comparison.
type ValidationEntry struct {
	Path  string
	Value any
	Match bool
}

// Result is the outcome of one attempt, regardless of how many retries it
// took internally.
type Result struct {
	Success      bool
	Result       any
	Error        string
	Exception    string
	TextResponse string
	Validation   []ValidationEntry
	Duration     time.Duration
	Attempts     int
}

// Body invokes the service's job against scope and returns its raw result.
// Panics are not recovered here: the caller wraps Body so a panicking job
// still surfaces as a failed attempt, recovering at the goroutine boundary
// rather than deep inside the retry loop.
type Body func(scope map[string]any) (any, error)

// Driver runs the RetryDriver state machine.
type Driver struct {
	Exec Exec
}

// New constructs a Driver bound to exec.
func New(exec Exec) *Driver {
	return &Driver{Exec: exec}
}

// Run executes cfg's retry loop for one attempt cycle. stopped is polled
// at the head of every iteration and during the backoff sleep; scope is
// mutated across iterations by postprocessing's `retries` override.
func (d *Driver) Run(stopped func() bool, cfg Config, scope map[string]any, body Body) Result {
	start := time.Now()
	remaining := cfg.NumberOfRetries
	maxAttempts := cfg.MaxNumberOfRetries
	if maxAttempts <= 0 {
		// A zero attempt budget runs nothing and returns the prepared
		// failure as-is.
		return Result{Success: false, Duration: time.Since(start)}
	}

	var last Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if stopped() {
			return Result{Success: false, Result: "Stopped", Duration: time.Since(start), Attempts: attempt - 1}
		}

		last = d.runOnce(cfg, scope, body)
		last.Attempts = attempt
		last.Duration = time.Since(start)

		if remainingOverride, ok := scope["retries"]; ok {
			if n, ok := toInt(remainingOverride); ok {
				if n > cfg.MaxNumberOfRetries-attempt && cfg.MaxNumberOfRetries > 0 {
					n = cfg.MaxNumberOfRetries - attempt
				}
				remaining = n
			}
		}

		if last.Success {
			return last
		}
		if remaining <= 0 || attempt >= maxAttempts {
			return last
		}
		remaining--

		if cfg.TimeBetweenRetries > 0 {
			deadline := time.After(cfg.TimeBetweenRetries)
			for {
				if stopped() {
					last.Success = false
					last.Result = "Stopped"
					return last
				}
				select {
				case <-deadline:
				default:
					time.Sleep(10 * time.Millisecond)
					continue
				}
				break
			}
		}
	}
	return last
}

func (d *Driver) runOnce(cfg Config, scope map[string]any, body Body) Result {
	if cfg.Preprocessing != "" {
		updated, err := d.Exec.Exec(cfg.Preprocessing, scope)
		if err == nil {
			for k, v := range updated {
				scope[k] = v
			}
		}
		// A preprocessing error aborts only the preprocess block; the
		// body still runs against the unmodified scope.
	}

	rawResult, bodyErr := body(scope)
	res := Result{Success: bodyErr == nil, Result: rawResult}
	if bodyErr != nil {
		res.Success = false
		res.Result = bodyErr.Error()
	}

	res = convert(cfg.ConversionMethod, res)

	if cfg.Postprocessing != "" && cfg.PostprocessingMode.matches(res.Success) {
		postScope := mergeResultIntoScope(scope, res)
		updated, err := d.Exec.Exec(cfg.Postprocessing, postScope)
		if err == nil {
			for k, v := range updated {
				scope[k] = v
			}
		}
	}

	if cfg.ValidationCondition.matches(res.Success) && cfg.ValidationMethod != "" {
		res = d.validate(cfg, scope, res)
	}

	return res
}

func mergeResultIntoScope(scope map[string]any, res Result) map[string]any {
	merged := make(map[string]any, len(scope)+2)
	for k, v := range scope {
		merged[k] = v
	}
	merged["result"] = res.Result
	merged["success"] = res.Success
	return merged
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
