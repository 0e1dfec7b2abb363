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

import "time"

// AttemptResult is the outcome of one attempt cycle: success flag, a
// polymorphic result payload, and optional structured diagnostic fields.
type AttemptResult struct {
	Success    bool
	Result     any
	Error      string
	Exception  string
	TextResponse string
	Validation []ValidationEntry
	Duration   time.Duration
	Attempts   int
}

// ValidationEntry records one path/value/match triple produced by
// dict_included validation.
type ValidationEntry struct {
	Path  string
	Value any
	Match bool
}

// Summary is the {success: [...], failure: [...]} device-name lists for one
// run.
type Summary struct {
	Success []string
	Failure []string
}

// AggregateResult is the final, persisted outcome of a Runner invocation.
type AggregateResult struct {
	Success   bool
	Summary   Summary
	PerDevice map[string]*AttemptResult
	Result    any
	Duration  time.Duration
	Notification map[string]any
}

// ResultRecord is the transport-safe shape persisted through the object
// store.
type ResultRecord struct {
	RunID         string
	Service       string
	ParentService string
	ParentRuntime string
	Workflow      string
	ParentDevice  string
	Device        string
	Result        any
	Duration      time.Duration
	Success       bool
	Tags          []string
	Creator       string
}
