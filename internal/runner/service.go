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

// RunMethod controls whether a service body runs once for all targets or
// once per target device.
type RunMethod string

const (
	RunMethodOnce      RunMethod = "once"
	RunMethodPerDevice RunMethod = "per_device"
)

// ConversionMethod controls how a job's raw result is normalized before
// validation.
type ConversionMethod string

const (
	ConversionNone ConversionMethod = "none"
	ConversionText ConversionMethod = "text"
	ConversionJSON ConversionMethod = "json"
	ConversionXML  ConversionMethod = "xml"
)

// ValidationMethod controls how a normalized result is checked for success.
type ValidationMethod string

const (
	ValidationText         ValidationMethod = "text"
	ValidationDictEqual    ValidationMethod = "dict_equal"
	ValidationDictIncluded ValidationMethod = "dict_included"
)

// ValidationCondition controls whether validation runs at all, based on the
// outcome of the body/conversion step.
type ValidationCondition string

const (
	ValidationAlways  ValidationCondition = "always"
	ValidationSuccess ValidationCondition = "success"
	ValidationFailure ValidationCondition = "failure"
)

// PostprocessingMode controls whether the postprocessing hook runs, based on
// the outcome so far.
type PostprocessingMode string

const (
	PostprocessingAlways  PostprocessingMode = "always"
	PostprocessingSuccess PostprocessingMode = "success"
	PostprocessingFailure PostprocessingMode = "failure"
)

// SkipValue controls what happens to a device that is filtered out by the
// skip predicate before execution.
type SkipValue string

const (
	SkipAsSuccess SkipValue = "success"
	SkipAsFailure SkipValue = "failure"
	SkipDiscard   SkipValue = "discard"
)

// NotificationTransport selects the backend NotificationDispatcher uses.
type NotificationTransport string

const (
	NotificationEmail   NotificationTransport = "mail"
	NotificationChat    NotificationTransport = "chat"
	NotificationWebhook NotificationTransport = "webhook"
)

// Job is the user-supplied body of a service. It receives the Runner driving
// the current attempt and, for per_device runs, the device the attempt is
// scoped to (nil for run_method=once and for non-device services).
//
// Implementations are free to use r.Param/r.Payload/connections acquired
// through the Engine's ConnectionCache; the retry/validation/postprocessing
// machinery around Job is what RetryDriver provides.
type Job func(r *Runner, device *Device) (any, error)

// ServiceDefinition is the static, persisted behavioral description of a
// service: its job body plus every knob controlling targeting, retries,
// conversion, validation, skipping, iteration, connections, and
// notification.
type ServiceDefinition struct {
	ID   string
	Name string

	Job Job

	RunMethod       RunMethod
	Multiprocessing bool
	MaxProcesses    int

	NumberOfRetries    int
	MaxNumberOfRetries int
	TimeBetweenRetries time.Duration
	WaitingTime        time.Duration

	ConversionMethod           ConversionMethod
	ValidationMethod           ValidationMethod
	ValidationCondition        ValidationCondition
	ContentMatch               string
	ContentMatchRegex          bool
	DeleteSpacesBeforeMatching bool
	DictMatch                  map[string]any
	NegativeLogic              bool

	PostprocessingMode PostprocessingMode
	Preprocessing      string // source exec'd before the body
	Postprocessing     string // source exec'd after conversion

	SkipQuery string
	SkipValue SkipValue

	IterationValues          []any
	IterationVariableName    string
	IterationDevices         string // expression yielding the per-target device set
	IterationDevicesProperty string

	TargetDevices       []Device
	TargetPools         []string
	UpdateTargetPools   bool
	DeviceQuery         string
	DeviceQueryProperty string

	StartNewConnection bool
	ConnectionName     string
	ConnectionProtocol string

	SendNotification        bool
	IncludeDeviceResults    bool
	NotificationTransport   NotificationTransport
	NotificationHeader      string
	NotificationDestination string

	UpdatePoolsAfterRunning bool

	// Status is the service's coarse lifecycle flag ("Running"/"Idle"),
	// flipped by the engine's per-service active-run counter.
	Status string
}

// Param resolves a service-level knob through the Runner, which falls back
// to the service definition when the runner itself has no override.
func (r *Runner) Param(name string) any {
	if r.overrides != nil {
		if v, ok := r.overrides[name]; ok {
			return v
		}
	}
	if r.Service == nil {
		return nil
	}
	switch name {
	case "run_method":
		return r.Service.RunMethod
	case "max_processes":
		return r.Service.MaxProcesses
	case "number_of_retries":
		return r.Service.NumberOfRetries
	case "max_number_of_retries":
		return r.Service.MaxNumberOfRetries
	default:
		return nil
	}
}
