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

// Package errors defines the typed error kinds raised by the runner core.
// Each kind carries the fields a caller needs to react programmatically
// (errors.As) rather than by parsing a message string.
package errors

import "fmt"

// CancelledError is returned when the run-wide stop flag was observed before
// or during an attempt. It never triggers a retry.
type CancelledError struct {
	ParentRuntime string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run %s was stopped", e.ParentRuntime)
}

// TargetInvalidError is raised when target resolution cannot proceed, e.g. a
// device_query produced values with no matching device.
type TargetInvalidError struct {
	Query    string
	NotFound []string
}

func (e *TargetInvalidError) Error() string {
	return fmt.Sprintf("device query %q could not resolve: %v", e.Query, e.NotFound)
}

// ConfigurationError is raised for static misconfiguration of a service or
// run, e.g. per_device without targets, or iteration_devices outside a workflow.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// BodyError wraps a panic/error raised from inside a service job body.
type BodyError struct {
	Service string
	Device  string
	Cause   error
}

func (e *BodyError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("service %s failed on device %s: %v", e.Service, e.Device, e.Cause)
	}
	return fmt.Sprintf("service %s failed: %v", e.Service, e.Cause)
}

func (e *BodyError) Unwrap() error { return e.Cause }

// ConversionError is raised when the conversion step (text/json/xml) fails to
// normalize a result value.
type ConversionError struct {
	Method string
	Cause  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion to %s failed: %v", e.Method, e.Cause)
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// ValidationFailureError is raised when a result fails the configured
// validation method. It is not itself a Go error returned up the stack in
// the common case (validation failure is recorded in the result), but is
// exposed for callers that want to treat it as an error value.
type ValidationFailureError struct {
	Method string
	Detail string
}

func (e *ValidationFailureError) Error() string {
	return fmt.Sprintf("validation (%s) failed: %s", e.Method, e.Detail)
}

// CommitError is raised when the object-store session fails to commit.
type CommitError struct {
	Cause error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed: %v", e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }

// NotificationError is attached to a result's notification field; it never
// fails the run.
type NotificationError struct {
	Transport string
	Cause     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification via %s failed: %v", e.Transport, e.Cause)
}

func (e *NotificationError) Unwrap() error { return e.Cause }

// PermissionError is raised by RBAC checks inside expression-host helpers.
type PermissionError struct {
	User      string
	Operation string
	Model     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not permitted to %s %s", e.User, e.Operation, e.Model)
}
