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

// Package definition parses the on-disk YAML descriptions of services and
// workflows and converts them into the engine's runtime types. The job
// body itself is code, registered separately by name; the YAML carries
// every behavioral knob around it.
package definition

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netrunner/netrunner/internal/runner"
	"github.com/netrunner/netrunner/pkg/errors"
)

// ServiceSpec is the YAML shape of one service definition.
type ServiceSpec struct {
	// ID is the stable service identifier used in run paths.
	ID string `yaml:"id"`

	// Name is the human-facing service name.
	Name string `yaml:"name"`

	// Job names the registered job body to execute.
	Job string `yaml:"job"`

	RunMethod       string `yaml:"run_method"`
	Multiprocessing bool   `yaml:"multiprocessing"`
	MaxProcesses    int    `yaml:"max_processes"`

	NumberOfRetries    int    `yaml:"number_of_retries"`
	MaxNumberOfRetries int    `yaml:"max_number_of_retries"`
	TimeBetweenRetries string `yaml:"time_between_retries"`
	WaitingTime        string `yaml:"waiting_time"`

	ConversionMethod    string         `yaml:"conversion_method"`
	ValidationMethod    string         `yaml:"validation_method"`
	ValidationCondition string         `yaml:"validation_condition"`
	ContentMatch        string         `yaml:"content_match"`
	ContentMatchRegex   bool           `yaml:"content_match_regex"`
	DeleteSpaces        bool           `yaml:"delete_spaces_before_matching"`
	DictMatch           map[string]any `yaml:"dict_match"`
	NegativeLogic       bool           `yaml:"negative_logic"`

	PostprocessingMode string `yaml:"postprocessing_mode"`
	Preprocessing      string `yaml:"preprocessing"`
	Postprocessing     string `yaml:"postprocessing"`

	SkipQuery string `yaml:"skip_query"`
	SkipValue string `yaml:"skip_value"`

	IterationValues          []any  `yaml:"iteration_values"`
	IterationVariableName    string `yaml:"iteration_variable_name"`
	IterationDevices         string `yaml:"iteration_devices"`
	IterationDevicesProperty string `yaml:"iteration_devices_property"`

	TargetPools         []string `yaml:"target_pools"`
	UpdateTargetPools   bool     `yaml:"update_target_pools"`
	DeviceQuery         string   `yaml:"device_query"`
	DeviceQueryProperty string   `yaml:"device_query_property"`

	StartNewConnection bool   `yaml:"start_new_connection"`
	ConnectionName     string `yaml:"connection_name"`
	ConnectionProtocol string `yaml:"connection_protocol"`

	SendNotification        bool   `yaml:"send_notification"`
	IncludeDeviceResults    bool   `yaml:"include_device_results"`
	NotificationTransport   string `yaml:"notification_transport"`
	NotificationHeader      string `yaml:"notification_header"`
	NotificationDestination string `yaml:"notification_destination"`

	UpdatePoolsAfterRunning bool `yaml:"update_pools_after_running"`
}

// WorkflowSpec is the YAML shape of one workflow definition: an ordered
// composition of services.
type WorkflowSpec struct {
	Name string `yaml:"name"`

	// Services are the member service ids, executed in order.
	Services []string `yaml:"services"`

	// RunMethod selects how targets are computed for member services;
	// "per_service_with_service_targets" makes each service use its own
	// target knobs instead of the workflow's.
	RunMethod string `yaml:"workflow_run_method"`

	// SkipDevices lists devices the workflow excludes before any
	// service-level skip query runs.
	SkipDevices []string `yaml:"skip_devices"`
}

// ParseService decodes and validates one service spec.
func ParseService(data []byte) (*ServiceSpec, error) {
	var spec ServiceSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &errors.ValidationError{Field: "service", Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ParseWorkflow decodes and validates one workflow spec.
func ParseWorkflow(data []byte) (*WorkflowSpec, error) {
	var spec WorkflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &errors.ValidationError{Field: "workflow", Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if spec.Name == "" {
		return nil, &errors.ValidationError{Field: "name", Message: "workflow name is required"}
	}
	if len(spec.Services) == 0 {
		return nil, &errors.ValidationError{Field: "services", Message: "a workflow needs at least one service"}
	}
	return &spec, nil
}

// Validate checks field constraints that YAML decoding cannot express.
func (s *ServiceSpec) Validate() error {
	if s.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "service name is required"}
	}
	switch s.RunMethod {
	case "", "once", "per_device":
	default:
		return &errors.ValidationError{Field: "run_method", Message: fmt.Sprintf("unknown value %q", s.RunMethod)}
	}
	switch s.ConversionMethod {
	case "", "none", "text", "json", "xml":
	default:
		return &errors.ValidationError{Field: "conversion_method", Message: fmt.Sprintf("unknown value %q", s.ConversionMethod)}
	}
	switch s.ValidationMethod {
	case "", "text", "dict_equal", "dict_included":
	default:
		return &errors.ValidationError{Field: "validation_method", Message: fmt.Sprintf("unknown value %q", s.ValidationMethod)}
	}
	switch s.SkipValue {
	case "", "success", "failure", "discard":
	default:
		return &errors.ValidationError{Field: "skip_value", Message: fmt.Sprintf("unknown value %q", s.SkipValue)}
	}
	if s.MaxProcesses < 0 {
		return &errors.ValidationError{Field: "max_processes", Message: "must not be negative"}
	}
	if s.NumberOfRetries < 0 || s.MaxNumberOfRetries < 0 {
		return &errors.ValidationError{Field: "number_of_retries", Message: "retry counts must not be negative"}
	}
	for _, field := range []struct{ name, value string }{
		{"time_between_retries", s.TimeBetweenRetries},
		{"waiting_time", s.WaitingTime},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return &errors.ValidationError{Field: field.name, Message: fmt.Sprintf("invalid duration %q", field.value)}
		}
	}
	return nil
}

// Runtime converts the spec to the engine's service definition, resolving
// the named job through jobs. A spec whose job is unregistered fails.
func (s *ServiceSpec) Runtime(jobs map[string]runner.Job) (*runner.ServiceDefinition, error) {
	var job runner.Job
	if s.Job != "" {
		var ok bool
		job, ok = jobs[s.Job]
		if !ok {
			return nil, &errors.NotFoundError{Resource: "job", ID: s.Job}
		}
	}

	id := s.ID
	if id == "" {
		id = s.Name
	}
	def := &runner.ServiceDefinition{
		ID:   id,
		Name: s.Name,
		Job:  job,

		RunMethod:       runner.RunMethod(defaultString(s.RunMethod, "per_device")),
		Multiprocessing: s.Multiprocessing,
		MaxProcesses:    s.MaxProcesses,

		NumberOfRetries:    s.NumberOfRetries,
		MaxNumberOfRetries: s.MaxNumberOfRetries,
		TimeBetweenRetries: parseDuration(s.TimeBetweenRetries),
		WaitingTime:        parseDuration(s.WaitingTime),

		ConversionMethod:           runner.ConversionMethod(defaultString(s.ConversionMethod, "none")),
		ValidationMethod:           runner.ValidationMethod(s.ValidationMethod),
		ValidationCondition:        runner.ValidationCondition(defaultString(s.ValidationCondition, "always")),
		ContentMatch:               s.ContentMatch,
		ContentMatchRegex:          s.ContentMatchRegex,
		DeleteSpacesBeforeMatching: s.DeleteSpaces,
		DictMatch:                  s.DictMatch,
		NegativeLogic:              s.NegativeLogic,

		PostprocessingMode: runner.PostprocessingMode(defaultString(s.PostprocessingMode, "always")),
		Preprocessing:      s.Preprocessing,
		Postprocessing:     s.Postprocessing,

		SkipQuery: s.SkipQuery,
		SkipValue: runner.SkipValue(defaultString(s.SkipValue, "discard")),

		IterationValues:          s.IterationValues,
		IterationVariableName:    s.IterationVariableName,
		IterationDevices:         s.IterationDevices,
		IterationDevicesProperty: s.IterationDevicesProperty,

		TargetPools:         s.TargetPools,
		UpdateTargetPools:   s.UpdateTargetPools,
		DeviceQuery:         s.DeviceQuery,
		DeviceQueryProperty: s.DeviceQueryProperty,

		StartNewConnection: s.StartNewConnection,
		ConnectionName:     s.ConnectionName,
		ConnectionProtocol: s.ConnectionProtocol,

		SendNotification:        s.SendNotification,
		IncludeDeviceResults:    s.IncludeDeviceResults,
		NotificationTransport:   runner.NotificationTransport(s.NotificationTransport),
		NotificationHeader:      s.NotificationHeader,
		NotificationDestination: s.NotificationDestination,

		UpdatePoolsAfterRunning: s.UpdatePoolsAfterRunning,
	}
	return def, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func parseDuration(v string) time.Duration {
	if v == "" {
		return 0
	}
	d, _ := time.ParseDuration(v)
	return d
}
