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
	"fmt"

	"github.com/netrunner/netrunner/internal/runner/errors"
	"github.com/netrunner/netrunner/internal/runner/expression"
)

// RBAC is the per-operation model whitelist consulted by the database
// helpers exposed to user expressions. A nil RBAC allows everything; an
// RBAC with no entry for an operation denies that operation entirely.
type RBAC struct {
	// Allowed maps operation name (fetch, fetch_all, factory, delete) to
	// the set of model names that operation may touch.
	Allowed map[string]map[string]bool
}

// Check returns a PermissionError unless user may perform operation on model.
func (r *RBAC) Check(user, operation, model string) error {
	if r == nil {
		return nil
	}
	if r.Allowed[operation][model] {
		return nil
	}
	return &errors.PermissionError{User: user, Operation: operation, Model: model}
}

// Scope assembles the variable scope one expression evaluation runs
// against: global payload variables, then the device-scoped overlay, then
// caller locals, then the helper bindings. Device may be nil.
func (r *Runner) Scope(device *Device, locals map[string]any) map[string]any {
	deviceName := ""
	if device != nil {
		deviceName = device.Name
	}
	payloadScope := r.Payload.Snapshot(deviceName)

	merged := make(map[string]any, len(locals)+8)
	for k, v := range locals {
		merged[k] = v
	}
	if device != nil {
		merged["device"] = map[string]any{
			"id":         device.ID,
			"name":       device.Name,
			"ip_address": device.IPAddress,
			"port":       device.Port,
		}
	}
	merged["runtime"] = r.Runtime
	merged["parent_runtime"] = r.ParentRuntime
	if r.Workflow != "" {
		merged["workflow"] = r.Workflow
	}
	if r.ParentDevice != "" {
		merged["parent_device"] = r.ParentDevice
	}
	if r.Placeholder != nil {
		merged["placeholder"] = map[string]any{
			"id":          r.Placeholder.ID,
			"scoped_name": r.Placeholder.ScopedName,
			"type":        r.Placeholder.Type,
		}
	}

	scope := r.engine.Expr.BuildScope(merged, payloadScope, nil)
	for name, fn := range r.helperBindings(deviceName) {
		scope[name] = fn
	}
	return scope
}

// helperBindings builds the per-run helper closures. Each database helper
// is gated by the engine's RBAC whitelist for its operation; the rest wrap
// the payload, the secret service, and the notification transports.
func (r *Runner) helperBindings(deviceName string) map[string]expression.HelperFunc {
	e := r.engine
	ctx := r.ctx

	helpers := map[string]expression.HelperFunc{
		"get_var": func(args ...any) (any, error) {
			name, err := stringArg("get_var", args, 0)
			if err != nil {
				return nil, err
			}
			if deviceName != "" {
				if v, ok := r.Payload.GetDeviceVar(deviceName, name); ok {
					return v, nil
				}
			}
			v, _ := r.Payload.Get(name)
			return v, nil
		},
		"set_var": func(args ...any) (any, error) {
			name, err := stringArg("set_var", args, 0)
			if err != nil {
				return nil, err
			}
			if len(args) < 2 {
				return nil, fmt.Errorf("set_var requires a value")
			}
			if deviceName != "" {
				r.Payload.SetDeviceVar(deviceName, name, args[1])
			} else {
				r.Payload.Set(name, args[1])
			}
			return args[1], nil
		},
		"log": func(args ...any) (any, error) {
			msg, err := stringArg("log", args, 0)
			if err != nil {
				return nil, err
			}
			e.logger.Info(msg, "runtime", r.Runtime, "path", r.Path)
			r.AddLog(msg)
			return nil, nil
		},
		"settings": func(...any) (any, error) {
			return e.Settings, nil
		},
		"devices": func(...any) (any, error) {
			names := make([]string, len(r.Devices))
			for i, d := range r.Devices {
				names[i] = d.Name
			}
			return names, nil
		},
	}

	if e.Objects != nil {
		helpers["fetch"] = func(args ...any) (any, error) {
			model, filters, err := modelArgs("fetch", args)
			if err != nil {
				return nil, err
			}
			if err := e.RBAC.Check(r.Creator, "fetch", model); err != nil {
				return nil, err
			}
			v, _, err := r.objects().Fetch(ctx, model, filters)
			return v, err
		}
		helpers["fetch_all"] = func(args ...any) (any, error) {
			model, _, err := modelArgs("fetch_all", args)
			if err != nil {
				return nil, err
			}
			if err := e.RBAC.Check(r.Creator, "fetch_all", model); err != nil {
				return nil, err
			}
			return r.objects().FetchAll(ctx, model)
		}
		helpers["factory"] = func(args ...any) (any, error) {
			model, fields, err := modelArgs("factory", args)
			if err != nil {
				return nil, err
			}
			if err := e.RBAC.Check(r.Creator, "factory", model); err != nil {
				return nil, err
			}
			return r.objects().Factory(ctx, model, fields)
		}
		helpers["delete"] = func(args ...any) (any, error) {
			model, filters, err := modelArgs("delete", args)
			if err != nil {
				return nil, err
			}
			if err := e.RBAC.Check(r.Creator, "delete", model); err != nil {
				return nil, err
			}
			return nil, r.objects().Delete(ctx, model, filters)
		}
		helpers["get_credential"] = func(args ...any) (any, error) {
			device := deviceName
			credType := ""
			if len(args) > 0 {
				device = fmt.Sprint(args[0])
			}
			if len(args) > 1 {
				credType = fmt.Sprint(args[1])
			}
			return r.objects().GetCredential(ctx, r.Creator, device, credType)
		}
		helpers["get_result"] = func(args ...any) (any, error) {
			service, err := stringArg("get_result", args, 0)
			if err != nil {
				return nil, err
			}
			filters := map[string]any{
				"service":        service,
				"parent_runtime": r.ParentRuntime,
			}
			if len(args) > 1 {
				filters["device"] = fmt.Sprint(args[1])
			}
			v, _, err := r.objects().Fetch(ctx, "result", filters)
			return v, err
		}
	}

	if e.Secrets != nil {
		helpers["encrypt"] = func(args ...any) (any, error) {
			plaintext, err := stringArg("encrypt", args, 0)
			if err != nil {
				return nil, err
			}
			return e.Secrets.EncryptPassword(ctx, plaintext)
		}
	}

	if e.Notify != nil && e.Notify.Email != nil {
		helpers["send_email"] = func(args ...any) (any, error) {
			if len(args) < 3 {
				return nil, fmt.Errorf("send_email requires to, subject, body")
			}
			to := fmt.Sprint(args[0])
			subject := fmt.Sprint(args[1])
			body := fmt.Sprint(args[2])
			return nil, e.Notify.Email.Send(ctx, to, subject, body, nil)
		}
	}

	return helpers
}

func stringArg(helper string, args []any, i int) (string, error) {
	if len(args) <= i {
		return "", fmt.Errorf("%s requires at least %d argument(s)", helper, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string, got %T", helper, i+1, args[i])
	}
	return s, nil
}

func modelArgs(helper string, args []any) (string, map[string]any, error) {
	model, err := stringArg(helper, args, 0)
	if err != nil {
		return "", nil, err
	}
	filters := map[string]any{}
	if len(args) > 1 {
		m, ok := args[1].(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("%s: filters must be a map, got %T", helper, args[1])
		}
		filters = m
	}
	return model, filters, nil
}
