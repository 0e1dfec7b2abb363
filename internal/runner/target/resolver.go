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

package target

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/netrunner/netrunner/internal/runner/errors"
)

// EvalFunc evaluates a user device query against a variable scope.
type EvalFunc func(query string, scope map[string]any) (any, error)

// LookupFunc fetches one device by property value from the object store.
// The bool reports whether a device matched.
type LookupFunc func(ctx context.Context, property string, value any) (Device, bool, error)

// Params is one resolution request.
type Params struct {
	// Devices is the explicit target list.
	Devices []Device

	// Pools contribute their (optionally recomputed) membership.
	Pools             []*Pool
	UpdateTargetPools bool

	// DeviceQuery is a user expression producing devices or lookup keys;
	// DeviceQueryProperty names the device property the keys match
	// (default "name").
	DeviceQuery         string
	DeviceQueryProperty string

	// Scope is the variable scope the query evaluates against.
	Scope map[string]any

	// AllowedIDs is the creator's allowed-device set; nil allows
	// everything. Membership is checked by device id, then name.
	AllowedIDs map[string]bool

	Creator string
}

// Resolver computes ordered, de-duplicated device lists.
type Resolver struct {
	eval   EvalFunc
	lookup LookupFunc
	logger *slog.Logger
}

// New constructs a Resolver. logger may be nil.
func New(eval EvalFunc, lookup LookupFunc, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{eval: eval, lookup: lookup, logger: logger}
}

// Resolve runs the resolution procedure: explicit list, pool union, query
// expansion, ACL filter, ordered dedup. Unresolved query values fail the
// resolution; devices removed by the ACL are logged and dropped.
func (r *Resolver) Resolve(ctx context.Context, p Params) ([]Device, error) {
	devices := append([]Device{}, p.Devices...)

	for _, pool := range p.Pools {
		if pool == nil {
			continue
		}
		if p.UpdateTargetPools {
			if err := pool.ComputePool(); err != nil {
				return nil, fmt.Errorf("target: recompute pool %s: %w", pool.Name, err)
			}
		}
		devices = append(devices, pool.Devices...)
	}

	if p.DeviceQuery != "" {
		queried, err := r.fromQuery(ctx, p)
		if err != nil {
			return nil, err
		}
		devices = append(devices, queried...)
	}

	devices = r.filterAllowed(devices, p)
	return dedup(devices), nil
}

// fromQuery evaluates the device query and turns each produced value into
// a Device: values that already are devices pass through, structured rows
// are drilled to their lookup key, and scalars are looked up by the query
// property. Values with no matching device accumulate into one fatal
// diagnostic.
func (r *Resolver) fromQuery(ctx context.Context, p Params) ([]Device, error) {
	if r.eval == nil {
		return nil, &errors.ConfigurationError{Reason: "device_query set but no evaluator configured"}
	}
	value, err := r.eval(p.DeviceQuery, p.Scope)
	if err != nil {
		return nil, fmt.Errorf("target: evaluate device query %q: %w", p.DeviceQuery, err)
	}

	values, ok := value.([]any)
	if !ok {
		values = []any{value}
	}

	property := p.DeviceQueryProperty
	if property == "" {
		property = "name"
	}

	var out []Device
	var notFound []string
	for _, v := range values {
		switch item := v.(type) {
		case Device:
			out = append(out, item)
			continue
		case *Device:
			if item != nil {
				out = append(out, *item)
			}
			continue
		case map[string]any, []any:
			keys, err := extractKeys(property, item)
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				d, ok, err := r.find(ctx, lookupProperty(property), key)
				if err != nil {
					return nil, err
				}
				if !ok {
					notFound = append(notFound, fmt.Sprint(key))
					continue
				}
				out = append(out, d)
			}
			continue
		}

		d, ok, err := r.find(ctx, property, v)
		if err != nil {
			return nil, err
		}
		if !ok {
			notFound = append(notFound, fmt.Sprint(v))
			continue
		}
		out = append(out, d)
	}

	if len(notFound) > 0 {
		return nil, &errors.TargetInvalidError{Query: p.DeviceQuery, NotFound: notFound}
	}
	return out, nil
}

func (r *Resolver) find(ctx context.Context, property string, value any) (Device, bool, error) {
	if r.lookup == nil {
		return Device{}, false, &errors.ConfigurationError{Reason: "device_query set but no device lookup configured"}
	}
	d, ok, err := r.lookup(ctx, property, value)
	if err != nil {
		return Device{}, false, fmt.Errorf("target: lookup device by %s=%v: %w", property, value, err)
	}
	return d, ok, nil
}

// filterAllowed drops devices outside the creator's allowed set. Removal
// is logged, never fatal.
func (r *Resolver) filterAllowed(devices []Device, p Params) []Device {
	if p.AllowedIDs == nil {
		return devices
	}
	kept := devices[:0]
	var removed []string
	for _, d := range devices {
		if p.AllowedIDs[d.ID] || p.AllowedIDs[d.Name] {
			kept = append(kept, d)
			continue
		}
		removed = append(removed, d.Name)
	}
	if len(removed) > 0 {
		r.logger.Warn("devices removed by target ACL",
			"creator", p.Creator, "devices", removed)
	}
	return kept
}

// dedup keeps the first occurrence of each device, preserving order.
// Identity is the device id when set, otherwise the name.
func dedup(devices []Device) []Device {
	seen := make(map[string]bool, len(devices))
	out := devices[:0]
	for _, d := range devices {
		key := d.ID
		if key == "" {
			key = d.Name
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}
