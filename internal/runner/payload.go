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

import "sync"

// Payload is the mutable JSON document shared across a run tree:
// {form?, variables: {<name>: <value>, devices: {<device name>: {<name>:
// <value>}}}}.
//
// Writes from parallel per-device workers should target device-scoped
// subtrees to avoid contention; the caller is responsible for serializing
// global writes. Payload only guarantees that concurrent device-scoped
// writes to different devices don't corrupt the map.
type Payload struct {
	mu        sync.Mutex
	Form      map[string]any
	Variables map[string]any
	Devices   map[string]map[string]any
}

// NewPayload returns an empty, ready-to-use Payload.
func NewPayload() *Payload {
	return &Payload{
		Form:      map[string]any{},
		Variables: map[string]any{},
		Devices:   map[string]map[string]any{},
	}
}

// Get reads a global variable.
func (p *Payload) Get(name string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.Variables[name]
	return v, ok
}

// Set writes a global variable. Callers running in parallel must serialize
// their own calls if ordering matters; Set only guarantees the map itself
// isn't corrupted.
func (p *Payload) Set(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Variables[name] = value
}

// GetDeviceVar reads a device-scoped variable.
func (p *Payload) GetDeviceVar(device, name string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev, ok := p.Devices[device]
	if !ok {
		return nil, false
	}
	v, ok := dev[name]
	return v, ok
}

// SetDeviceVar writes a device-scoped variable. Safe to call concurrently
// from different per-device workers.
func (p *Payload) SetDeviceVar(device, name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev, ok := p.Devices[device]
	if !ok {
		dev = map[string]any{}
		p.Devices[device] = dev
	}
	dev[name] = value
}

// Snapshot returns a shallow copy of the variable scope suitable for
// expression evaluation: global variables merged with (if device != "")
// the device-scoped overlay.
func (p *Payload) Snapshot(device string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	scope := make(map[string]any, len(p.Variables)+1)
	for k, v := range p.Variables {
		scope[k] = v
	}
	if device != "" {
		if dev, ok := p.Devices[device]; ok {
			devCopy := make(map[string]any, len(dev))
			for k, v := range dev {
				devCopy[k] = v
			}
			scope["device_variables"] = devCopy
		}
	}
	return scope
}
