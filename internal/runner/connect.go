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
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/netrunner/netrunner/internal/runner/connection"
	"github.com/netrunner/netrunner/internal/runner/protocol"
)

// DriverOpener opens the native driver handle for one device on one
// transport family. Registered per family on the Engine.
type DriverOpener func(ctx context.Context, device *Device) (any, error)

var openLimiters sync.Map // device name -> *rate.Limiter

// openLimiter throttles session opens per device so a retry storm cannot
// hammer a struggling box.
func openLimiter(device string) *rate.Limiter {
	if l, ok := openLimiters.Load(device); ok {
		return l.(*rate.Limiter)
	}
	l, _ := openLimiters.LoadOrStore(device, rate.NewLimiter(rate.Limit(2), 4))
	return l.(*rate.Limiter)
}

// RegisterDriver installs the opener for one transport family.
func (e *Engine) RegisterDriver(family protocol.Family, open DriverOpener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drivers == nil {
		e.drivers = map[protocol.Family]DriverOpener{}
	}
	e.drivers[family] = open
}

func (e *Engine) driver(family protocol.Family) (DriverOpener, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	open, ok := e.drivers[family]
	return open, ok
}

// Connection returns a cached-or-fresh session to device on the service's
// configured transport family, honoring start_new_connection and the
// connection-name namespace. Job bodies call this; teardown happens run-wide
// when the top-level runner finishes.
func (r *Runner) Connection(device *Device) (protocol.Session, error) {
	e := r.engine
	svc := r.Service

	family := protocol.Family(svc.ConnectionProtocol)
	if family == "" {
		family = protocol.FamilyCLI
	}
	open, ok := e.driver(family)
	if !ok {
		return nil, fmt.Errorf("runner: no driver registered for transport family %q", family)
	}

	name := svc.ConnectionName
	if name == "" {
		name = "default"
	}
	key := connection.Key{
		Protocol:       string(family),
		ParentRuntime:  r.ParentRuntime,
		Device:         device.Name,
		ConnectionName: name,
	}

	opened := false
	session, err := e.Connections.Get(r.ctx, key, svc.StartNewConnection, func(ctx context.Context, _ connection.Key) (connection.Session, error) {
		opened = true
		if err := openLimiter(device.Name).Wait(ctx); err != nil {
			return nil, err
		}
		handle, err := open(ctx, device)
		if err != nil {
			return nil, err
		}
		return protocol.Wrap(family, handle)
	})
	if err != nil {
		return nil, err
	}
	if m := e.Metrics; m != nil {
		if opened {
			m.ConnectionMisses.Inc()
		} else {
			m.ConnectionHits.Inc()
		}
	}

	ps, ok := session.(protocol.Session)
	if !ok {
		return nil, fmt.Errorf("runner: cached session for %s is not a transport session", device.Name)
	}
	return ps, nil
}
