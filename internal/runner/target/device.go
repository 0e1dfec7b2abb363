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

// Package target computes the effective device set for one service run:
// explicit lists, named pools, and user-supplied query expressions, with
// per-user ACL filtering applied last.
package target

import "sort"

// Device is the slice of the persisted device entity the engine needs:
// identity, addressing, the per-transport-family driver names, and the
// captured configuration history.
type Device struct {
	ID        string
	Name      string
	IPAddress string
	Port      int

	// Driver names per transport family; empty means the family default.
	CLIDriver        string
	StreamingDriver  string
	ManagementDriver string
	NetconfDriver    string

	// Configurations is the capture history, newest last.
	Configurations []TimestampedConfig
}

// TimestampedConfig is one captured configuration text.
type TimestampedConfig struct {
	Timestamp string
	Text      string
}

// LatestConfiguration returns the most recent capture, or "" when the
// device has none.
func (d *Device) LatestConfiguration() string {
	if len(d.Configurations) == 0 {
		return ""
	}
	sorted := make([]TimestampedConfig, len(d.Configurations))
	copy(sorted, d.Configurations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	return sorted[len(sorted)-1].Text
}

// Pool is a named, possibly computed, set of devices. Membership is
// materialized in Devices; Compute refreshes it when set.
type Pool struct {
	ID      string
	Name    string
	Devices []Device

	// Compute recalculates membership. Nil pools are static.
	Compute func() ([]Device, error)
}

// ComputePool refreshes the pool's materialized membership.
func (p *Pool) ComputePool() error {
	if p.Compute == nil {
		return nil
	}
	devices, err := p.Compute()
	if err != nil {
		return err
	}
	p.Devices = devices
	return nil
}
