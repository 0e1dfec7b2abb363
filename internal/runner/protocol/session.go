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

// Package protocol adapts the four device-transport families the engine
// can cache sessions for (prompt-driven CLI, streaming CLI, vendor-agnostic
// management, NETCONF) to one uniform open/liveness/send/close contract.
// The concrete drivers are external collaborators; this package only wraps
// their native handle surface behind the Session shape the connection cache
// expects, including each family's own idea of a liveness probe.
package protocol

import (
	"context"
	"fmt"
)

// Family names the four supported transport families.
type Family string

const (
	FamilyCLI        Family = "cli"
	FamilyStreaming  Family = "streaming"
	FamilyManagement Family = "management"
	FamilyNetconf    Family = "netconf"
)

// Session is the uniform session handle the engine works with.
type Session interface {
	// Alive probes the underlying handle without disturbing its state.
	Alive(ctx context.Context) bool
	// Send submits one command or payload and returns the raw response.
	Send(ctx context.Context, payload string) (string, error)
	// Close releases the underlying resource.
	Close(ctx context.Context) error
}

// CLIDriver is the native surface of a prompt-driven CLI library. The
// liveness probe is a prompt discovery round-trip: any error means the
// channel is gone.
type CLIDriver interface {
	FindPrompt(ctx context.Context) (string, error)
	SendCommand(ctx context.Context, command string) (string, error)
	Disconnect(ctx context.Context) error
}

// CLISession wraps a CLIDriver.
type CLISession struct{ Driver CLIDriver }

func (s *CLISession) Alive(ctx context.Context) bool {
	_, err := s.Driver.FindPrompt(ctx)
	return err == nil
}

func (s *CLISession) Send(ctx context.Context, payload string) (string, error) {
	return s.Driver.SendCommand(ctx, payload)
}

func (s *CLISession) Close(ctx context.Context) error { return s.Driver.Disconnect(ctx) }

// StreamingDriver is the native surface of a streaming CLI library, which
// exposes the current prompt rather than rediscovering it per call.
type StreamingDriver interface {
	GetPrompt(ctx context.Context) (string, error)
	SendCommand(ctx context.Context, command string) (string, error)
	Close(ctx context.Context) error
}

// StreamingSession wraps a StreamingDriver.
type StreamingSession struct{ Driver StreamingDriver }

func (s *StreamingSession) Alive(ctx context.Context) bool {
	_, err := s.Driver.GetPrompt(ctx)
	return err == nil
}

func (s *StreamingSession) Send(ctx context.Context, payload string) (string, error) {
	return s.Driver.SendCommand(ctx, payload)
}

func (s *StreamingSession) Close(ctx context.Context) error { return s.Driver.Close(ctx) }

// ManagementDriver is the native surface of a vendor-agnostic management
// library, which carries its own liveness call.
type ManagementDriver interface {
	IsAlive(ctx context.Context) (bool, error)
	CLI(ctx context.Context, commands []string) (map[string]string, error)
	Close(ctx context.Context) error
}

// ManagementSession wraps a ManagementDriver.
type ManagementSession struct{ Driver ManagementDriver }

func (s *ManagementSession) Alive(ctx context.Context) bool {
	alive, err := s.Driver.IsAlive(ctx)
	return err == nil && alive
}

func (s *ManagementSession) Send(ctx context.Context, payload string) (string, error) {
	out, err := s.Driver.CLI(ctx, []string{payload})
	if err != nil {
		return "", err
	}
	return out[payload], nil
}

func (s *ManagementSession) Close(ctx context.Context) error { return s.Driver.Close(ctx) }

// NetconfDriver is the native surface of a NETCONF library, which tracks a
// connected flag instead of probing the channel.
type NetconfDriver interface {
	Connected() bool
	RPC(ctx context.Context, payload string) (string, error)
	Close(ctx context.Context) error
}

// NetconfSession wraps a NetconfDriver.
type NetconfSession struct{ Driver NetconfDriver }

func (s *NetconfSession) Alive(context.Context) bool { return s.Driver.Connected() }

func (s *NetconfSession) Send(ctx context.Context, payload string) (string, error) {
	return s.Driver.RPC(ctx, payload)
}

func (s *NetconfSession) Close(ctx context.Context) error { return s.Driver.Close(ctx) }

// Wrap adapts a family-specific driver value into a Session.
func Wrap(family Family, driver any) (Session, error) {
	switch family {
	case FamilyCLI:
		d, ok := driver.(CLIDriver)
		if !ok {
			return nil, fmt.Errorf("protocol: %T is not a CLI driver", driver)
		}
		return &CLISession{Driver: d}, nil
	case FamilyStreaming:
		d, ok := driver.(StreamingDriver)
		if !ok {
			return nil, fmt.Errorf("protocol: %T is not a streaming driver", driver)
		}
		return &StreamingSession{Driver: d}, nil
	case FamilyManagement:
		d, ok := driver.(ManagementDriver)
		if !ok {
			return nil, fmt.Errorf("protocol: %T is not a management driver", driver)
		}
		return &ManagementSession{Driver: d}, nil
	case FamilyNetconf:
		d, ok := driver.(NetconfDriver)
		if !ok {
			return nil, fmt.Errorf("protocol: %T is not a NETCONF driver", driver)
		}
		return &NetconfSession{Driver: d}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown family %q", family)
	}
}
