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

package fanout

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	mu                          sync.Mutex
	total, success, failure, skipped int
}

func (c *counters) Scope() string { return "device" }
func (c *counters) Total(_ context.Context, d int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += d
	return nil
}
func (c *counters) Success(_ context.Context, d int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.success += d
	return nil
}
func (c *counters) Failure(_ context.Context, d int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure += d
	return nil
}
func (c *counters) Skipped(_ context.Context, d int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipped += d
	return nil
}

func TestRun_OnceMethodAttributesSingleAttemptToEveryTarget(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "d1"}, {Name: "d2"}, {Name: "d3"}}
	calls := 0

	result, err := Run(context.Background(), c, Config{RunMethod: RunMethodOnce}, targets,
		func(ctx context.Context, device *Device) Attempt {
			calls++
			require.Nil(t, device)
			return Attempt{Success: true, Result: "ok"}
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, result.Success)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, result.Summary.Success)
	assert.Empty(t, result.Summary.Failure)
	assert.Equal(t, 3, c.total)
	assert.Equal(t, 3, c.success)
}

func TestRun_SummaryReflectsCompletionOrderNotSortedOrder(t *testing.T) {
	c := &counters{}
	// Deliberately non-alphabetical: a sequential run completes in target
	// order, so any re-sorting of the summary would reorder these.
	targets := []Device{{Name: "zulu"}, {Name: "alpha"}, {Name: "mike"}}

	result, err := Run(context.Background(), c, Config{RunMethod: RunMethodPerDevice}, targets,
		func(ctx context.Context, device *Device) Attempt {
			return Attempt{Success: true}
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, result.Summary.Success)
}

func TestRun_ParallelSummaryContainsEveryDevice(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "d1"}, {Name: "d2"}, {Name: "d3"}, {Name: "d4"}}

	result, err := Run(context.Background(), c, Config{
		RunMethod:       RunMethodPerDevice,
		Multiprocessing: true,
		MaxProcesses:    4,
	}, targets, func(ctx context.Context, device *Device) Attempt {
		return Attempt{Success: device.Name != "d3"}
	}, nil)

	require.NoError(t, err)
	// Parallel completion order is unordered; only membership is promised.
	assert.ElementsMatch(t, []string{"d1", "d2", "d4"}, result.Summary.Success)
	assert.Equal(t, []string{"d3"}, result.Summary.Failure)
}

func TestRun_PerDeviceMixedOutcomeAggregatesFailure(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "A"}, {Name: "B"}}

	result, err := Run(context.Background(), c, Config{RunMethod: RunMethodPerDevice}, targets,
		func(ctx context.Context, device *Device) Attempt {
			if device.Name == "A" {
				return Attempt{Success: true, Result: "ok"}
			}
			return Attempt{Success: false, Result: "boom"}
		}, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"A"}, result.Summary.Success)
	assert.Equal(t, []string{"B"}, result.Summary.Failure)
	assert.Equal(t, 1, c.success)
	assert.Equal(t, 1, c.failure)
}

func TestRun_SkipQueryDiscardsOrRecordsSynthetic(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "A"}, {Name: "B"}}
	var sunk []Attempt

	result, err := Run(context.Background(), c, Config{
		RunMethod: RunMethodPerDevice,
		SkipValue: SkipAsSuccess,
		Skip: func(ctx context.Context, d Device) (bool, error) {
			return d.Name == "A", nil
		},
	}, targets,
		func(ctx context.Context, device *Device) Attempt {
			return Attempt{Success: true, Result: "ran"}
		}, func(device *Device, a Attempt) { sunk = append(sunk, a) })

	require.NoError(t, err)
	assert.Contains(t, result.Summary.Success, "A")
	assert.Contains(t, result.Summary.Success, "B")
	assert.Equal(t, 1, c.skipped)
	require.Len(t, sunk, 2)
}

func TestRun_SkipDiscardRemovesDeviceEntirely(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "A"}, {Name: "B"}}
	var sunk []string

	result, err := Run(context.Background(), c, Config{
		RunMethod: RunMethodPerDevice,
		SkipValue: SkipDiscard,
		Skip: func(ctx context.Context, d Device) (bool, error) {
			return d.Name == "A", nil
		},
	}, targets,
		func(ctx context.Context, device *Device) Attempt {
			return Attempt{Success: true}
		}, func(device *Device, a Attempt) { sunk = append(sunk, device.Name) })

	require.NoError(t, err)
	assert.NotContains(t, result.Summary.Success, "A")
	assert.NotContains(t, result.Summary.Failure, "A")
	assert.Equal(t, []string{"B"}, sunk)
	assert.Equal(t, 0, c.skipped)
}

func TestRun_MultiprocessingWithSingleDeviceDoesNotSpinPool(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "solo"}}

	result, err := Run(context.Background(), c, Config{
		RunMethod:       RunMethodPerDevice,
		Multiprocessing: true,
		MaxProcesses:    4,
	}, targets, func(ctx context.Context, device *Device) Attempt {
		return Attempt{Success: true}
	}, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRun_IterationSpawnsChildPerTargetAndRequiresWorkflow(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "x"}, {Name: "y"}}

	_, err := Run(context.Background(), c, Config{
		RunMethod: RunMethodPerDevice,
		Iteration: func(ctx context.Context, target Device) (bool, error) { return true, nil },
	}, targets, func(ctx context.Context, device *Device) Attempt { return Attempt{Success: true} }, nil)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	var invoked []string
	result, err := Run(context.Background(), c, Config{
		RunMethod:  RunMethodPerDevice,
		InWorkflow: true,
		Iteration: func(ctx context.Context, target Device) (bool, error) {
			invoked = append(invoked, target.Name)
			return target.Name == "x", nil
		},
	}, targets, func(ctx context.Context, device *Device) Attempt { return Attempt{Success: true} }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, invoked)
	assert.Equal(t, []string{"x"}, result.Summary.Success)
	assert.Equal(t, []string{"y"}, result.Summary.Failure)
}

func TestRun_IterationBypassesSkipFiltering(t *testing.T) {
	c := &counters{}
	targets := []Device{{Name: "x"}, {Name: "y"}}

	var invoked []string
	result, err := Run(context.Background(), c, Config{
		RunMethod:  RunMethodPerDevice,
		InWorkflow: true,
		SkipValue:  SkipDiscard,
		Skip: func(ctx context.Context, device Device) (bool, error) {
			return true, nil
		},
		Iteration: func(ctx context.Context, target Device) (bool, error) {
			invoked = append(invoked, target.Name)
			return true, nil
		},
	}, targets, func(ctx context.Context, device *Device) Attempt { return Attempt{Success: true} }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, invoked, "a skip query never filters iteration targets")
	assert.Equal(t, []string{"x", "y"}, result.Summary.Success)
}

func TestRun_PerDeviceWithNoTargetsIsConfigurationError(t *testing.T) {
	c := &counters{}
	_, err := Run(context.Background(), c, Config{RunMethod: RunMethodPerDevice}, nil,
		func(ctx context.Context, device *Device) Attempt { return Attempt{Success: true} }, nil)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
