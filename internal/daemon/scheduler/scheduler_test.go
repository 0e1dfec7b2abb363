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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalendar_Basics(t *testing.T) {
	c, err := ParseCalendar("0 9 * * 1-5")
	require.NoError(t, err)

	// Friday 8:59 -> Friday 9:00
	from := time.Date(2025, 6, 6, 8, 59, 0, 0, time.UTC)
	next := c.Next(from)
	assert.Equal(t, time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC), next)

	// Friday 9:01 -> Monday 9:00
	from = time.Date(2025, 6, 6, 9, 1, 0, 0, time.UTC)
	next = c.Next(from)
	assert.Equal(t, time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC), next)
}

func TestParseCalendar_StepsAndShorthands(t *testing.T) {
	c, err := ParseCalendar("*/15 * * * *")
	require.NoError(t, err)
	from := time.Date(2025, 6, 6, 10, 7, 0, 0, time.UTC)
	assert.Equal(t, 15, c.Next(from).Minute())

	_, err = ParseCalendar("@daily")
	require.NoError(t, err)

	_, err = ParseCalendar("61 * * * *")
	require.Error(t, err)

	_, err = ParseCalendar("* * *")
	require.Error(t, err)
}

func TestParseCalendar_ImpossibleDateNeverFires(t *testing.T) {
	c, err := ParseCalendar("0 0 30 2 *")
	require.NoError(t, err)
	assert.True(t, c.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).IsZero())
}

func TestScheduler_FiresDueFrequencyTask(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	s := New(func(_ context.Context, task *Task) error {
		mu.Lock()
		fired = append(fired, task.Name)
		mu.Unlock()
		return nil
	}, nil)

	task := &Task{Name: "poll", Service: "svc1", Frequency: time.Minute, Active: true}
	require.NoError(t, s.Register(task))

	// Not yet due.
	s.fireDue(context.Background(), time.Now())
	mu.Lock()
	assert.Empty(t, fired)
	mu.Unlock()

	// Jump past the due time.
	s.fireDue(context.Background(), time.Now().Add(2*time.Minute))
	mu.Lock()
	assert.Equal(t, []string{"poll"}, fired)
	mu.Unlock()
}

func TestScheduler_OneShotDeactivatesAfterFiring(t *testing.T) {
	fired := 0
	s := New(func(context.Context, *Task) error {
		fired++
		return nil
	}, nil)

	task := &Task{Name: "once", Service: "svc1", Active: true}
	require.NoError(t, s.Register(task))
	assert.True(t, task.OneShot())

	now := time.Now().Add(time.Second)
	s.fireDue(context.Background(), now)
	s.fireDue(context.Background(), now.Add(time.Hour))

	assert.Equal(t, 1, fired)
	assert.False(t, task.Active)
}

func TestScheduler_InactiveTaskNeverFires(t *testing.T) {
	fired := 0
	s := New(func(context.Context, *Task) error {
		fired++
		return nil
	}, nil)
	require.NoError(t, s.Register(&Task{Name: "off", Service: "svc1", Frequency: time.Second}))

	s.fireDue(context.Background(), time.Now().Add(time.Hour))
	assert.Zero(t, fired)
}

func TestScheduler_RegisterRejectsBadCron(t *testing.T) {
	s := New(func(context.Context, *Task) error { return nil }, nil)
	err := s.Register(&Task{Name: "bad", Service: "svc1", CalendarExpression: "not a cron"})
	require.Error(t, err)
}
