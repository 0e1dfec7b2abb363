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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task binds one trigger descriptor to a service invocation.
type Task struct {
	// Name identifies the task in logs and the API.
	Name string

	// Service is the service id the task fires.
	Service string

	// Frequency fires the task at a fixed interval; zero disables it.
	Frequency time.Duration

	// CalendarExpression fires the task on a cron schedule; empty
	// disables it. A task with neither knob is one-shot.
	CalendarExpression string

	// Active gates firing; a one-shot task flips inactive after its run.
	Active bool
}

// OneShot reports whether the task has no recurrence.
func (t *Task) OneShot() bool {
	return t.Frequency == 0 && t.CalendarExpression == ""
}

// StartFunc launches one service run on behalf of a due task.
type StartFunc func(ctx context.Context, task *Task) error

// Scheduler polls registered tasks and fires the due ones.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	next   map[string]time.Time
	start  StartFunc
	logger *slog.Logger

	// Interval is the poll cadence; defaults to 30s.
	Interval time.Duration
}

// New constructs a Scheduler firing runs through start.
func New(start StartFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:    map[string]*Task{},
		next:     map[string]time.Time{},
		start:    start,
		logger:   logger,
		Interval: 30 * time.Second,
	}
}

// Register adds or replaces a task and computes its first due time.
func (s *Scheduler) Register(task *Task) error {
	if task.Name == "" || task.Service == "" {
		return fmt.Errorf("scheduler: task needs a name and a service")
	}
	var cal *Calendar
	if task.CalendarExpression != "" {
		var err error
		cal, err = ParseCalendar(task.CalendarExpression)
		if err != nil {
			return fmt.Errorf("scheduler: task %s: %w", task.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name] = task
	now := time.Now()
	switch {
	case task.Frequency > 0:
		s.next[task.Name] = now.Add(task.Frequency)
	case cal != nil:
		s.next[task.Name] = cal.Next(now)
	default:
		// One-shot: due immediately once activated.
		s.next[task.Name] = now
	}
	return nil
}

// Remove drops a task.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
	delete(s.next, name)
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

// fireDue starts every active task whose due time has passed and advances
// its next occurrence.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*Task
	for name, task := range s.tasks {
		if !task.Active {
			continue
		}
		next, ok := s.next[name]
		if !ok || next.IsZero() || next.After(now) {
			continue
		}
		due = append(due, task)
		switch {
		case task.Frequency > 0:
			s.next[name] = now.Add(task.Frequency)
		case task.CalendarExpression != "":
			if cal, err := ParseCalendar(task.CalendarExpression); err == nil {
				s.next[name] = cal.Next(now)
			}
		default:
			task.Active = false
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		if err := s.start(ctx, task); err != nil {
			s.logger.Error("scheduled run failed to start",
				"task", task.Name, "service", task.Service, "error", err)
		}
	}
}
