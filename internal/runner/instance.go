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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netrunner/netrunner/internal/runner/store"
)

// Status is a run's coarse lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Runner is one activation of one service: a value is created for a
// top-level run and one more for every nested (sub-service or iteration)
// run it spawns. Parameter lookups go through Param rather than direct
// field reads so run-scoped overrides can shadow the service definition.
type Runner struct {
	ID            string
	ParentRuntime string // run-tree root ID; shared by every nested Runner
	Runtime       string // this Runner's own ID (== ID)

	// Path is the arrow-joined chain of service ids from the root runner to
	// this one; unique within the tree rooted at ParentRuntime.
	Path string

	Service    *ServiceDefinition
	Payload    *Payload
	Devices    []Device
	Pools      []*Pool
	Creator    string
	IsStart    bool // true only for the top-level run
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time

	// Workflow names the surrounding workflow, when this run was spawned as
	// one of its services; empty for standalone invocations.
	Workflow string

	// IterationRun marks a Runner spawned to execute the iteration-device
	// set of one parent target.
	IterationRun bool

	// WorkflowSkip is the workflow-level per-device skip map consulted
	// before the service's own skip query.
	WorkflowSkip map[string]bool

	// AllowedTargets is the creator's allowed-device set for this run; nil
	// allows everything.
	AllowedTargets map[string]bool

	// Task describes the trigger that started this run, when any. A task
	// with neither a frequency nor a calendar expression is one-shot and is
	// marked inactive once the run finishes.
	Task *TriggerDescriptor

	// Placeholder identifies the service substituted into a parameterized
	// workflow slot, when this run fills one.
	Placeholder *PlaceholderRef

	// Results is the final aggregate, populated by Start.
	Results *AggregateResult

	// ParentDevice is set on a Runner spawned for one target device; empty
	// for pool-level or iteration-root runners.
	ParentDevice string

	// IterationIndex/IterationValue are set when this Runner was spawned to
	// run one value of a service's iteration_values/iteration_devices list.
	IterationIndex int
	IterationValue any

	engine *Engine
	parent *Runner // non-owning; nil for the top-level run

	// session is the run tree's single transactional object-store window,
	// opened by the top-level Runner and shared down to every child. All
	// writes a run issues stage here until the top-level finalize commits.
	session store.Session

	overrides map[string]any

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	logLines []string
}

// AddLog accumulates one line for the run's service log row.
func (r *Runner) AddLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logLines = append(r.logLines, line)
}

// LogLines snapshots the accumulated service log.
func (r *Runner) LogLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logLines))
	copy(out, r.logLines)
	return out
}

// TriggerDescriptor is read (never scheduled) by the runner: it carries the
// recurrence knobs of the task that started the run, plus the hook used to
// deactivate a one-shot task on completion.
type TriggerDescriptor struct {
	Frequency          time.Duration
	CalendarExpression string
	MarkInactive       func(ctx context.Context) error
}

// OneShot reports whether the descriptor has no recurrence at all.
func (t *TriggerDescriptor) OneShot() bool {
	return t != nil && t.Frequency == 0 && t.CalendarExpression == ""
}

// PlaceholderRef identifies the service standing in for a parameterized
// workflow slot.
type PlaceholderRef struct {
	ID         string
	ScopedName string
	Type       string
}

// NewRunner constructs a top-level Runner bound to engine.
func NewRunner(ctx context.Context, engine *Engine, service *ServiceDefinition, devices []Device, pools []*Pool, creator string) *Runner {
	id := uuid.New().String()[:8]
	runCtx, cancel := context.WithCancel(ctx)
	serviceID := ""
	if service != nil {
		serviceID = service.ID
	}
	return &Runner{
		ID:            id,
		ParentRuntime: id,
		Runtime:       id,
		Path:          serviceID,
		Service:       service,
		Payload:       NewPayload(),
		Devices:       devices,
		Pools:         pools,
		Creator:       creator,
		IsStart:       true,
		Status:        StatusPending,
		engine:        engine,
		overrides:     map[string]any{},
		ctx:           runCtx,
		cancel:        cancel,
		stopped:       make(chan struct{}),
	}
}

// Child spawns a nested Runner (a sub-workflow step, a per-device fan-out
// unit, or one iteration value) that shares this Runner's ParentRuntime and
// Payload but may carry its own overrides and ParentDevice. The child holds
// a non-owning reference to its parent: stopping the parent does not remove
// the child from the engine's registry, but the child does observe the
// parent's cancellation via ctx.
func (r *Runner) Child(service *ServiceDefinition, overrides map[string]any, parentDevice string) *Runner {
	id := uuid.New().String()[:8]
	childCtx, cancel := context.WithCancel(r.ctx)
	merged := make(map[string]any, len(overrides))
	for k, v := range overrides {
		merged[k] = v
	}
	serviceID := ""
	if service != nil {
		serviceID = service.ID
	}
	path := serviceID
	if r.Path != "" {
		path = r.Path + "->" + serviceID
	}
	child := &Runner{
		ID:             id,
		ParentRuntime:  r.ParentRuntime,
		Runtime:        id,
		Path:           path,
		Service:        service,
		Payload:        r.Payload,
		Devices:        r.Devices,
		Pools:          r.Pools,
		Creator:        r.Creator,
		Status:         StatusPending,
		ParentDevice:   parentDevice,
		Workflow:       r.Workflow,
		WorkflowSkip:   r.WorkflowSkip,
		AllowedTargets: r.AllowedTargets,
		engine:        r.engine,
		parent:        r,
		session:       r.session,
		overrides:     merged,
		ctx:           childCtx,
		cancel:        cancel,
		stopped:       make(chan struct{}),
	}
	return child
}

// Context returns the Runner's cancellation context.
func (r *Runner) Context() context.Context { return r.ctx }

// Stop cancels the Runner, idempotently.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.stopped:
		return
	default:
		close(r.stopped)
	}
	r.cancel()
}

// Stopped reports whether Stop has been called or the context is otherwise
// done. Polled at retry-loop and device-loop heads; in-flight work is not
// preempted.
func (r *Runner) Stopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
	}
	select {
	case <-r.ctx.Done():
		return true
	default:
		return false
	}
}

// SetOverride stores a per-run override consulted by Param before falling
// back to the service definition field.
func (r *Runner) SetOverride(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = value
}

// Engine returns the owning Engine.
func (r *Runner) Engine() *Engine { return r.engine }
