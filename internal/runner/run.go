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
	"runtime/debug"
	"sync"
	"time"

	"github.com/netrunner/netrunner/internal/tracing"

	"github.com/netrunner/netrunner/internal/runner/fanout"
	"github.com/netrunner/netrunner/internal/runner/notify"
	"github.com/netrunner/netrunner/internal/runner/retry"
	"github.com/netrunner/netrunner/internal/runner/state"
	"github.com/netrunner/netrunner/internal/runner/store"
	"github.com/netrunner/netrunner/internal/runner/target"
)

// Submit registers r and launches its run on a tracked goroutine. It
// refuses new top-level work while the engine is draining.
func (e *Engine) Submit(r *Runner) error {
	if e.Draining() {
		return fmt.Errorf("runner: engine is draining, not accepting new runs")
	}
	// Make r visible to Get and Stop before Submit returns; Start's own
	// Register call counts it as active once the run begins.
	e.mu.Lock()
	e.runs[r.ID] = r
	e.mu.Unlock()
	e.trackGoroutine(func() { r.Start() })
	return nil
}

// Start executes the full run synchronously and returns the aggregate
// outcome. It is safe to call from a goroutine (via Submit) or inline.
func (r *Runner) Start() *AggregateResult {
	e := r.engine
	e.Register(r)
	defer e.Unregister(r)

	ctx := r.ctx
	spanCtx, span := tracing.StartRunSpan(ctx, r.Runtime, r.Service.Name)
	r.ctx = spanCtx
	r.initState()
	_ = state.SetStatus(ctx, e.State, r.ParentRuntime, r.Path, "Running")
	r.Status = StatusRunning
	r.StartedAt = time.Now()
	e.serviceStarted(r.Service)
	if e.Metrics != nil {
		e.Metrics.RunsStarted.WithLabelValues(r.Service.Name).Inc()
		if r.IsStart {
			e.Metrics.ActiveRuns.Inc()
		}
	}

	agg := &AggregateResult{Success: true, PerDevice: map[string]*AttemptResult{}}
	func() {
		defer func() {
			if p := recover(); p != nil {
				agg.Success = false
				agg.Result = fmt.Sprintf("%v\n%s", p, debug.Stack())
				e.logger.Error("run panicked", "runtime", r.Runtime, "panic", fmt.Sprint(p))
			}
		}()
		if err := r.openSession(); err != nil {
			agg.Success = false
			agg.Result = err.Error()
			e.logger.Error("object-store session not opened", "runtime", r.Runtime, "error", err)
			return
		}
		if err := r.deviceRun(agg); err != nil {
			agg.Success = false
			agg.Result = err.Error()
			e.logger.Error("run failed", "runtime", r.Runtime, "error", err)
		}
	}()

	r.finalize(agg)
	tracing.EndSpan(span, agg.Success, nil)
	r.Results = agg
	return agg
}

func (r *Runner) statePath(subkey string) string {
	return fmt.Sprintf("%s/%s/%s", r.ParentRuntime, r.Path, subkey)
}

// openSession opens the run tree's single transactional session. Children
// inherit the root's session through Child; only the top-level run opens
// (and later commits or rolls back) one.
func (r *Runner) openSession() error {
	e := r.engine
	if !r.IsStart || r.session != nil || e.Objects == nil {
		return nil
	}
	sess, err := e.Objects.NewSession(r.ctx)
	if err != nil {
		return fmt.Errorf("runner: open session: %w", err)
	}
	r.session = sess
	return nil
}

// objects returns the run's transactional session when one is open, else
// the engine's bare store. Every object-store access a run makes (helper
// bindings, result rows, service logs) goes through here so the whole run
// stages into one transaction.
func (r *Runner) objects() store.Accessor {
	if r.session != nil {
		return r.session
	}
	return r.engine.Objects
}

// initState seeds the run's subtree: the optimistic success flag, and the
// placeholder identity when this run fills a parameterized workflow slot.
func (r *Runner) initState() {
	st := r.engine.State
	_ = st.Write(r.ctx, r.statePath("success"), true, state.MethodSet)
	if r.Placeholder != nil {
		_ = st.Write(r.ctx, r.statePath("placeholder/id"), r.Placeholder.ID, state.MethodSet)
		_ = st.Write(r.ctx, r.statePath("placeholder/scoped_name"), r.Placeholder.ScopedName, state.MethodSet)
		_ = st.Write(r.ctx, r.statePath("placeholder/type"), r.Placeholder.Type, state.MethodSet)
	}
}

// resolveTargets computes the effective device list for this run.
func (r *Runner) resolveTargets() ([]Device, error) {
	e := r.engine
	svc := r.Service
	if e.Targets == nil {
		return r.Devices, nil
	}
	return e.Targets.Resolve(r.ctx, target.Params{
		Devices:             append(append([]Device{}, r.Devices...), svc.TargetDevices...),
		Pools:               r.Pools,
		UpdateTargetPools:   svc.UpdateTargetPools,
		DeviceQuery:         svc.DeviceQuery,
		DeviceQueryProperty: svc.DeviceQueryProperty,
		Scope:               r.Scope(nil, nil),
		AllowedIDs:          r.AllowedTargets,
		Creator:             r.Creator,
	})
}

// deviceRun resolves targets and fans execution out across them, filling
// agg with the summary, the per-device outcomes, and the overall success.
func (r *Runner) deviceRun(agg *AggregateResult) error {
	e := r.engine

	devices, err := r.resolveTargets()
	if err != nil {
		return err
	}
	r.Devices = devices

	byName := make(map[string]*Device, len(devices))
	targets := make([]fanout.Device, len(devices))
	for i := range devices {
		byName[devices[i].Name] = &devices[i]
		targets[i] = fanout.Device{Name: devices[i].Name}
	}

	scope := state.ScopeDevice
	if r.IterationRun {
		scope = state.ScopeIterationDevice
	}
	progress := &progressWriter{store: e.State, parentRuntime: r.ParentRuntime, path: r.Path, scope: scope}

	var mu sync.Mutex
	sink := func(d *fanout.Device, a fanout.Attempt) {
		name := ""
		if d != nil {
			name = d.Name
		}
		mu.Lock()
		if ar, ok := a.Result.(*AttemptResult); ok && name != "" {
			agg.PerDevice[name] = ar
		}
		mu.Unlock()
		r.persistDeviceResult(name, a)
	}

	return r.runFanout(agg, progress, targets, byName, sink)
}

// runFanout builds the fan-out configuration and executes it.
func (r *Runner) runFanout(agg *AggregateResult, progress fanout.Progress, targets []fanout.Device, byName map[string]*Device, sink fanout.ResultSink) error {
	e := r.engine
	svc := r.Service

	cfg := fanout.Config{
		RunMethod:       fanout.RunMethod(svc.RunMethod),
		Multiprocessing: svc.Multiprocessing,
		MaxProcesses:    svc.MaxProcesses,
		SkipValue:       fanout.SkipValue(svc.SkipValue),
		WorkflowSkip:    r.WorkflowSkip,
		IsIterationRun:  r.IterationRun,
		InWorkflow:      r.Workflow != "",
	}
	if cfg.SkipValue == "" {
		cfg.SkipValue = fanout.SkipDiscard
	}

	if svc.SkipQuery != "" {
		cfg.Skip = func(_ context.Context, d fanout.Device) (bool, error) {
			value, _, err := e.Expr.Eval(svc.SkipQuery, r.Scope(byName[d.Name], nil))
			if err != nil {
				return false, err
			}
			skip, _ := value.(bool)
			return skip, nil
		}
	}

	if svc.IterationDevices != "" && !r.IterationRun {
		cfg.Iteration = func(_ context.Context, t fanout.Device) (bool, error) {
			return r.runIteration(byName[t.Name])
		}
	}

	attempt := func(_ context.Context, d *fanout.Device) fanout.Attempt {
		var device *Device
		if d != nil {
			device = byName[d.Name]
		}
		res := r.executeWithRetry(device)
		return fanout.Attempt{Success: res.Success, Result: res}
	}

	out, err := fanout.Run(r.ctx, progress, cfg, targets, attempt, sink)
	if err != nil {
		return err
	}

	agg.Summary = Summary{Success: out.Summary.Success, Failure: out.Summary.Failure}
	success := out.Success
	agg.Success = success
	_ = e.State.Write(r.ctx, r.statePath("success"), success, state.MethodSet)
	return nil
}

// runIteration spawns a child Runner for one parent target and reports its
// aggregate success.
func (r *Runner) runIteration(parent *Device) (bool, error) {
	e := r.engine
	svc := r.Service

	if e.Targets == nil {
		return false, fmt.Errorf("runner: iteration requires a target resolver")
	}
	devices, err := e.Targets.Resolve(r.ctx, target.Params{
		DeviceQuery:         svc.IterationDevices,
		DeviceQueryProperty: svc.IterationDevicesProperty,
		Scope:               r.Scope(parent, nil),
		AllowedIDs:          r.AllowedTargets,
		Creator:             r.Creator,
	})
	if err != nil {
		return false, err
	}

	child := r.Child(svc, nil, parent.Name)
	child.Path = r.Path + "->" + svc.ID + "@" + parent.Name
	child.IterationRun = true
	child.Devices = devices
	res := child.Start()
	return res.Success, nil
}

// executeWithRetry drives the retry state machine for one device (or for
// the whole retained list when the service runs once).
func (r *Runner) executeWithRetry(device *Device) *AttemptResult {
	e := r.engine
	svc := r.Service
	start := time.Now()

	contentMatch := svc.ContentMatch
	if contentMatch != "" {
		if subbed, err := e.Expr.Sub(contentMatch, r.Scope(device, nil)); err == nil {
			contentMatch = fmt.Sprint(subbed)
		}
	}

	cfg := retry.Config{
		NumberOfRetries:            svc.NumberOfRetries,
		MaxNumberOfRetries:         svc.MaxNumberOfRetries,
		TimeBetweenRetries:         svc.TimeBetweenRetries,
		Preprocessing:              svc.Preprocessing,
		Postprocessing:             svc.Postprocessing,
		PostprocessingMode:         retry.Mode(svc.PostprocessingMode),
		ConversionMethod:           retry.ConversionMethod(svc.ConversionMethod),
		ValidationMethod:           retry.ValidationMethod(svc.ValidationMethod),
		ValidationCondition:        retry.Mode(svc.ValidationCondition),
		ContentMatch:               contentMatch,
		ContentMatchRegex:          svc.ContentMatchRegex,
		DeleteSpacesBeforeMatching: svc.DeleteSpacesBeforeMatching,
		DictMatch:                  svc.DictMatch,
		NegativeLogic:              svc.NegativeLogic,
	}
	if cfg.PostprocessingMode == "" {
		cfg.PostprocessingMode = retry.ModeAlways
	}
	if cfg.ValidationCondition == "" {
		cfg.ValidationCondition = retry.ModeAlways
	}
	if cfg.MaxNumberOfRetries == 0 {
		// Zero on a definition means unset; the driver treats zero as a
		// hard no-attempt budget.
		cfg.MaxNumberOfRetries = cfg.NumberOfRetries + 1
	}

	deviceName := ""
	if device != nil {
		deviceName = device.Name
	}
	_, span := tracing.StartDeviceSpan(r.ctx, r.Runtime, deviceName)

	driver := retry.New(e.Expr)
	scope := r.Scope(device, nil)
	body := r.jobBody(device)

	if svc.WaitingTime > 0 {
		r.sleep(svc.WaitingTime)
	}

	res := driver.Run(r.Stopped, cfg, scope, body)
	if m := e.Metrics; m != nil {
		outcome := "failure"
		if res.Success {
			outcome = "success"
		}
		m.DeviceAttempts.WithLabelValues(outcome).Inc()
		if res.Attempts > 1 {
			m.Retries.Add(float64(res.Attempts - 1))
		}
	}
	out := &AttemptResult{
		Success:      res.Success,
		Result:       res.Result,
		Error:        res.Error,
		Exception:    res.Exception,
		TextResponse: res.TextResponse,
		Duration:     time.Since(start),
		Attempts:     res.Attempts,
	}
	for _, v := range res.Validation {
		out.Validation = append(out.Validation, ValidationEntry{Path: v.Path, Value: v.Value, Match: v.Match})
	}
	tracing.EndSpan(span, out.Success, nil)
	return out
}

// jobBody wraps the service job so a panic inside user code surfaces as a
// failed attempt instead of tearing the worker down. When the service
// declares iteration values, the job runs once per value with the
// iteration variable injected, and the per-value outcomes are folded into
// one map result.
func (r *Runner) jobBody(device *Device) retry.Body {
	svc := r.Service
	return func(scope map[string]any) (result any, err error) {
		defer func() {
			if p := recover(); p != nil {
				result = nil
				err = fmt.Errorf("%v\n%s", p, debug.Stack())
			}
		}()

		if svc.Job == nil {
			return nil, fmt.Errorf("runner: service %s has no job body", svc.Name)
		}

		if len(svc.IterationValues) == 0 {
			return svc.Job(r, device)
		}

		varName := svc.IterationVariableName
		if varName == "" {
			varName = "iteration_value"
		}
		results := make(map[string]any, len(svc.IterationValues))
		var firstErr error
		for i, value := range svc.IterationValues {
			r.mu.Lock()
			r.IterationIndex, r.IterationValue = i, value
			r.mu.Unlock()
			r.SetOverride(varName, value)
			one, jobErr := svc.Job(r, device)
			if jobErr != nil {
				if firstErr == nil {
					firstErr = jobErr
				}
				results[fmt.Sprint(value)] = map[string]any{"success": false, "result": jobErr.Error()}
				continue
			}
			results[fmt.Sprint(value)] = one
		}
		return results, firstErr
	}
}

// persistDeviceResult writes one per-device (or once-level) result row.
func (r *Runner) persistDeviceResult(device string, a fanout.Attempt) {
	e := r.engine
	if e.Recorder == nil {
		return
	}
	rec := store.Result{
		RunID:         r.Runtime,
		Service:       r.Service.Name,
		ParentRuntime: r.ParentRuntime,
		Workflow:      r.Workflow,
		ParentDevice:  r.ParentDevice,
		Device:        device,
		Success:       a.Success,
		Creator:       r.Creator,
	}
	switch res := a.Result.(type) {
	case *AttemptResult:
		rec.Result = res.Result
		rec.Duration = res.Duration.Seconds()
	default:
		rec.Result = a.Result
	}
	if err := e.Recorder.Record(r.ctx, r.objects(), rec); err != nil {
		e.logger.Warn("result row not persisted", "runtime", r.Runtime, "device", device, "error", err)
	}
}

// finalize runs the completion phases: pool recomputation, the service-log
// and aggregate-result rows (staged into the run's session), the top-level
// session commit (with one retry, then rollback), notification,
// per-service counter bookkeeping, final status, connection teardown, and
// one-shot trigger deactivation.
func (r *Runner) finalize(agg *AggregateResult) {
	e := r.engine
	ctx := r.ctx
	svc := r.Service

	if svc.UpdatePoolsAfterRunning {
		for _, pool := range r.Pools {
			if err := pool.ComputePool(); err != nil {
				e.logger.Warn("pool recompute failed", "pool", pool.Name, "error", err)
			}
		}
	}

	agg.Duration = time.Since(r.StartedAt)
	r.FinishedAt = time.Now()

	if lines := r.LogLines(); len(lines) > 0 {
		if sink := r.objects(); sink != nil {
			err := sink.AppendServiceLog(ctx, store.ServiceLog{
				RunID:   r.Runtime,
				Service: svc.Name,
				Lines:   lines,
			})
			if err != nil {
				e.logger.Warn("service log not persisted", "runtime", r.Runtime, "error", err)
			}
		}
	}

	if e.Recorder != nil && (r.IsStart || len(r.Devices) > 1 || svc.RunMethod == RunMethodOnce) {
		rec := store.Result{
			RunID:         r.Runtime,
			Service:       svc.Name,
			ParentRuntime: r.ParentRuntime,
			Workflow:      r.Workflow,
			ParentDevice:  r.ParentDevice,
			Result:        aggregateResultMap(agg),
			Duration:      agg.Duration.Seconds(),
			Success:       agg.Success,
			Creator:       r.Creator,
		}
		if err := e.Recorder.Record(ctx, r.objects(), rec); err != nil {
			e.logger.Warn("aggregate result not persisted", "runtime", r.Runtime, "error", err)
		}
	}

	// Only the top-level runner finalizes the shared session; a commit
	// failure here discards every row the run tree staged.
	if r.IsStart && r.session != nil {
		if err := r.commitSession(); err != nil {
			agg.Success = false
			agg.Result = err.Error()
			e.logger.Error("session commit failed", "runtime", r.Runtime, "error", err)
		}
	}

	if svc.SendNotification && e.Notify != nil {
		agg.Notification = e.Notify.Dispatch(ctx, notify.Request{
			Service:              svc.Name,
			ServiceID:            svc.ID,
			Runtime:              r.Runtime,
			Success:              agg.Success,
			Results:              agg.Result,
			HeaderTemplate:       svc.NotificationHeader,
			Variables:            r.Scope(nil, nil),
			AppAddress:           e.AppAddress,
			IncludeDeviceResults: svc.IncludeDeviceResults,
			DeviceResults:        deviceResultMap(agg),
			PassedDevices:        agg.Summary.Success,
			FailedDevices:        agg.Summary.Failure,
			Transport:            notify.Transport(svc.NotificationTransport),
			Destination:          svc.NotificationDestination,
		})
	}

	e.serviceFinished(svc)

	if m := e.Metrics; m != nil {
		outcome := "failure"
		if agg.Success {
			outcome = "success"
		}
		if r.Stopped() {
			outcome = "aborted"
		}
		m.RunsCompleted.WithLabelValues(svc.Name, outcome).Inc()
		if r.IsStart {
			m.ActiveRuns.Dec()
		}
	}

	if r.IsStart {
		status := "Completed"
		r.Status = StatusCompleted
		if r.Stopped() {
			status = "Aborted"
			r.Status = StatusAborted
		}
		_ = state.SetStatus(ctx, e.State, r.ParentRuntime, r.Path, status)
		e.Connections.CloseAll(ctx, r.ParentRuntime)

		if r.Task.OneShot() && r.Task.MarkInactive != nil {
			if err := r.Task.MarkInactive(ctx); err != nil {
				e.logger.Warn("one-shot task not deactivated", "runtime", r.Runtime, "error", err)
			}
		}
	} else {
		r.Status = StatusCompleted
	}
}

// commitSession commits the run's session, retrying once before rolling
// back and surfacing the failure. After a rollback the session is dead:
// nothing touches it again; the duration and final status live in the
// state tree and the in-memory run, not in the object store.
func (r *Runner) commitSession() error {
	sess := r.session
	if err := sess.Commit(r.ctx); err == nil {
		return nil
	} else if retryErr := sess.Commit(r.ctx); retryErr == nil {
		return nil
	} else {
		if rbErr := sess.Rollback(r.ctx); rbErr != nil {
			r.engine.logger.Warn("rollback failed", "runtime", r.Runtime, "error", rbErr)
		}
		return fmt.Errorf("runner: commit: %w", err)
	}
}

// sleep waits for d, waking early if the run is stopped.
func (r *Runner) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-r.stopped:
	case <-r.ctx.Done():
	}
}

func deviceResultMap(agg *AggregateResult) map[string]any {
	out := make(map[string]any, len(agg.PerDevice))
	for name, res := range agg.PerDevice {
		out[name] = map[string]any{"success": res.Success, "result": res.Result}
	}
	return out
}

func aggregateResultMap(agg *AggregateResult) map[string]any {
	out := map[string]any{
		"success": agg.Success,
		"summary": map[string]any{
			"success": agg.Summary.Success,
			"failure": agg.Summary.Failure,
		},
	}
	if agg.Result != nil {
		out["result"] = agg.Result
	}
	return out
}
