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

package expression

import "fmt"

// HelperFunc is the shape of one helper thunk the caller binds into an
// evaluation's scope (fetch, fetch_all, factory, delete, get_credential,
// send_email, get_var, set_var, get_result, log, ...). Host treats these
// opaquely; the caller wraps its own store and permission checks into
// HelperFuncs so this package never depends on them.
type HelperFunc func(args ...any) (any, error)

// Host evaluates user-supplied expressions against a constructed variable
// scope.
type Host struct {
	eval     *evaluator
	helpers  map[string]HelperFunc
	denyList map[string]bool
}

// Option configures a Host.
type Option func(*Host)

// WithHelper registers a named helper binding, e.g. "fetch", "get_credential".
func WithHelper(name string, fn HelperFunc) Option {
	return func(h *Host) { h.helpers[name] = fn }
}

// WithDenyList refuses to bind the named helpers into any scope: a helper
// whose name appears here is omitted from every Eval/Exec scope, so
// referencing it surfaces as an undefined-variable error from the
// expression engine rather than a successful call.
func WithDenyList(names ...string) Option {
	return func(h *Host) {
		for _, n := range names {
			h.denyList[n] = true
		}
	}
}

// New constructs a Host with the given helper bindings and deny-list.
func New(opts ...Option) *Host {
	h := &Host{
		eval:     newEvaluator(),
		helpers:  map[string]HelperFunc{},
		denyList: map[string]bool{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BuildScope merges global payload variables, an optional device-scoped
// overlay, caller-supplied locals, and the registered (non-denied) helper
// bindings, narrower scopes shadowing wider ones.
func (h *Host) BuildScope(locals, globalVars, deviceVars map[string]any) map[string]any {
	scope := make(map[string]any, len(locals)+len(globalVars)+len(deviceVars)+len(h.helpers))
	for k, v := range globalVars {
		scope[k] = v
	}
	for k, v := range deviceVars {
		scope[k] = v
	}
	for k, v := range locals {
		scope[k] = v
	}
	for name, fn := range h.helpers {
		if h.denyList[name] {
			continue
		}
		scope[name] = func(args ...any) (any, error) { return fn(args...) }
	}
	for name, fn := range builtinFunctions() {
		if _, overridden := scope[name]; !overridden {
			scope[name] = fn
		}
	}
	return scope
}

// Eval evaluates source against scope (built via BuildScope) and returns
// its value alongside the scope it ran against, so eval and exec blocks can
// be chained by a caller that threads locals through.
func (h *Host) Eval(source string, scope map[string]any) (any, map[string]any, error) {
	value, err := h.eval.run(source, scope)
	if err != nil {
		return nil, scope, err
	}
	return value, scope, nil
}

// Exec runs source as a hook block and returns the final variable scope.
//
// expr-lang has no assignment/statement-block construct: a program is
// always a single expression. Exec therefore requires source to evaluate
// to a map[string]any of variable bindings (e.g. `{retries: 1, done:
// true}`), which Host merges into scope and returns as the new local
// scope. A source that evaluates to nil is a clean early exit: it aborts
// only this Exec call, not the caller's attempt.
func (h *Host) Exec(source string, scope map[string]any) (map[string]any, error) {
	if source == "" {
		return scope, nil
	}
	value, err := h.eval.run(source, scope)
	if err != nil {
		return scope, err
	}
	if value == nil {
		return scope, nil
	}
	updates, ok := value.(map[string]any)
	if !ok {
		return scope, fmt.Errorf("expression: exec block must evaluate to a map of variable updates, got %T", value)
	}
	next := make(map[string]any, len(scope)+len(updates))
	for k, v := range scope {
		next[k] = v
	}
	for k, v := range updates {
		next[k] = v
	}
	return next, nil
}

// ClearCache clears the compiled-program cache (tests only).
func (h *Host) ClearCache() { h.eval.clearCache() }

// CacheSize reports the number of compiled programs cached (tests only).
func (h *Host) CacheSize() int { return h.eval.cacheSize() }
