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

// Package expression evaluates user-supplied device-query, skip-query, and
// condition expressions, executes pre/postprocessing hook blocks, and
// performs {{ expr }} string substitution. It wraps
// github.com/expr-lang/expr with a compiled-program cache keyed by source
// text.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// evaluator compiles and caches expr-lang programs. Repeated evaluation of
// the same source (skip queries across a large fleet) hits the cache.
type evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newEvaluator() *evaluator {
	return &evaluator{cache: make(map[string]*vm.Program)}
}

func (e *evaluator) compile(source string, opts ...expr.Option) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[source]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	allOpts := append([]expr.Option{expr.AllowUndefinedVariables()}, opts...)
	prog, err := expr.Compile(source, allOpts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[source] = prog
	e.mu.Unlock()
	return prog, nil
}

func (e *evaluator) run(source string, scope map[string]any) (any, error) {
	if source == "" {
		return nil, nil
	}
	prog, err := e.compile(source)
	if err != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", source, err)
	}
	result, err := expr.Run(prog, scope)
	if err != nil {
		return nil, fmt.Errorf("expression: evaluate %q: %w", source, err)
	}
	return result, nil
}

func (e *evaluator) clearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*vm.Program)
}

func (e *evaluator) cacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
