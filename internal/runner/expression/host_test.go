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

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost_EvalBasic(t *testing.T) {
	h := New()
	scope := h.BuildScope(nil, map[string]any{"count": 3}, nil)
	value, _, err := h.Eval("count + 1", scope)
	require.NoError(t, err)
	assert.Equal(t, 4, value)
}

func TestHost_EvalUndefinedVariableIsNilNotError(t *testing.T) {
	h := New()
	scope := h.BuildScope(nil, nil, nil)
	value, _, err := h.Eval("maybe_unset", scope)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestHost_ExecMergesVariableUpdates(t *testing.T) {
	h := New()
	scope := h.BuildScope(nil, map[string]any{"retries": 2}, nil)
	next, err := h.Exec(`{retries: retries - 1, done: retries <= 1}`, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, next["retries"])
	assert.Equal(t, false, next["done"])
}

func TestHost_ExecEmptySourceReturnsScopeUnchanged(t *testing.T) {
	h := New()
	scope := h.BuildScope(nil, map[string]any{"x": 1}, nil)
	next, err := h.Exec("", scope)
	require.NoError(t, err)
	assert.Equal(t, scope, next)
}

func TestHost_ExecNonMapResultIsError(t *testing.T) {
	h := New()
	scope := h.BuildScope(nil, nil, nil)
	_, err := h.Exec("1 + 1", scope)
	assert.Error(t, err)
}

func TestHost_HelperBoundAndCallable(t *testing.T) {
	var calledWith []any
	h := New(WithHelper("get_var", func(args ...any) (any, error) {
		calledWith = args
		return "stub", nil
	}))
	scope := h.BuildScope(nil, nil, nil)
	value, _, err := h.Eval(`get_var("hostname")`, scope)
	require.NoError(t, err)
	assert.Equal(t, "stub", value)
	assert.Equal(t, []any{"hostname"}, calledWith)
}

func TestHost_DenyListOmitsHelperFromScope(t *testing.T) {
	h := New(
		WithHelper("delete", func(args ...any) (any, error) { return nil, nil }),
		WithDenyList("delete"),
	)
	scope := h.BuildScope(nil, nil, nil)
	_, _, err := h.Eval(`delete("device", 1)`, scope)
	assert.Error(t, err)
}

func TestHost_BuildScopePrecedenceLocalsOverridesDeviceOverridesGlobal(t *testing.T) {
	h := New()
	scope := h.BuildScope(
		map[string]any{"x": "local"},
		map[string]any{"x": "global"},
		map[string]any{"x": "device"},
	)
	assert.Equal(t, "local", scope["x"])
}

func TestHost_BuiltinIncludesAndCount(t *testing.T) {
	h := New()
	scope := h.BuildScope(nil, map[string]any{"items": []any{"a", "b", "c"}}, nil)

	v, _, err := h.Eval(`includes(items, "b")`, scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, _, err = h.Eval(`count(items)`, scope)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestHost_SubSubstitutesNestedStructures(t *testing.T) {
	h := New()
	vars := map[string]any{"device": "router1", "n": 2}
	input := map[string]any{
		"{{ device }}": "{{ n + 1 }} retries",
		"list":         []any{"host-{{ device }}", 42},
	}

	out, err := h.Sub(input, vars)
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "3 retries", m["router1"])

	list, ok := m["list"].([]any)
	require.True(t, ok)
	assert.Equal(t, "host-router1", list[0])
	assert.Equal(t, 42, list[1])
}

func TestHost_SubPropagatesEvalError(t *testing.T) {
	h := New()
	_, err := h.Sub(`{{ 1 + "a" }}`, nil)
	assert.Error(t, err)
}

func TestHost_CompiledProgramCacheIsReused(t *testing.T) {
	h := New()
	h.ClearCache()
	scope := h.BuildScope(nil, map[string]any{"x": 1}, nil)
	_, _, err := h.Eval("x + 1", scope)
	require.NoError(t, err)
	_, _, err = h.Eval("x + 1", scope)
	require.NoError(t, err)
	assert.Equal(t, 1, h.CacheSize())
}

func TestHost_HelperErrorPropagates(t *testing.T) {
	h := New(WithHelper("fetch", func(args ...any) (any, error) {
		return nil, errors.New("rbac: forbidden")
	}))
	scope := h.BuildScope(nil, nil, nil)
	_, _, err := h.Eval(`fetch("device")`, scope)
	assert.Error(t, err)
}
