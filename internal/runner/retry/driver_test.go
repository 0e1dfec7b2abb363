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

package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopExec struct{}

func (noopExec) Eval(source string, scope map[string]any) (any, map[string]any, error) {
	return nil, scope, nil
}
func (noopExec) Exec(source string, scope map[string]any) (map[string]any, error) {
	return nil, nil
}

func neverStopped() bool { return false }

func TestDriver_SucceedsOnFirstAttempt(t *testing.T) {
	d := New(noopExec{})
	calls := 0
	res := d.Run(neverStopped, Config{NumberOfRetries: 3, MaxNumberOfRetries: 5}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		return "ok", nil
	})
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
}

func TestDriver_RetriesUntilSuccess(t *testing.T) {
	d := New(noopExec{})
	calls := 0
	res := d.Run(neverStopped, Config{NumberOfRetries: 5, MaxNumberOfRetries: 10}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	})
	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
}

func TestDriver_NeverExceedsMaxNumberOfRetries(t *testing.T) {
	d := New(noopExec{})
	calls := 0
	res := d.Run(neverStopped, Config{NumberOfRetries: 100, MaxNumberOfRetries: 3}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		return nil, errors.New("always fails")
	})
	assert.False(t, res.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
}

func TestDriver_ZeroMaxAttemptsRunsNothing(t *testing.T) {
	d := New(noopExec{})
	calls := 0
	res := d.Run(neverStopped, Config{NumberOfRetries: 3, MaxNumberOfRetries: 0}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		return "ok", nil
	})
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, calls, "a zero attempt budget must never invoke the body")
}

func TestDriver_StopFlagShortCircuits(t *testing.T) {
	d := New(noopExec{})
	stopped := func() bool { return true }
	calls := 0
	res := d.Run(stopped, Config{NumberOfRetries: 3, MaxNumberOfRetries: 5}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		return "ok", nil
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Stopped", res.Result)
	assert.Equal(t, 0, calls)
}

func TestDriver_BodyErrorCapturedNotRaised(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{NumberOfRetries: 0, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Result)
}

func TestDriver_ConversionTextStringifiesResult(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{ConversionMethod: ConversionText, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return 42, nil
	})
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Result)
}

func TestDriver_ConversionJSONFailureIsCapturedAsFailure(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{ConversionMethod: ConversionJSON, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return "not json", nil
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Conversion to json failed", res.Error)
	assert.NotEmpty(t, res.Exception)
}

func TestDriver_ConversionJSONParsesObject(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{ConversionMethod: ConversionJSON, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return `{"up": true}`, nil
	})
	require.True(t, res.Success)
	m, ok := res.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["up"])
}

func TestDriver_ConversionAppliesToFailedBody(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{
		ConversionMethod:    ConversionJSON,
		ValidationMethod:    ValidationDictIncluded,
		ValidationCondition: ModeFailure,
		DictMatch:           map[string]any{"status": "down"},
		MaxNumberOfRetries:  1,
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		return nil, errors.New(`{"status": "down", "detail": "link flap"}`)
	})
	// The failing body's result is parsed before validation runs on it, so
	// dict_included matches the structure and flips the attempt to success.
	require.True(t, res.Success)
	require.NotEmpty(t, res.Validation)
	assert.Equal(t, "status", res.Validation[0].Path)
	assert.True(t, res.Validation[0].Match)
}

func TestDriver_ConversionXMLForcesListsOnSingletonChildren(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{ConversionMethod: ConversionXML, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return "<status><up>yes</up></status>", nil
	})
	require.True(t, res.Success)

	m, ok := res.Result.(map[string]any)
	require.True(t, ok)
	statusList, ok := m["status"].([]any)
	require.True(t, ok, "root element must be a list even when it occurs once")
	require.Len(t, statusList, 1)

	status, ok := statusList[0].(map[string]any)
	require.True(t, ok)
	up, ok := status["up"].([]any)
	require.True(t, ok, "single-occurrence child must still be a list")
	assert.Equal(t, []any{"yes"}, up)
}

func TestDriver_ConversionXMLGroupsRepeatedSiblings(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{ConversionMethod: ConversionXML, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return "<interfaces><name>Gi0/0</name><name>Gi0/1</name></interfaces>", nil
	})
	require.True(t, res.Success)

	m := res.Result.(map[string]any)
	interfaces := m["interfaces"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{"Gi0/0", "Gi0/1"}, interfaces["name"])
}

func TestDriver_ConversionXMLFailureIsCapturedAsFailure(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{ConversionMethod: ConversionXML, MaxNumberOfRetries: 1}, map[string]any{}, func(scope map[string]any) (any, error) {
		return "<unclosed>", nil
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Conversion to xml failed", res.Error)
	assert.NotEmpty(t, res.Exception)
}

func TestDriver_ValidationTextSubstring(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{
		MaxNumberOfRetries:  1,
		ValidationMethod:    ValidationText,
		ValidationCondition: ModeAlways,
		ContentMatch:        "up",
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		return "interface up", nil
	})
	assert.True(t, res.Success)
}

func TestDriver_ValidationNegativeLogicFlipsResult(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{
		MaxNumberOfRetries:  1,
		ValidationMethod:    ValidationText,
		ValidationCondition: ModeAlways,
		ContentMatch:        "down",
		NegativeLogic:       true,
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		return "interface up", nil
	})
	assert.True(t, res.Success)
}

func TestDriver_ValidationDictEqual(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{
		MaxNumberOfRetries:  1,
		ValidationMethod:    ValidationDictEqual,
		ValidationCondition: ModeAlways,
		DictMatch:           map[string]any{"up": true},
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		return map[string]any{"up": true}, nil
	})
	assert.True(t, res.Success)
}

func TestDriver_ValidationDictIncludedRecordsEntries(t *testing.T) {
	d := New(noopExec{})
	res := d.Run(neverStopped, Config{
		MaxNumberOfRetries:  1,
		ValidationMethod:    ValidationDictIncluded,
		ValidationCondition: ModeAlways,
		DictMatch:           map[string]any{"status": "up"},
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		return map[string]any{"status": "down", "extra": 1}, nil
	})
	assert.False(t, res.Success)
	require.Len(t, res.Validation, 1)
	assert.Equal(t, "status", res.Validation[0].Path)
	assert.False(t, res.Validation[0].Match)
}

func TestDriver_PostprocessingRetriesOverrideCapsAtMaxNumberOfRetries(t *testing.T) {
	exec := &execStub{
		execFn: func(source string, scope map[string]any) (map[string]any, error) {
			return map[string]any{"retries": 100}, nil
		},
	}
	d := New(exec)
	calls := 0
	res := d.Run(neverStopped, Config{
		NumberOfRetries:    1,
		MaxNumberOfRetries: 3,
		Postprocessing:     "retries = 100",
		PostprocessingMode: ModeAlways,
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		return nil, errors.New("still failing")
	})
	assert.False(t, res.Success)
	assert.Equal(t, 3, calls, "total attempts must never exceed max_number_of_retries even after a postprocessing override")
}

type execStub struct {
	execFn func(source string, scope map[string]any) (map[string]any, error)
}

func (e *execStub) Eval(source string, scope map[string]any) (any, map[string]any, error) {
	return nil, scope, nil
}
func (e *execStub) Exec(source string, scope map[string]any) (map[string]any, error) {
	return e.execFn(source, scope)
}

func TestDriver_TimeBetweenRetriesIsHonored(t *testing.T) {
	d := New(noopExec{})
	start := time.Now()
	calls := 0
	d.Run(neverStopped, Config{
		NumberOfRetries:    1,
		MaxNumberOfRetries: 2,
		TimeBetweenRetries: 30 * time.Millisecond,
	}, map[string]any{}, func(scope map[string]any) (any, error) {
		calls++
		return nil, errors.New("fail")
	})
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
