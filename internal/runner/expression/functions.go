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
	"fmt"
	"reflect"
)

// includesFunc reports whether collection contains target. Exposed as
// has/includes rather than contains, which expr-lang reserves as a builtin.
func includesFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("includes requires exactly 2 arguments, got %d", len(args))
	}
	collection, target := args[0], args[1]
	if collection == nil {
		return false, nil
	}

	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), target) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		return v.MapIndex(reflect.ValueOf(target)).IsValid(), nil
	case reflect.String:
		str, ok := collection.(string)
		substr, ok2 := target.(string)
		if !ok || !ok2 {
			return false, nil
		}
		return len(substr) == 0 || indexOf(str, substr) >= 0, nil
	default:
		return false, nil
	}
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

func countFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("count requires exactly 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return 0, nil
	}
	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len(), nil
	default:
		return nil, fmt.Errorf("count: unsupported type %T", args[0])
	}
}

// builtinFunctions are always available regardless of the caller's helper
// registry.
func builtinFunctions() map[string]any {
	return map[string]any{
		"has":      includesFunc,
		"includes": includesFunc,
		"count":    countFunc,
	}
}
