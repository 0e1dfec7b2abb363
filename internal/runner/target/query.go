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

package target

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// extractKeys drills a structured query row down to the scalar lookup
// key(s) named by property. The property is interpreted as a jq program
// when it already starts with ".", otherwise as a plain field name. A row
// may yield several keys (e.g. ".interfaces[].neighbor").
func extractKeys(property string, row any) ([]any, error) {
	program := property
	if !strings.HasPrefix(program, ".") {
		program = "." + program
	}
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("target: parse property %q: %w", property, err)
	}

	// gojq only accepts the shapes encoding/json produces; round-trip
	// rows built from typed Go values.
	normalized, err := jsonShape(row)
	if err != nil {
		return nil, fmt.Errorf("target: query row is not a data value: %w", err)
	}

	var keys []any
	iter := query.Run(normalized)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("target: extract property %q: %w", property, err)
		}
		if v == nil {
			continue
		}
		keys = append(keys, v)
	}
	return keys, nil
}

func jsonShape(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// lookupProperty reduces a jq-path property to the device property the
// extracted key is matched against: the trailing field name, or "name"
// when the path has no identifier tail.
func lookupProperty(property string) string {
	if !strings.HasPrefix(property, ".") {
		if property == "" {
			return "name"
		}
		return property
	}
	trimmed := strings.TrimRight(property, "]")
	if i := strings.LastIndexAny(trimmed, ".["); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return "name"
	}
	return trimmed
}
