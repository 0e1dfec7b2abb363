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
	"regexp"
)

var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Sub performs templated string substitution: any {{ expr }} occurrence
// inside a string is replaced by the string form of evaluating expr against
// variables. Substitution recurses into lists and maps, applying to both
// keys and values of maps. Input containing no template is returned as-is,
// so Sub is idempotent on already-substituted values.
func (h *Host) Sub(input any, variables map[string]any) (any, error) {
	switch v := input.(type) {
	case string:
		return h.subString(v, variables)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			sub, err := h.Sub(item, variables)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			subKey, err := h.subString(k, variables)
			if err != nil {
				return nil, err
			}
			subVal, err := h.Sub(val, variables)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(subKey)] = subVal
		}
		return out, nil
	default:
		return input, nil
	}
}

func (h *Host) subString(s string, variables map[string]any) (string, error) {
	var outerErr error
	result := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := match[2 : len(match)-2]
		value, _, err := h.Eval(expr, variables)
		if err != nil {
			outerErr = err
			return match
		}
		return fmt.Sprint(value)
	})
	if outerErr != nil {
		return "", fmt.Errorf("expression: sub %q: %w", s, outerErr)
	}
	return result, nil
}
