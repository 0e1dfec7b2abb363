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
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// validate checks the normalized result against the configured validation
// method. scope is the locals available to the content_match interpolation
// (result, text_response, and anything the caller seeded).
func (d *Driver) validate(cfg Config, scope map[string]any, res Result) Result {
	switch cfg.ValidationMethod {
	case ValidationText:
		return d.validateText(cfg, scope, res)
	case ValidationDictEqual:
		match := dictEqual(res.Result, cfg.DictMatch)
		res.Success = applyNegativeLogic(match, cfg.NegativeLogic)
		return res
	case ValidationDictIncluded:
		var entries []ValidationEntry
		match := dictIncluded(res.Result, cfg.DictMatch, "", &entries)
		res.Validation = entries
		res.Success = applyNegativeLogic(match, cfg.NegativeLogic)
		return res
	default:
		return res
	}
}

// validateText compares content_match (already {{ }}-interpolated by the
// caller via Host.Sub) against the attempt's text response.
func (d *Driver) validateText(cfg Config, scope map[string]any, res Result) Result {
	pattern := cfg.ContentMatch
	haystack := fmt.Sprint(res.TextResponse)
	if haystack == "" {
		haystack = fmt.Sprint(res.Result)
	}

	if cfg.DeleteSpacesBeforeMatching {
		haystack = stripSpaces(haystack)
		pattern = stripSpaces(pattern)
	}

	var match bool
	if cfg.ContentMatchRegex {
		re, err := regexp.Compile(pattern)
		match = err == nil && re.MatchString(haystack)
	} else {
		match = strings.Contains(haystack, pattern)
	}

	res.Success = applyNegativeLogic(match, cfg.NegativeLogic)
	return res
}

func stripSpaces(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func applyNegativeLogic(match, negative bool) bool {
	if negative {
		return !match
	}
	return match
}

func dictEqual(result, expected any) bool {
	return reflect.DeepEqual(normalizeForCompare(result), normalizeForCompare(expected))
}

// dictIncluded recursively verifies every key/value in expected is present
// in result, consuming lists element-wise and recording a
// {path, value, match} entry per leaf comparison.
func dictIncluded(result, expected any, path string, entries *[]ValidationEntry) bool {
	switch exp := expected.(type) {
	case map[string]any:
		resultMap, ok := result.(map[string]any)
		if !ok {
			*entries = append(*entries, ValidationEntry{Path: path, Value: expected, Match: false})
			return false
		}
		allMatch := true
		for k, v := range exp {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			actual, present := resultMap[k]
			if !present {
				*entries = append(*entries, ValidationEntry{Path: childPath, Value: v, Match: false})
				allMatch = false
				continue
			}
			if !dictIncluded(actual, v, childPath, entries) {
				allMatch = false
			}
		}
		return allMatch
	case []any:
		resultList, ok := result.([]any)
		if !ok || len(resultList) < len(exp) {
			*entries = append(*entries, ValidationEntry{Path: path, Value: expected, Match: false})
			return false
		}
		allMatch := true
		for i, v := range exp {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if !dictIncluded(resultList[i], v, childPath, entries) {
				allMatch = false
			}
		}
		return allMatch
	default:
		match := reflect.DeepEqual(normalizeForCompare(result), normalizeForCompare(expected))
		*entries = append(*entries, ValidationEntry{Path: path, Value: expected, Match: match})
		return match
	}
}

// normalizeForCompare smooths over int vs. float64 mismatches that arise
// when one side comes from Go literals and the other from JSON/XML
// conversion.
func normalizeForCompare(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}
