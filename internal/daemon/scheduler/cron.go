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

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Calendar is a trigger descriptor's parsed calendar_expression: the five
// classic fields (minute hour day-of-month month day-of-week), each held
// as a bit set over its legal range. A run task fires at any minute whose
// wall-clock components are all set.
type Calendar struct {
	minute uint64 // bits 0-59
	hour   uint64 // bits 0-23
	dom    uint64 // bits 1-31
	month  uint64 // bits 1-12
	dow    uint64 // bits 0-6, Sunday = 0
}

// calendarFields drives parsing: one entry per expression field, in order.
var calendarFields = []struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// shorthands maps the @-forms task authors tend to write into their five
// field equivalents.
var shorthands = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// ParseCalendar parses a task's calendar_expression. "0 9 * * 1-5" fires
// weekday mornings at nine; "*/15 * * * *" fires every quarter hour; the
// @-shorthands above are accepted too.
func ParseCalendar(expr string) (*Calendar, error) {
	if full, ok := shorthands[strings.ToLower(strings.TrimSpace(expr))]; ok {
		expr = full
	}
	fields := strings.Fields(expr)
	if len(fields) != len(calendarFields) {
		return nil, fmt.Errorf("calendar expression needs %d fields, got %d", len(calendarFields), len(fields))
	}

	sets := make([]uint64, len(calendarFields))
	for i, spec := range calendarFields {
		set, err := parseFieldSet(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", spec.name, fields[i], err)
		}
		sets[i] = set
	}
	return &Calendar{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

// parseFieldSet folds a comma-separated field (each element a value, a
// range, or either with a /step) into one bit set.
func parseFieldSet(field string, min, max int) (uint64, error) {
	var set uint64
	for _, elem := range strings.Split(field, ",") {
		elem, step, err := splitStep(elem)
		if err != nil {
			return 0, err
		}
		start, end := min, max
		if elem != "*" {
			start, end, err = parseBounds(elem, min, max)
			if err != nil {
				return 0, err
			}
		}
		for v := start; v <= end; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func splitStep(elem string) (string, int, error) {
	base, stepStr, found := strings.Cut(elem, "/")
	if !found {
		return elem, 1, nil
	}
	step, err := strconv.Atoi(stepStr)
	if err != nil || step <= 0 {
		return "", 0, fmt.Errorf("bad step %q", stepStr)
	}
	return base, step, nil
}

func parseBounds(elem string, min, max int) (int, int, error) {
	lo, hi, isRange := strings.Cut(elem, "-")
	start, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, fmt.Errorf("bad value %q", lo)
	}
	end := start
	if isRange {
		if end, err = strconv.Atoi(hi); err != nil {
			return 0, 0, fmt.Errorf("bad value %q", hi)
		}
	}
	if start < min || end > max || start > end {
		return 0, 0, fmt.Errorf("%d-%d outside [%d-%d]", start, end, min, max)
	}
	return start, end, nil
}

func (c *Calendar) has(set uint64, v int) bool { return set&(1<<uint(v)) != 0 }

// dayMatches reports whether t falls on a firing day.
func (c *Calendar) dayMatches(t time.Time) bool {
	return c.has(c.month, int(t.Month())) &&
		c.has(c.dom, t.Day()) &&
		c.has(c.dow, int(t.Weekday()))
}

// Next returns the first firing minute strictly after from, or the zero
// time when no minute inside the next four years matches (a Feb 30-style
// expression never fires).
func (c *Calendar) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	horizon := from.AddDate(4, 0, 0)

	for t.Before(horizon) {
		if !c.dayMatches(t) {
			// jump to the next day's first minute
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
			continue
		}
		if !c.has(c.hour, t.Hour()) {
			t = t.Add(time.Duration(60-t.Minute()) * time.Minute)
			continue
		}
		if !c.has(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
