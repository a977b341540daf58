package seed

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coercer reads loosely typed fields out of a RawRecord and collects a
// violation for every field whose value cannot be coerced.
type coercer struct {
	prefix     string
	violations []Violation
}

func (c *coercer) fail(key, msg string) {
	c.violations = append(c.violations, Violation{Field: c.prefix + key, Message: msg})
}

// lookup returns the first non-null value among keys.
func lookup(raw map[string]any, keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// unwrapExtended strips MongoDB extended-JSON wrappers such as
// {"$date": ...} or {"$numberLong": "12"} found in exported fixtures.
func unwrapExtended(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	for k, inner := range m {
		switch k {
		case "$date", "$numberLong", "$numberInt", "$numberDouble", "$numberDecimal", "$oid":
			return unwrapExtended(inner)
		}
	}
	return v
}

func (c *coercer) str(raw map[string]any, keys ...string) string {
	s := c.optStr(raw, keys...)
	if s == nil {
		return ""
	}
	return *s
}

func (c *coercer) optStr(raw map[string]any, keys ...string) *string {
	v, key, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	switch t := unwrapExtended(v).(type) {
	case string:
		s := strings.TrimSpace(t)
		return &s
	case json.Number:
		s := t.String()
		return &s
	case bool:
		s := strconv.FormatBool(t)
		return &s
	default:
		c.fail(key, "must be a string")
		return nil
	}
}

func toFloat(v any) (float64, bool) {
	switch t := unwrapExtended(v).(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func (c *coercer) optFloat(raw map[string]any, keys ...string) *float64 {
	v, key, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		c.fail(key, "must be a number")
		return nil
	}
	return &f
}

func (c *coercer) optInt(raw map[string]any, keys ...string) *int64 {
	v, key, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		c.fail(key, "must be an integer")
		return nil
	}
	n := int64(f)
	return &n
}

func toTime(v any) (time.Time, bool) {
	v = unwrapExtended(v)
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}
	// Bare numbers are unix milliseconds, as produced by JavaScript dates.
	if ms, ok := toFloat(v); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

func (c *coercer) optTime(raw map[string]any, keys ...string) *time.Time {
	v, key, ok := lookup(raw, keys...)
	if !ok {
		return nil
	}
	t, ok := toTime(v)
	if !ok {
		c.fail(key, "must be a date")
		return nil
	}
	return &t
}

// object returns a nested object, or nil when absent.
func (c *coercer) object(raw map[string]any, key string) map[string]any {
	v, _, ok := lookup(raw, key)
	if !ok {
		return nil
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		c.fail(key, "must be an object")
		return nil
	}
	return m
}

// list returns a nested array. The second result is false when absent.
func (c *coercer) list(raw map[string]any, keys ...string) ([]any, bool) {
	v, key, ok := lookup(raw, keys...)
	if !ok {
		return nil, false
	}
	l, isList := v.([]any)
	if !isList {
		c.fail(key, "must be a list")
		return nil, false
	}
	return l, true
}

func extras(raw map[string]any, known ...string) map[string]any {
	skip := make(map[string]bool, len(known))
	for _, k := range known {
		skip[k] = true
	}
	var out map[string]any
	for k, v := range raw {
		if skip[k] {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}
