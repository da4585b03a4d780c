package mightycall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Raw is one provider record as decoded JSON. Accessors take a priority list
// of aliases; dotted aliases walk nested objects ("caller.phoneNumber").
type Raw map[string]any

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DecodeJSON decodes body keeping numbers exact
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return v, nil
}

// ExtractRecords finds the record list in a provider response. ok is false
// when the body is valid JSON but holds no list in any known location.
func ExtractRecords(body []byte, operation string) ([]Raw, bool, error) {
	v, err := DecodeJSON(body)
	if err != nil {
		return nil, false, err
	}

	if list, ok := v.([]any); ok {
		return toRecords(list), true, nil
	}

	root, ok := v.(map[string]any)
	if !ok {
		return nil, false, nil
	}

	r := Raw(root)
	for _, path := range []string{"data", "data." + operation, "data.items", "items", "results", operation} {
		if list, ok := r.lookup(path).([]any); ok {
			return toRecords(list), true, nil
		}
	}
	return nil, false, nil
}

func toRecords(list []any) []Raw {
	records := make([]Raw, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, Raw(m))
		}
	}
	return records
}

func (r Raw) lookup(path string) any {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// Has reports whether any alias is present and non-null
func (r Raw) Has(aliases ...string) bool {
	for _, a := range aliases {
		if r.lookup(a) != nil {
			return true
		}
	}
	return false
}

// String returns the first alias holding a non-empty scalar
func (r Raw) String(aliases ...string) string {
	for _, a := range aliases {
		switch v := r.lookup(a).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// Float returns the first alias holding a number or numeric string
func (r Raw) Float(aliases ...string) (float64, bool) {
	for _, a := range aliases {
		if f, ok := toFloat(r.lookup(a)); ok {
			return f, true
		}
	}
	return 0, false
}

// Int is Float rounded to the nearest integer
func (r Raw) Int(aliases ...string) (int, bool) {
	f, ok := r.Float(aliases...)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// Bool accepts JSON booleans and common string spellings
func (r Raw) Bool(aliases ...string) (bool, bool) {
	for _, a := range aliases {
		switch v := r.lookup(a).(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n != 0, true
			}
		}
	}
	return false, false
}

// Time parses ISO-8601 strings or unix epochs (seconds or milliseconds).
// Zone-less strings are read as UTC. The result is always UTC.
func (r Raw) Time(aliases ...string) (time.Time, bool) {
	for _, a := range aliases {
		switch v := r.lookup(a).(type) {
		case string:
			if t, ok := parseTime(v); ok {
				return t, true
			}
		case json.Number:
			if f, err := v.Float64(); err == nil && f > 0 {
				return epoch(f), true
			}
		case float64:
			if v > 0 {
				return epoch(v), true
			}
		}
	}
	return time.Time{}, false
}

// Slice returns the first alias holding an array of objects
func (r Raw) Slice(aliases ...string) []Raw {
	for _, a := range aliases {
		if list, ok := r.lookup(a).([]any); ok {
			return toRecords(list)
		}
	}
	return nil
}

// Object returns the nested object at the first matching alias
func (r Raw) Object(aliases ...string) Raw {
	for _, a := range aliases {
		if m, ok := r.lookup(a).(map[string]any); ok {
			return Raw(m)
		}
	}
	return nil
}

// JSON re-encodes the record for archival
func (r Raw) JSON() []byte {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return []byte("{}")
	}
	return b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return epoch(f), true
	}
	return time.Time{}, false
}

func epoch(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}
