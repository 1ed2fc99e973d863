// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package infor

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Row is one normalized IDO record, keyed by property name.
type Row map[string]any

// normalizeItems converts wire items to rows. The service returns either
// objects keyed by property name or positional arrays aligned with the
// requested property list; both shapes collapse to the same Row.
func normalizeItems(items []json.RawMessage, properties []string) ([]Row, error) {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(string(item))
		if trimmed == "" || trimmed == "null" {
			continue
		}

		row := Row{}
		if strings.HasPrefix(trimmed, "[") {
			var values []any
			if err := json.Unmarshal(item, &values); err != nil {
				return nil, err
			}
			for i, name := range properties {
				if i < len(values) {
					row[name] = values[i]
				}
			}
		} else {
			if err := json.Unmarshal(item, &row); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// String returns the value as a trimmed string, empty when absent or null.
func (row Row) String(name string) string {
	value, ok := row[name]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(string(mustJSON(v)))
	}
}

// Float returns the value as a float64 when it parses as one.
func (row Row) Float(name string) (float64, bool) {
	value, ok := row[name]
	if !ok || value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Time parses the value with the IDO filter layout, accepting a fractional
// second suffix.
func (row Row) Time(name string) (time.Time, bool) {
	raw := row.String(name)
	if raw == "" {
		return time.Time{}, false
	}
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	for _, layout := range []string{FilterTimeFormat, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Empty reports whether the value is absent, null or blank.
func (row Row) Empty(name string) bool {
	return row.String(name) == ""
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
