package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EpochMillis is a timestamp normalised to milliseconds since the Unix
// epoch. Billing payloads carry the same instant as a JSON number, an ISO
// string, a numeric string or a serialised date object; all decode here.
type EpochMillis struct {
	Value int64
	Valid bool
}

// Ptr returns a pointer to the value, or nil when the timestamp was absent.
func (e EpochMillis) Ptr() *int64 {
	if !e.Valid {
		return nil
	}
	v := e.Value
	return &v
}

// Time converts the value back to a UTC time.Time.
func (e EpochMillis) Time() time.Time { return time.UnixMilli(e.Value).UTC() }

// UnmarshalJSON implements json.Unmarshaler.
func (e *EpochMillis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = EpochMillis{}
		return nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	ms, ok, err := ParseEpochMillis(raw)
	if err != nil {
		return err
	}
	*e = EpochMillis{Value: ms, Valid: ok}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e EpochMillis) MarshalJSON() ([]byte, error) {
	if !e.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(e.Value, 10)), nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseEpochMillis normalises a decoded timestamp to epoch milliseconds.
// Supported inputs: numbers (treated as milliseconds), numeric strings,
// ISO-8601 strings, time.Time values and date objects of the form
// {"$date": <any supported>}. nil and "" report ok=false.
func ParseEpochMillis(v any) (int64, bool, error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false, fmt.Errorf("epoch millis: non-finite number")
		}
		return int64(t), true, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("epoch millis: %w", err)
		}
		return int64(f), true, nil
	case time.Time:
		if t.IsZero() {
			return 0, false, nil
		}
		return t.UnixMilli(), true, nil
	case *time.Time:
		if t == nil {
			return 0, false, nil
		}
		return ParseEpochMillis(*t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true, nil
		}
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UnixMilli(), true, nil
			}
		}
		return 0, false, fmt.Errorf("epoch millis: unrecognised timestamp %q", s)
	case map[string]any:
		if inner, ok := t["$date"]; ok {
			return ParseEpochMillis(inner)
		}
		return 0, false, fmt.Errorf("epoch millis: unsupported object")
	default:
		return 0, false, fmt.Errorf("epoch millis: unsupported type %T", v)
	}
}
