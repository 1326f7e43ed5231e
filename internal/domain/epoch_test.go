package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseEpochMillis_Representations(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	cases := []struct {
		name string
		in   any
	}{
		{"int64", want},
		{"float64", float64(want)},
		{"json number", json.Number("1740830400000")},
		{"numeric string", "1740830400000"},
		{"iso string", "2025-03-01T12:00:00Z"},
		{"iso with offset", "2025-03-01T14:00:00+02:00"},
		{"iso fractional", "2025-03-01T12:00:00.000Z"},
		{"time.Time", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"date object", map[string]any{"$date": "2025-03-01T12:00:00Z"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := ParseEpochMillis(tc.in)
			if err != nil || !ok {
				t.Fatalf("ParseEpochMillis(%v) = %d, %v, %v", tc.in, got, ok, err)
			}
			if got != want {
				t.Fatalf("got %d want %d", got, want)
			}
		})
	}
}

func TestParseEpochMillis_AbsentAndInvalid(t *testing.T) {
	for _, in := range []any{nil, "", "  ", time.Time{}} {
		if _, ok, err := ParseEpochMillis(in); ok || err != nil {
			t.Fatalf("ParseEpochMillis(%#v) should be absent, got ok=%v err=%v", in, ok, err)
		}
	}
	for _, in := range []any{"yesterday", true, map[string]any{"x": 1}} {
		if _, _, err := ParseEpochMillis(in); err == nil {
			t.Fatalf("ParseEpochMillis(%#v) should fail", in)
		}
	}
}

func TestEpochMillis_JSON(t *testing.T) {
	var body struct {
		Start EpochMillis `json:"start"`
		End   EpochMillis `json:"end"`
		Gone  EpochMillis `json:"gone"`
	}
	raw := `{"start":1740830400000,"end":"2025-03-01T12:00:00Z","gone":null}`
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.Start.Valid || body.Start.Value != 1740830400000 {
		t.Fatalf("start unexpected: %+v", body.Start)
	}
	if !body.End.Valid || body.End.Value != 1740830400000 {
		t.Fatalf("end unexpected: %+v", body.End)
	}
	if body.Gone.Valid || body.Gone.Ptr() != nil {
		t.Fatalf("null should decode to invalid")
	}
	if p := body.End.Ptr(); p == nil || *p != body.End.Value {
		t.Fatalf("Ptr unexpected")
	}
	if !body.Start.Time().Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("Time() unexpected: %v", body.Start.Time())
	}

	out, err := json.Marshal(body.Start)
	if err != nil || string(out) != "1740830400000" {
		t.Fatalf("marshal: %s %v", out, err)
	}
	out, _ = json.Marshal(body.Gone)
	if string(out) != "null" {
		t.Fatalf("marshal invalid: %s", out)
	}

	var bad EpochMillis
	if err := json.Unmarshal([]byte(`"not a date"`), &bad); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
}
