package dosing

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDescriptor_RoundTrip(t *testing.T) {
	in := Descriptor{Strategy: Periodic{Dose: dec("1"), IntervalHours: 8, ForDays: 3}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"PERIODIC"`) {
		t.Fatalf("expected type discriminator, got %s", raw)
	}

	var out Descriptor
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := out.Strategy.(Periodic)
	if !ok {
		t.Fatalf("expected Periodic, got %T", out.Strategy)
	}
	if p.IntervalHours != 8 || p.ForDays != 3 || !p.Dose.Equal(dec("1")) {
		t.Errorf("unexpected strategy: %+v", p)
	}
}

func TestDescriptor_UnmarshalVariants(t *testing.T) {
	tests := []struct {
		body string
		kind Kind
		qty  string
	}{
		{`{"type":"MEAL","breakfast":{"active":true,"dose":2},"lunch":{"active":false,"dose":0},"dinner":{"active":true,"dose":3},"for_days":5}`, KindMeal, "25"},
		{`{"type":"WHEN_NEEDED","dose":"1","times":6}`, KindWhenNeeded, "6"},
		{`{"type":"PERIODIC","dose":1,"interval_hours":8,"for_days":3}`, KindPeriodic, "9"},
		{`{"type":"OTHER","dose":1,"times":2,"details":"at night"}`, KindOther, "2"},
	}
	for _, tt := range tests {
		var d Descriptor
		if err := json.Unmarshal([]byte(tt.body), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.kind, err)
		}
		if d.Strategy.Kind() != tt.kind {
			t.Errorf("expected %s, got %s", tt.kind, d.Strategy.Kind())
		}
		qty, err := d.Quantity()
		if err != nil {
			t.Fatalf("quantity %s: %v", tt.kind, err)
		}
		if !qty.Equal(dec(tt.qty)) {
			t.Errorf("%s: expected %s, got %s", tt.kind, tt.qty, qty)
		}
	}
}

func TestDescriptor_UnknownType(t *testing.T) {
	for _, body := range []string{`{"type":"HOURLY"}`, `{"dose":1}`} {
		var d Descriptor
		err := json.Unmarshal([]byte(body), &d)
		if !errors.Is(err, ErrInvalidStrategy) {
			t.Errorf("%s: expected ErrInvalidStrategy, got %v", body, err)
		}
	}
}

func TestDescriptor_Null(t *testing.T) {
	raw, err := json.Marshal(Descriptor{})
	if err != nil || string(raw) != "null" {
		t.Fatalf("expected null, got %s (%v)", raw, err)
	}
	var d Descriptor
	if err := json.Unmarshal([]byte("null"), &d); err != nil || d.Strategy != nil {
		t.Fatalf("expected nil strategy, got %v (%v)", d.Strategy, err)
	}
}
