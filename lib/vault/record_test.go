package vault

import (
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

func TestParseContentStrict(t *testing.T) {
	rec, err := ParseContent(`{"type":"Weather","data":"40"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Type != "Weather" || rec.Data != "40" {
		t.Errorf("unexpected record %+v", rec)
	}

	rec, err = ParseContent(`{"type":"BTC","data":{"price":42000,"currency":"EUR"}}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	s, err := rec.DataString()
	if err != nil {
		t.Fatalf("data string failed: %v", err)
	}
	if s != `{"currency":"EUR","price":42000}` {
		t.Errorf("unexpected data string %s", s)
	}
}

func TestParseContentLenient(t *testing.T) {
	tests := []struct {
		content  string
		wantType string
		wantData string
	}{
		{`{ type: "Weather" data: "40" }`, "Weather", "40"},
		{`{type:"Weather", data: 40.5}`, "Weather", "40.5"},
		{`{"type":"Weather","data":40,}`, "Weather", "40"},
	}
	for _, tt := range tests {
		rec, err := ParseContent(tt.content)
		if err != nil {
			t.Errorf("%s: parse failed: %v", tt.content, err)
			continue
		}
		if rec.Type != tt.wantType || rec.Data != tt.wantData {
			t.Errorf("%s: got %+v", tt.content, rec)
		}
	}
}

func TestParseContentRejects(t *testing.T) {
	for _, content := range []string{
		``,
		`not json at all`,
		`{"type":"Weather"}`,
		`{"type":"","data":"40"}`,
		`{"type":"Weather","data":null}`,
	} {
		_, err := ParseContent(content)
		if store.CodeOf(err) != store.RetCValidation {
			t.Errorf("%q: expected validation error, got %v", content, err)
		}
	}
}

func TestMessageRecordCarriesMetadata(t *testing.T) {
	m := Message{Content: `{"type":"Weather","data":"40"}`, From: "Node-7", Timestamp: "2025-01-15T10:00:00Z", UUID: "u-1"}
	rec, err := m.Record()
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if rec.From != "Node-7" || rec.UUID != "u-1" || rec.Timestamp != m.Timestamp {
		t.Errorf("metadata not carried over: %+v", rec)
	}
}

func TestRecordValidate(t *testing.T) {
	if err := (Record{Type: "x", Data: 0}).Validate(); err != nil {
		t.Errorf("zero data is valid: %v", err)
	}
	if err := (Record{Type: " ", Data: "1"}).Validate(); store.CodeOf(err) != store.RetCValidation {
		t.Errorf("blank type must be rejected, got %v", err)
	}
	if err := (Record{Type: "x"}).Validate(); store.CodeOf(err) != store.RetCValidation {
		t.Errorf("missing data must be rejected, got %v", err)
	}
	if err := (SensorReading{Type: "sensor_data", Temperature: "21"}).Validate(); store.CodeOf(err) != store.RetCValidation {
		t.Errorf("missing humidity must be rejected, got %v", err)
	}
}

func TestTimestampMillis(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tests := []struct {
		in   string
		want int64
	}{
		{"", now.UnixMilli()},
		{"1736935200000", 1736935200000},
		{"2025-01-15T10:00:00Z", 1736935200000},
		{"2025-01-15T10:00:00.000Z", 1736935200000},
		{"yesterday", now.UnixMilli()},
	}
	for _, tt := range tests {
		if got := timestampMillis(tt.in, now); got != tt.want {
			t.Errorf("timestampMillis(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
