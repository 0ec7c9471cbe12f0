package entity

import (
	"testing"
	"time"
)

func TestParseData(t *testing.T) {
	if v, ok := parseData(`{"temp":21.5}`).(map[string]any); !ok || v["temp"] != 21.5 {
		t.Errorf("JSON object should stay structured, got %#v", parseData(`{"temp":21.5}`))
	}
	if v := parseData("42"); v != float64(42) {
		t.Errorf("JSON number should parse, got %#v", v)
	}
	if v := parseData("hello world"); v != "hello world" {
		t.Errorf("plain text should stay a string, got %#v", v)
	}
}

func TestShouldSkip(t *testing.T) {
	benchSkip = []string{"read", " extend", "delete"}
	defer func() { benchSkip = nil }()

	if !shouldSkip("read") || !shouldSkip("extend") {
		t.Error("listed steps should be skipped")
	}
	if shouldSkip("create") {
		t.Error("create is not listed")
	}
	if shouldSkip("delete") {
		t.Error("delete must always run")
	}
}

func TestOpsPerSec(t *testing.T) {
	if got := opsPerSec(10, 2*time.Second); got != 5 {
		t.Errorf("expected 5 ops/sec, got %f", got)
	}
	if got := opsPerSec(10, 0); got != 0 {
		t.Errorf("zero duration should give 0, got %f", got)
	}
}
