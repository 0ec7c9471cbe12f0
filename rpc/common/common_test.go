package common

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

func TestDemoteFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("relay", &buf)
	l.SetLevel(logger.INFO)

	SetDemoteFilter(func(pkg, msg string) bool {
		return pkg == "relay" && strings.Contains(msg, "filter not found")
	})
	defer SetDemoteFilter(nil)

	l.Errorf("poll failed: %s", "filter not found")
	if buf.Len() != 0 {
		t.Errorf("demoted error must be hidden at INFO, got %q", buf.String())
	}

	l.Errorf("poll failed: %s", "connection refused")
	if !strings.Contains(buf.String(), "ERROR | relay") {
		t.Errorf("other errors must stay errors, got %q", buf.String())
	}

	buf.Reset()
	l.SetLevel(logger.DEBUG)
	l.Warningf("filter not found")
	if !strings.Contains(buf.String(), "DEBUG | relay") {
		t.Errorf("demoted warning should be written at DEBUG, got %q", buf.String())
	}

	buf.Reset()
	other := newLogger("store", &buf)
	other.Errorf("filter not found")
	if !strings.Contains(buf.String(), "ERROR | store") {
		t.Errorf("filter is per package, got %q", buf.String())
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger("api", &buf)
	l.SetLevel(logger.WARNING)

	l.Infof("hidden")
	l.Debugf("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below WARNING, got %q", buf.String())
	}
	l.Warningf("shown")
	if !strings.Contains(buf.String(), "WARN  | api") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug": logger.DEBUG, "INFO": logger.INFO, "warn": logger.WARNING,
		"warning": logger.WARNING, "error": logger.ERROR,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if err := InitLoggers("nope"); err == nil {
		t.Error("InitLoggers must reject an unknown level")
	}
}

func TestMessageErrorClassification(t *testing.T) {
	resp := NewCreateResponse("", store.NewError(store.RetCTransient, "nonce too low: next nonce is 2, got 1"))

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.MsgType != MsgTCreate {
		t.Errorf("expected create, got %s", decoded.MsgType)
	}
	if !store.IsTransient(decoded.Error()) {
		t.Errorf("expected transient error after transport, got %v", decoded.Error())
	}
	if NewCreateResponse("0x1", nil).Error() != nil {
		t.Error("a response without Err must not carry an error")
	}
}

func TestMessageTypeJSON(t *testing.T) {
	for typ := MsgTSuccess; typ <= MsgTUninstallFilter; typ++ {
		data, err := json.Marshal(typ)
		if err != nil {
			t.Fatalf("marshal %d: %v", typ, err)
		}
		var back MessageType
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != typ {
			t.Errorf("expected %s, got %s", typ, back)
		}
	}
	var bad MessageType
	if err := json.Unmarshal([]byte(`"teleport"`), &bad); err == nil {
		t.Error("expected an error for an unknown type")
	}
}

func TestConfigStrings(t *testing.T) {
	node := NodeConfig{
		Shards:    []ServerShard{{ShardID: 2, Journal: "sqlite:///tmp/a.db"}, {ShardID: 1}},
		BlockTime: 2 * time.Second,
		Endpoint:  "0.0.0.0:8080",
		LogLevel:  "info",
	}
	out := node.String()
	for _, want := range []string{"0.0.0.0:8080", "memory only", "sqlite:///tmp/a.db", "2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("node config output misses %q:\n%s", want, out)
		}
	}

	api := APIConfig{PrivateKey: "0xsecret", EncryptionKey: ""}
	out = api.String()
	if strings.Contains(out, "0xsecret") {
		t.Error("secrets must not be printed")
	}
	if !strings.Contains(out, "(set)") || !strings.Contains(out, "(not set)") {
		t.Errorf("expected set/not set markers:\n%s", out)
	}
}
