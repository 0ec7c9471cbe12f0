package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store/lstore"
	"github.com/ValentinKolb/ghostmesh/lib/vault"
	"github.com/ValentinKolb/ghostmesh/lib/wqueue"
)

const testBlockTime = 2 * time.Millisecond

func newServer(t *testing.T, withIdentity bool) *Server {
	t.Helper()
	st, err := lstore.NewLocalStore(lstore.Options{BlockTime: testBlockTime, Verifier: identity.VerifyTx})
	if err != nil {
		t.Fatalf("creating store failed: %v", err)
	}
	secret, err := crypt.GenerateKey()
	if err != nil {
		t.Fatalf("generating key failed: %v", err)
	}
	c, err := crypt.FromBase64(secret)
	if err != nil {
		t.Fatalf("creating cipher failed: %v", err)
	}
	var id *identity.Identity
	if withIdentity {
		if id, err = identity.Generate(); err != nil {
			t.Fatalf("generating identity failed: %v", err)
		}
	}
	cl := vault.New(st, c, id, vault.Options{
		BlockTime: testBlockTime,
		Queue:     wqueue.Options{MinDelay: 5 * time.Millisecond, RetryBackoff: 3 * time.Millisecond},
	})
	t.Cleanup(func() {
		_ = cl.Close(context.Background())
		_ = st.Close()
	})
	return NewServer(cl, Options{})
}

type response struct {
	code int
	body map[string]any
	hdr  http.Header
}

func do(t *testing.T, s *Server, method, path string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	out := response{code: rec.Code, hdr: rec.Header()}
	if rec.Header().Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(rec.Body).Decode(&out.body); err != nil {
			t.Fatalf("decode response of %s %s: %v", method, path, err)
		}
	}
	return out
}

func create(t *testing.T, s *Server, typ string, data any, ts string) string {
	t.Helper()
	resp := do(t, s, http.MethodPost, "/api/entities", map[string]any{"type": typ, "data": data, "timestamp": ts})
	if resp.code != http.StatusCreated || resp.body["success"] != true {
		t.Fatalf("create failed: %d %v", resp.code, resp.body)
	}
	return resp.body["entityKey"].(string)
}

func TestTypeQueryFilters(t *testing.T) {
	s := newServer(t, true)
	create(t, s, "temp", "25", "2025-11-16T08:00:00Z")
	create(t, s, "temp", "35", "2025-11-16T12:00:00Z")
	create(t, s, "temp", "a long description", "2025-11-17T12:00:00Z")
	create(t, s, "humidity", "80", "2025-11-16T12:00:00Z")

	resp := do(t, s, http.MethodGet, "/api/temp", nil)
	if resp.code != http.StatusOK || resp.body["count"] != float64(3) {
		t.Fatalf("unexpected response %d %v", resp.code, resp.body)
	}

	resp = do(t, s, http.MethodGet, "/api/temp?minData=30", nil)
	if resp.body["count"] != float64(1) || resp.body["totalBeforeFiltering"] != float64(3) {
		t.Errorf("minData=30: expected the numeric 35 only, got %v", resp.body["count"])
	}

	resp = do(t, s, http.MethodGet, "/api/temp?minData=10", nil)
	if resp.body["count"] != float64(3) {
		t.Errorf("minData=10: numbers by value, strings by length, got %v", resp.body["count"])
	}

	resp = do(t, s, http.MethodGet, "/api/temp?startTime=2025-11-16T00:00:00Z&endTime=2025-11-16T23:59:59Z", nil)
	if resp.body["count"] != float64(2) {
		t.Errorf("time range: expected 2, got %v", resp.body["count"])
	}
	filters := resp.body["filters"].(map[string]any)
	if filters["startTime"] != "2025-11-16T00:00:00Z" || filters["minData"] != nil {
		t.Errorf("unexpected filter echo %v", filters)
	}

	if got := resp.hdr.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("missing CORS header, got %q", got)
	}

	resp = do(t, s, http.MethodGet, "/api/entities", nil)
	if resp.body["count"] != float64(4) {
		t.Errorf("all entities: expected 4, got %v", resp.body["count"])
	}
}

func TestTypeQueryRejectsBadFilters(t *testing.T) {
	s := newServer(t, false)
	for _, path := range []string{
		"/api/temp?minData=-1",
		"/api/temp?minData=abc",
		"/api/temp?startTime=yesterday",
		"/api/temp?startTime=2025-11-17T00:00:00Z&endTime=2025-11-16T00:00:00Z",
	} {
		if resp := do(t, s, http.MethodGet, path, nil); resp.code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, resp.code)
		}
	}
}

func TestEntityLifecycle(t *testing.T) {
	s := newServer(t, true)

	resp := do(t, s, http.MethodPost, "/api/messages", map[string]any{
		"content": `{"type":"Weather","data":"40"}`, "from": "Node-1", "timestamp": "2025-01-15T10:00:00Z",
	})
	if resp.code != http.StatusCreated {
		t.Fatalf("message create failed: %d %v", resp.code, resp.body)
	}
	key := resp.body["entityKey"].(string)

	resp = do(t, s, http.MethodPut, "/api/entities/"+key, map[string]any{"type": "Weather", "data": "41", "expiresInHours": 1})
	if resp.code != http.StatusOK || resp.body["entityKey"] != key {
		t.Fatalf("update failed: %d %v", resp.code, resp.body)
	}

	resp = do(t, s, http.MethodPost, "/api/entities/"+key+"/extend", map[string]any{"additionalHours": 2})
	if resp.code != http.StatusOK || resp.body["newExpirationBlock"] == nil {
		t.Fatalf("extend failed: %d %v", resp.code, resp.body)
	}

	resp = do(t, s, http.MethodGet, "/api/Weather", nil)
	entities := resp.body["entities"].([]any)
	if len(entities) != 1 || entities[0].(map[string]any)["decryptedField"] != "41" {
		t.Fatalf("unexpected entities %v", entities)
	}

	if resp = do(t, s, http.MethodDelete, "/api/entities/"+key, nil); resp.code != http.StatusOK {
		t.Fatalf("delete failed: %d %v", resp.code, resp.body)
	}
	if resp = do(t, s, http.MethodDelete, "/api/entities/"+key, nil); resp.code != http.StatusNotFound || resp.body["success"] != false {
		t.Errorf("second delete: expected 404, got %d %v", resp.code, resp.body)
	}
}

func TestSensorEndpoint(t *testing.T) {
	s := newServer(t, true)
	resp := do(t, s, http.MethodPost, "/api/sensors", map[string]any{
		"temperature": "21.5", "humidity": "48", "pin": 4, "sensorType": "DHT22", "from": "pi",
	})
	if resp.code != http.StatusCreated {
		t.Fatalf("sensor create failed: %d %v", resp.code, resp.body)
	}
	resp = do(t, s, http.MethodGet, "/api/"+vault.SensorDataType, nil)
	entities := resp.body["entities"].([]any)
	data := entities[0].(map[string]any)["data"].(map[string]any)
	if data["temperature"] != "21.5" || data["humidity"] != "48" {
		t.Errorf("sensor values not decrypted: %v", data)
	}
}

func TestErrorsMapToStatus(t *testing.T) {
	s := newServer(t, false)

	resp := do(t, s, http.MethodPost, "/api/entities", map[string]any{"type": "Weather", "data": "40"})
	if resp.code != http.StatusServiceUnavailable || resp.body["errorKind"] != "ConfigurationError" {
		t.Errorf("read only client: expected 503, got %d %v", resp.code, resp.body)
	}

	resp = do(t, s, http.MethodPost, "/api/messages", map[string]any{"content": "garbage"})
	if resp.code != http.StatusBadRequest || resp.body["errorKind"] != "ValidationError" {
		t.Errorf("bad content: expected 400, got %d %v", resp.code, resp.body)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/entities", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json: expected 400, got %d", rec.Code)
	}
}

func TestStatusAndPreflight(t *testing.T) {
	s := newServer(t, true)

	resp := do(t, s, http.MethodGet, "/api/status", nil)
	if resp.body["status"] != "online" || resp.body["readOnly"] != false || resp.body["queueDepth"] == nil {
		t.Errorf("unexpected status %v", resp.body)
	}

	resp = do(t, s, http.MethodOptions, "/api/temp", nil)
	if resp.code != http.StatusOK || resp.hdr.Get("Access-Control-Allow-Methods") == "" {
		t.Errorf("preflight failed: %d %v", resp.code, resp.hdr)
	}
}
