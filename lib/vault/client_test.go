package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/store/lstore"
	"github.com/ValentinKolb/ghostmesh/lib/wqueue"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testBlockTime = 2 * time.Millisecond

// countingStore counts the mutations that reach the backend
type countingStore struct {
	store.IEntityStore
	mutations atomic.Int64
}

func (c *countingStore) CreateEntity(tx store.Tx, payload []byte, attrs []store.Attribute, expiresIn uint64) (string, error) {
	c.mutations.Add(1)
	return c.IEntityStore.CreateEntity(tx, payload, attrs, expiresIn)
}

func (c *countingStore) UpdateEntity(tx store.Tx, key string, payload []byte, attrs []store.Attribute, expiresIn uint64) (string, error) {
	c.mutations.Add(1)
	return c.IEntityStore.UpdateEntity(tx, key, payload, attrs, expiresIn)
}

func newBackend(t *testing.T) *countingStore {
	t.Helper()
	s, err := lstore.NewLocalStore(lstore.Options{BlockTime: testBlockTime, Verifier: identity.VerifyTx})
	if err != nil {
		t.Fatalf("creating store failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &countingStore{IEntityStore: s}
}

func newCipher(t *testing.T) *crypt.Cipher {
	t.Helper()
	secret, err := crypt.GenerateKey()
	if err != nil {
		t.Fatalf("generating key failed: %v", err)
	}
	c, err := crypt.FromBase64(secret)
	if err != nil {
		t.Fatalf("creating cipher failed: %v", err)
	}
	return c
}

func newClient(t *testing.T, st store.IEntityStore, c *crypt.Cipher) *Client {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating identity failed: %v", err)
	}
	cl := New(st, c, id, Options{
		BlockTime: testBlockTime,
		Queue:     wqueue.Options{MinDelay: 5 * time.Millisecond, RetryBackoff: 3 * time.Millisecond},
	})
	t.Cleanup(func() { _ = cl.Close(context.Background()) })
	return cl
}

func testCtx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestWeatherRoundTrip(t *testing.T) {
	st := newBackend(t)
	cl := newClient(t, st, newCipher(t))

	rec, err := Message{
		Content:   `{"type":"Weather","data":"40"}`,
		From:      "Node-1",
		Timestamp: "2025-01-15T10:00:00Z",
		UUID:      "msg-1",
	}.Record()
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	key, err := cl.Create(testCtx(t), rec)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := st.GetEntity(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(stored.Payload, &env); err != nil {
		t.Fatalf("payload is not an envelope: %v", err)
	}
	if !env.Encrypted || env.Data.Content == "" || env.Data.Content == "40" {
		t.Fatalf("content must be stored encrypted, got %+v", env.Data)
	}
	if env.Data.Source != Source || env.Data.UUID == nil || *env.Data.UUID != "msg-1" {
		t.Errorf("unexpected envelope metadata %+v", env.Data)
	}

	attrs := stored.AttributeMap()
	want := map[string]string{
		"type":      "Weather",
		"source":    Source,
		"uuid":      "msg-1",
		"from":      "Node-1",
		"timestamp": "1736935200000",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
	if attrs["id"] == "" || attrs["created"] == "" {
		t.Errorf("id and created attributes must be set: %v", attrs)
	}
	if stored.Owner != cl.Address() {
		t.Errorf("owner %s, want %s", stored.Owner, cl.Address())
	}

	entities, err := cl.Read(testCtx(t), "Weather")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}
	e := entities[0]
	if e.EntityKey != key || e.Data["content"] != "40" || e.DecryptionError != "" {
		t.Errorf("unexpected entity %+v", e)
	}
	if e.DecryptedField == nil || *e.DecryptedField != "40" || e.EncryptedField == nil || *e.EncryptedField != env.Data.Content {
		t.Errorf("encrypted/decrypted fields not set: %+v", e)
	}
	if e.Type() != "Weather" {
		t.Errorf("type %q", e.Type())
	}

	other, err := cl.Read(testCtx(t), "BTC")
	if err != nil || len(other) != 0 {
		t.Errorf("type filter leaked entities: %v %v", other, err)
	}
}

func TestConcurrentCreatesAreSerialized(t *testing.T) {
	st := newBackend(t)
	cl := newClient(t, st, newCipher(t))

	const n = 5
	keys := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = cl.Create(testCtx(t), Record{Type: "Weather", Data: fmt.Sprintf("%d", 40+i)})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create %d failed: %v", i, errs[i])
		}
		if seen[keys[i]] {
			t.Fatalf("duplicate key %s", keys[i])
		}
		seen[keys[i]] = true
	}

	if got := st.mutations.Load(); got != n {
		t.Errorf("expected %d store calls without conflicts, got %d", n, got)
	}
	nonce, err := st.NonceAt(cl.Address())
	if err != nil || nonce != n {
		t.Errorf("nonce after %d creates = %d (%v)", n, nonce, err)
	}

	entities, err := cl.Read(testCtx(t), "Weather")
	if err != nil || len(entities) != n {
		t.Fatalf("expected %d entities, got %d (%v)", n, len(entities), err)
	}
}

func TestDeleteThenRead(t *testing.T) {
	cl := newClient(t, newBackend(t), newCipher(t))

	key, err := cl.Create(testCtx(t), Record{Type: "Weather", Data: "40"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := cl.Delete(testCtx(t), key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	entities, err := cl.Read(testCtx(t), "Weather")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entities) != 0 {
		t.Errorf("deleted entity still readable: %+v", entities)
	}

	if _, err := cl.Delete(testCtx(t), key); !store.IsNotFound(err) {
		t.Errorf("second delete should be not found, got %v", err)
	}
}

func TestDecryptionFailureIsPerEntity(t *testing.T) {
	st := newBackend(t)
	a := newClient(t, st, newCipher(t))
	b := newClient(t, st, newCipher(t))

	if _, err := a.Create(testCtx(t), Record{Type: "Weather", Data: "foreign"}); err != nil {
		t.Fatalf("create a failed: %v", err)
	}
	ownKey, err := b.Create(testCtx(t), Record{Type: "Weather", Data: "own"})
	if err != nil {
		t.Fatalf("create b failed: %v", err)
	}

	entities, err := b.Read(testCtx(t), "Weather")
	if err != nil {
		t.Fatalf("read must not fail on undecryptable entities: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	for _, e := range entities {
		if e.EntityKey == ownKey {
			if e.DecryptionError != "" || e.Data["content"] != "own" {
				t.Errorf("own entity not decrypted: %+v", e)
			}
			continue
		}
		if e.DecryptionError == "" || e.Data["decryptionError"] == nil {
			t.Errorf("foreign entity must carry a decryption error: %+v", e)
		}
		if e.DecryptedField != nil {
			t.Errorf("foreign entity must not have plaintext: %+v", e)
		}
	}
}

func TestReadOnlyClient(t *testing.T) {
	st := newBackend(t)
	cl := New(st, newCipher(t), nil, Options{})

	if _, err := cl.Create(testCtx(t), Record{Type: "Weather", Data: "40"}); store.CodeOf(err) != store.RetCConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := cl.Extend(testCtx(t), "0x1", 0); store.CodeOf(err) != store.RetCConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := cl.Read(testCtx(t), ""); err != nil {
		t.Errorf("reads need no identity: %v", err)
	}
	if cl.Address() != "" {
		t.Errorf("read only client has no address")
	}
	if err := cl.Close(testCtx(t)); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestInvalidRecordNeverReachesStore(t *testing.T) {
	st := newBackend(t)
	cl := newClient(t, st, newCipher(t))

	_, err := cl.Create(testCtx(t), Record{Type: "", Data: "40"})
	if store.CodeOf(err) != store.RetCValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = cl.Create(testCtx(t), Record{Type: "Weather", Data: "   "})
	if store.CodeOf(err) != store.RetCEncryption {
		t.Fatalf("expected encryption error for blank data, got %v", err)
	}
	if st.mutations.Load() != 0 {
		t.Errorf("invalid records must not reach the store")
	}
}

func TestSensorReading(t *testing.T) {
	st := newBackend(t)
	cl := newClient(t, st, newCipher(t))

	key, err := cl.CreateSensor(testCtx(t), SensorReading{
		Type:        SensorDataType,
		Timestamp:   "2025-01-15T10:00:00Z",
		Temperature: "21.5",
		Humidity:    "48",
		Pin:         4,
		SensorType:  "DHT22",
	}, "Node-2", "msg-9")
	if err != nil {
		t.Fatalf("create sensor failed: %v", err)
	}

	stored, err := st.GetEntity(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(stored.Payload, &env); err != nil {
		t.Fatalf("payload is not an envelope: %v", err)
	}
	if env.Data.Temperature == "21.5" || env.Data.Humidity == "48" || !env.Data.Encrypted {
		t.Fatalf("sensor values must be encrypted: %+v", env.Data)
	}
	attrs := stored.AttributeMap()
	if attrs["sensorType"] != "DHT22" || attrs["pin"] != "4" || attrs["type"] != SensorDataType || attrs["from"] != "Node-2" {
		t.Errorf("unexpected attributes %v", attrs)
	}

	entities, err := cl.Read(testCtx(t), SensorDataType)
	if err != nil || len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d (%v)", len(entities), err)
	}
	e := entities[0]
	if e.Data["temperature"] != "21.5" || e.Data["humidity"] != "48" || e.DecryptionError != "" {
		t.Errorf("sensor values not decrypted: %+v", e.Data)
	}
}

func TestUpdateAndExtend(t *testing.T) {
	st := newBackend(t)
	cl := newClient(t, st, newCipher(t))

	key, err := cl.Create(testCtx(t), Record{Type: "Weather", Data: "40", From: "a-very-long-sender-name-that-is-truncated"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	before, err := st.GetEntity(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if from, _ := before.Attribute("from"); len(from) != maxFromLen {
		t.Errorf("from attribute must be truncated to %d, got %q", maxFromLen, from)
	}

	if _, err := cl.Update(testCtx(t), key, Record{Type: "Weather", Data: map[string]any{"celsius": 41}}, time.Second); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	entities, err := cl.Read(testCtx(t), "Weather")
	if err != nil || len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d (%v)", len(entities), err)
	}
	if entities[0].Data["content"] != `{"celsius":41}` {
		t.Errorf("unexpected content %v", entities[0].Data["content"])
	}
	if entities[0].Attributes["updated"] == "" {
		t.Errorf("update must set the updated attribute")
	}
	if ts, _ := entities[0].Data["timestamp"].(string); ts == "" {
		t.Errorf("update must default the timestamp")
	}

	updated, err := st.GetEntity(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	newExpiry, err := cl.Extend(testCtx(t), key, time.Second)
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if want := updated.ExpiresAt + store.BlocksFor(time.Second, testBlockTime); newExpiry != want {
		t.Errorf("extend returned %d, want %d", newExpiry, want)
	}
}

func TestResults(t *testing.T) {
	if r := CreateResult("0xabc", nil); !r.Success || r.EntityKey != "0xabc" {
		t.Errorf("unexpected result %+v", r)
	}
	r := ExtendResult("", 0, store.NewError(store.RetCNotFound, "entity 0x1 not found"))
	if r.Success || r.ErrorKind != store.RetCNotFound.String() || r.Error == "" {
		t.Errorf("unexpected failure result %+v", r)
	}
	if r := ReadResult(nil, nil); !r.Success || r.Entities == nil {
		t.Errorf("empty read must carry an empty list: %+v", r)
	}
}

func TestEmptyReadEncodesList(t *testing.T) {
	b, err := json.Marshal(ReadResult(nil, nil))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(b), `"entities":[]`) {
		t.Errorf("empty read must encode an empty entities list, got %s", b)
	}
}

func TestFromIsTruncatedOnRunes(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{"ascii", "a-very-long-sender-name-that-is-truncated", "a-very-long-sender-n"},
		{"two byte runes", "a" + strings.Repeat("é", 25), "a" + strings.Repeat("é", maxFromLen-1)},
		{"four byte runes", strings.Repeat("📡", 21), strings.Repeat("📡", maxFromLen)},
		{"short multibyte", "Node-📡", "Node-📡"},
	}
	c := &Client{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := c.identityAttrs("", tt.from)
			if len(attrs) != 1 || attrs[0].Key != "from" {
				t.Fatalf("unexpected attributes %+v", attrs)
			}
			got := attrs[0].Value
			if !utf8.ValidString(got) {
				t.Fatalf("truncated from is not valid UTF-8: %q", got)
			}
			if got != tt.want {
				t.Errorf("from = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperationsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	st := newBackend(t)
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generating identity failed: %v", err)
	}
	cl := New(st, newCipher(t), id, Options{
		BlockTime: testBlockTime,
		Queue:     wqueue.Options{MinDelay: 5 * time.Millisecond},
		Tracer:    tp.Tracer("test"),
	})
	defer func() { _ = cl.Close(context.Background()) }()

	if _, err := cl.Create(testCtx(t), Record{Type: "Weather", Data: "40"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := cl.Delete(testCtx(t), "0xmissing"); err == nil {
		t.Fatal("delete of a missing key must fail")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "vault.Create" || spans[0].Status().Code != codes.Unset {
		t.Errorf("unexpected create span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "vault.Delete" || spans[1].Status().Code != codes.Error {
		t.Errorf("failed delete must mark the span, got %s %v", spans[1].Name(), spans[1].Status())
	}
}
