package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// StoreFactory is a function that creates a new, empty IEntityStore
type StoreFactory func() store.IEntityStore

// RunEntityStoreTests runs the conformance suite against an IEntityStore implementation.
func RunEntityStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Create&Get", func(t *testing.T) {
			testCreateGet(t, factory())
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Extend", func(t *testing.T) {
			testExtend(t, factory())
		})

		t.Run("Query", func(t *testing.T) {
			testQuery(t, factory())
		})

		t.Run("Nonces", func(t *testing.T) {
			testNonces(t, factory())
		})

		t.Run("Ownership", func(t *testing.T) {
			testOwnership(t, factory())
		})

		t.Run("Subscription", func(t *testing.T) {
			testSubscription(t, factory())
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const (
	maxAttempts  = 500
	retryBackoff = 2 * time.Millisecond
)

// Signer submits signed mutations for one identity and retries transient rejections
type Signer struct {
	ID    *identity.Identity
	Store store.IEntityStore
}

// NewSigner creates a signer with a fresh identity
func NewSigner(tb testing.TB, s store.IEntityStore) *Signer {
	tb.Helper()
	id, err := identity.Generate()
	if err != nil {
		tb.Fatalf("failed to generate identity: %v", err)
	}
	return &Signer{ID: id, Store: s}
}

// Tx builds a signed transaction for the next nonce of the signer
func (s *Signer) Tx(op store.Op, key string, payload []byte, attrs []store.Attribute, expiry uint64) (store.Tx, error) {
	nonce, err := s.Store.NonceAt(s.ID.Address())
	if err != nil {
		return store.Tx{}, err
	}
	return s.ID.Sign(op, store.TxDigest(op, key, payload, attrs, expiry, nonce), nonce)
}

func (s *Signer) retry(fn func() error) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if err = fn(); !store.IsTransient(err) {
			return err
		}
		time.Sleep(retryBackoff)
	}
	return err
}

func (s *Signer) Create(payload []byte, attrs []store.Attribute, expiresIn uint64) (key string, err error) {
	err = s.retry(func() error {
		tx, err := s.Tx(store.OpCreate, "", payload, attrs, expiresIn)
		if err != nil {
			return err
		}
		key, err = s.Store.CreateEntity(tx, payload, attrs, expiresIn)
		return err
	})
	return key, err
}

func (s *Signer) Update(key string, payload []byte, attrs []store.Attribute, expiresIn uint64) error {
	return s.retry(func() error {
		tx, err := s.Tx(store.OpUpdate, key, payload, attrs, expiresIn)
		if err != nil {
			return err
		}
		_, err = s.Store.UpdateEntity(tx, key, payload, attrs, expiresIn)
		return err
	})
}

func (s *Signer) Delete(key string) error {
	return s.retry(func() error {
		tx, err := s.Tx(store.OpDelete, key, nil, nil, 0)
		if err != nil {
			return err
		}
		_, err = s.Store.DeleteEntity(tx, key)
		return err
	})
}

func (s *Signer) Extend(key string, by uint64) (newExpiresAt uint64, err error) {
	err = s.retry(func() error {
		tx, err := s.Tx(store.OpExtend, key, nil, nil, by)
		if err != nil {
			return err
		}
		newExpiresAt, err = s.Store.ExtendEntity(tx, key, by)
		return err
	})
	return newExpiresAt, err
}

func mustCreate(t *testing.T, s *Signer, payload string, attrs ...store.Attribute) string {
	t.Helper()
	key, err := s.Create([]byte(payload), attrs, 1000)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if key == "" {
		t.Fatal("create returned an empty key")
	}
	return key
}

func typeAttr(v string) store.Attribute {
	return store.Attribute{Key: "type", Value: v}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateGet(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)
	payload := []byte(`{"encrypted":true,"data":{"type":"Weather"}}`)
	attrs := []store.Attribute{typeAttr("Weather"), {Key: "source", Value: "ghostmesh-server"}, {Key: "id", Value: "1"}}

	key, err := signer.Create(payload, attrs, 1000)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	e, err := s.GetEntity(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e.Key != key {
		t.Errorf("expected key %s, got %s", key, e.Key)
	}
	if !bytes.Equal(e.Payload, payload) {
		t.Errorf("expected payload %s, got %s", payload, e.Payload)
	}
	if e.Owner != signer.ID.Address() {
		t.Errorf("expected owner %s, got %s", signer.ID.Address(), e.Owner)
	}
	if len(e.Attributes) != len(attrs) {
		t.Fatalf("expected %d attributes, got %d", len(attrs), len(e.Attributes))
	}
	for i := range attrs {
		if e.Attributes[i] != attrs[i] {
			t.Errorf("attribute %d: expected %v, got %v", i, attrs[i], e.Attributes[i])
		}
	}
	if e.ExpiresAt < e.CreatedAt+1000 {
		t.Errorf("expected expiry at least %d, got %d", e.CreatedAt+1000, e.ExpiresAt)
	}

	// Get must return a copy
	e.Payload[0] = 'X'
	again, _ := s.GetEntity(key)
	if !bytes.Equal(again.Payload, payload) {
		t.Error("GetEntity should return a copy, not a reference to the stored value")
	}

	if _, err := s.GetEntity("0xdoesnotexist"); !store.IsNotFound(err) {
		t.Errorf("expected NotFoundError for a missing key, got %v", err)
	}

	second := mustCreate(t, signer, "second", typeAttr("Weather"))
	if second == key {
		t.Error("two creates returned the same key")
	}
}

func testUpdate(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)
	key := mustCreate(t, signer, "v1", typeAttr("Weather"), store.Attribute{Key: "uuid", Value: "u1"})
	before, _ := s.GetEntity(key)

	newAttrs := []store.Attribute{typeAttr("Weather"), {Key: "updated", Value: "1"}}
	if err := signer.Update(key, []byte("v2"), newAttrs, 2000); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	e, err := s.GetEntity(key)
	if err != nil {
		t.Fatalf("get after update failed: %v", err)
	}
	if string(e.Payload) != "v2" {
		t.Errorf("expected payload v2, got %s", e.Payload)
	}
	if _, ok := e.Attribute("uuid"); ok {
		t.Error("update must replace the attributes, uuid is still present")
	}
	if v, _ := e.Attribute("updated"); v != "1" {
		t.Errorf("expected updated=1, got %q", v)
	}
	if e.CreatedAt != before.CreatedAt {
		t.Errorf("update must keep the creation block, %d != %d", e.CreatedAt, before.CreatedAt)
	}
	if e.ExpiresAt < before.CreatedAt+2000 {
		t.Errorf("update must reset the expiry, got %d", e.ExpiresAt)
	}

	if err := signer.Update("0xdoesnotexist", []byte("x"), nil, 10); !store.IsNotFound(err) {
		t.Errorf("expected NotFoundError when updating a missing key, got %v", err)
	}
}

func testDelete(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)
	key := mustCreate(t, signer, "to-delete", typeAttr("Weather"))
	keep := mustCreate(t, signer, "to-keep", typeAttr("Weather"))

	if err := signer.Delete(key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetEntity(key); !store.IsNotFound(err) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}

	list, err := s.QueryEntities(store.Where("type", "Weather"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(list) != 1 || list[0].Key != keep {
		t.Errorf("deleted entity still listed: %+v", list)
	}

	if err := signer.Delete(key); !store.IsNotFound(err) {
		t.Errorf("expected NotFoundError when deleting twice, got %v", err)
	}
}

func testExtend(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)
	key := mustCreate(t, signer, "payload", typeAttr("Weather"))
	before, _ := s.GetEntity(key)

	newExpiry, err := signer.Extend(key, 500)
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if newExpiry != before.ExpiresAt+500 {
		t.Errorf("expected new expiry %d, got %d", before.ExpiresAt+500, newExpiry)
	}

	after, _ := s.GetEntity(key)
	if after.ExpiresAt != newExpiry {
		t.Errorf("stored expiry %d does not match returned %d", after.ExpiresAt, newExpiry)
	}
	if string(after.Payload) != "payload" {
		t.Errorf("extend must not touch the payload, got %s", after.Payload)
	}

	if _, err := signer.Extend("0xdoesnotexist", 10); !store.IsNotFound(err) {
		t.Errorf("expected NotFoundError when extending a missing key, got %v", err)
	}
}

func testQuery(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)
	for i := 0; i < 3; i++ {
		mustCreate(t, signer, fmt.Sprintf("w%d", i), typeAttr("Weather"))
	}
	mustCreate(t, signer, "b0", typeAttr("BTC"))

	weather, err := s.QueryEntities(store.Where("type", "Weather"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(weather) != 3 {
		t.Errorf("expected 3 Weather entities, got %d", len(weather))
	}
	for _, e := range weather {
		if v, _ := e.Attribute("type"); v != "Weather" {
			t.Errorf("query returned entity of type %s", v)
		}
	}

	all, err := s.QueryEntities(store.Query{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 entities for the empty query, got %d", len(all))
	}

	none, err := s.QueryEntities(store.Where("type", "Nothing"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no entities, got %d", len(none))
	}
}

func testNonces(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)
	addr := signer.ID.Address()

	if n, err := s.NonceAt(addr); err != nil || n != 0 {
		t.Fatalf("fresh account: expected nonce 0, got %d (%v)", n, err)
	}
	mustCreate(t, signer, "a", typeAttr("N"))
	mustCreate(t, signer, "b", typeAttr("N"))
	if n, _ := s.NonceAt(addr); n != 2 {
		t.Errorf("expected nonce 2 after two creates, got %d", n)
	}

	payload := []byte("stale")
	stale, _ := signer.ID.Sign(store.OpCreate, store.TxDigest(store.OpCreate, "", payload, nil, 10, 0), 0)
	if _, err := s.CreateEntity(stale, payload, nil, 10); !store.IsTransient(err) {
		t.Errorf("expected a transient error for a stale nonce, got %v", err)
	}

	future, _ := signer.ID.Sign(store.OpCreate, store.TxDigest(store.OpCreate, "", payload, nil, 10, 7), 7)
	_, err := s.CreateEntity(future, payload, nil, 10)
	if err == nil || store.IsTransient(err) {
		t.Errorf("expected a terminal error for a future nonce, got %v", err)
	}

	if n, _ := s.NonceAt(addr); n != 2 {
		t.Errorf("rejected transactions must not consume nonces, got %d", n)
	}
}

func testOwnership(t *testing.T, s store.IEntityStore) {
	owner := NewSigner(t, s)
	other := NewSigner(t, s)
	key := mustCreate(t, owner, "mine", typeAttr("Weather"))

	err := other.Update(key, []byte("stolen"), nil, 10)
	if err == nil || store.IsTransient(err) || store.IsNotFound(err) {
		t.Errorf("expected a store error for a foreign update, got %v", err)
	}
	if err := other.Delete(key); err == nil {
		t.Error("a foreign delete must fail")
	}

	e, err := s.GetEntity(key)
	if err != nil || string(e.Payload) != "mine" {
		t.Errorf("entity changed by a foreign account: %v %s", err, e.Payload)
	}
}

func testSubscription(t *testing.T, s store.IEntityStore) {
	signer := NewSigner(t, s)

	events := make(chan store.Event, 16)
	forward := func(ev store.Event) { events <- ev }
	stop, err := s.SubscribeEntityEvents(store.EventHandlers{
		OnCreated:  forward,
		OnUpdated:  forward,
		OnDeleted:  forward,
		OnExtended: forward,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer stop()

	key := mustCreate(t, signer, "observed", typeAttr("Weather"))
	if err := signer.Update(key, []byte("changed"), []store.Attribute{typeAttr("Weather")}, 100); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	newExpiry, err := signer.Extend(key, 50)
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if err := signer.Delete(key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	want := []store.EventType{store.EventCreated, store.EventUpdated, store.EventExtended, store.EventDeleted}
	for _, typ := range want {
		select {
		case ev := <-events:
			if ev.Type != typ || ev.Key != key {
				t.Fatalf("expected %s for %s, got %s for %s", typ, key, ev.Type, ev.Key)
			}
			if typ == store.EventExtended && ev.NewExpiresAt != newExpiry {
				t.Errorf("expected new expiry %d in event, got %d", newExpiry, ev.NewExpiresAt)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s event", typ)
		}
	}
}

func testConcurrentWriters(t *testing.T, s store.IEntityStore) {
	const writers = 5
	const perWriter = 4

	var wg sync.WaitGroup
	var mu sync.Mutex
	keys := make(map[string]bool)
	errs := make(chan error, writers*perWriter)

	for w := 0; w < writers; w++ {
		signer := NewSigner(t, s)
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key, err := signer.Create([]byte(fmt.Sprintf("w%d-%d", w, i)), []store.Attribute{typeAttr("Concurrent")}, 1000)
				if err != nil {
					errs <- err
					continue
				}
				mu.Lock()
				keys[key] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent create failed: %v", err)
	}
	if len(keys) != writers*perWriter {
		t.Errorf("expected %d distinct keys, got %d", writers*perWriter, len(keys))
	}

	list, _ := s.QueryEntities(store.Where("type", "Concurrent"))
	if len(list) != writers*perWriter {
		t.Errorf("expected %d entities, got %d", writers*perWriter, len(list))
	}
}
