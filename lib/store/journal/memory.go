package journal

import (
	"sync"

	"github.com/ValentinKolb/ghostmesh/lib/store"
)

// MemoryJournal keeps the journal in process memory
type MemoryJournal struct {
	mu       sync.Mutex
	entities map[string]store.Entity
	nonces   map[string]uint64
	meta     map[string]string
}

// NewMemoryJournal creates an empty in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entities: make(map[string]store.Entity),
		nonces:   make(map[string]uint64),
		meta:     make(map[string]string),
	}
}

func (j *MemoryJournal) Put(e store.Entity) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entities[e.Key] = cloneEntity(e)
	return nil
}

func (j *MemoryJournal) Remove(key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entities, key)
	return nil
}

func (j *MemoryJournal) PutAccount(address string, nonce uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nonces[address] = nonce
	return nil
}

func (j *MemoryJournal) PutMeta(key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.meta[key] = value
	return nil
}

func (j *MemoryJournal) Load() (Snapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		Entities: make([]store.Entity, 0, len(j.entities)),
		Nonces:   make(map[string]uint64, len(j.nonces)),
		Meta:     make(map[string]string, len(j.meta)),
	}
	for _, e := range j.entities {
		snap.Entities = append(snap.Entities, cloneEntity(e))
	}
	for k, v := range j.nonces {
		snap.Nonces[k] = v
	}
	for k, v := range j.meta {
		snap.Meta[k] = v
	}
	return snap, nil
}

func (j *MemoryJournal) Close() error { return nil }

func cloneEntity(e store.Entity) store.Entity {
	out := e
	out.Payload = append([]byte(nil), e.Payload...)
	out.Attributes = append([]store.Attribute(nil), e.Attributes...)
	return out
}
