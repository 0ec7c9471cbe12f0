// Package journal persists the state of the in-memory entity store so a development node
// survives restarts.
//
// A journal is opened from a DSN:
//
//	memory://                 in-process only, used by tests
//	sqlite:///var/lib/gm.db   SQLite file (modernc.org/sqlite, no cgo)
//	postgres://user@host/db   PostgreSQL (lib/pq)
//
// The journal is a write-through mirror. The store applies every change in memory first and
// then calls Put/Remove/PutAccount, and on start it reads the whole state back with Load.
package journal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("journal")

// Snapshot is the full persisted state
type Snapshot struct {
	Entities []store.Entity
	Nonces   map[string]uint64
	Meta     map[string]string
}

// Journal is the persistence interface of the local store
type Journal interface {
	// Put inserts or replaces an entity
	Put(e store.Entity) error
	// Remove deletes an entity, removing a missing key is not an error
	Remove(key string) error
	// PutAccount records the next expected nonce of an account
	PutAccount(address string, nonce uint64) error
	// PutMeta stores a free form value (e.g. the genesis time of the block clock)
	PutMeta(key, value string) error
	// Load reads everything back
	Load() (Snapshot, error)
	// Close releases the underlying resources
	Close() error
}

// Open creates a journal from a DSN. An empty DSN returns (nil, nil), meaning no journal.
func Open(dsn string) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid journal dsn: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem":
		return NewMemoryJournal(), nil
	case "sqlite", "sqlite3":
		path := strings.TrimPrefix(dsn, parsed.Scheme+"://")
		if path == "" {
			return nil, fmt.Errorf("sqlite journal needs a path, e.g. sqlite:///var/lib/ghostmesh.db")
		}
		return wrap(openSQL(dialectSQLite, path))
	case "postgres", "postgresql":
		return wrap(openSQL(dialectPostgres, dsn))
	default:
		return nil, fmt.Errorf("unsupported journal scheme: %q", parsed.Scheme)
	}
}

// wrap keeps a failed open from returning a non-nil interface around a nil pointer
func wrap(j *SQLJournal, err error) (Journal, error) {
	if err != nil {
		return nil, err
	}
	return j, nil
}
