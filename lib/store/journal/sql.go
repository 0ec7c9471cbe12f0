package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const operationTimeout = 5 * time.Second

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) driver() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d dialect) blobType() string {
	if d == dialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// rebind turns ? placeholders into $n for postgres
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLJournal stores the journal in a SQL database
type SQLJournal struct {
	db      *sql.DB
	dialect dialect
}

func openSQL(d dialect, dsn string) (*SQLJournal, error) {
	if d == dialectSQLite {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(d.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s journal: %w", d.driver(), err)
	}
	if d == dialectSQLite {
		// a single writer avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}

	j := &SQLJournal{db: db, dialect: d}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	Logger.Infof("opened %s journal", d.driver())
	return j, nil
}

func (j *SQLJournal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ghostmesh_entities (
			entity_key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			payload %s NOT NULL,
			attributes TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`, j.dialect.blobType()),
		`CREATE TABLE IF NOT EXISTS ghostmesh_accounts (
			address TEXT PRIMARY KEY,
			nonce BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ghostmesh_meta (
			meta_key TEXT PRIMARY KEY,
			meta_value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

func (j *SQLJournal) exec(query string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	_, err := j.db.ExecContext(ctx, j.dialect.rebind(query), args...)
	return err
}

func (j *SQLJournal) Put(e store.Entity) error {
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	return j.exec(`INSERT INTO ghostmesh_entities (entity_key, owner, payload, attributes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_key) DO UPDATE SET
			owner = excluded.owner,
			payload = excluded.payload,
			attributes = excluded.attributes,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Key, e.Owner, e.Payload, string(attrs), int64(e.CreatedAt), int64(e.ExpiresAt))
}

func (j *SQLJournal) Remove(key string) error {
	return j.exec(`DELETE FROM ghostmesh_entities WHERE entity_key = ?`, key)
}

func (j *SQLJournal) PutAccount(address string, nonce uint64) error {
	return j.exec(`INSERT INTO ghostmesh_accounts (address, nonce) VALUES (?, ?)
		ON CONFLICT (address) DO UPDATE SET nonce = excluded.nonce`, address, int64(nonce))
}

func (j *SQLJournal) PutMeta(key, value string) error {
	return j.exec(`INSERT INTO ghostmesh_meta (meta_key, meta_value) VALUES (?, ?)
		ON CONFLICT (meta_key) DO UPDATE SET meta_value = excluded.meta_value`, key, value)
}

func (j *SQLJournal) Load() (Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	snap := Snapshot{Nonces: make(map[string]uint64), Meta: make(map[string]string)}

	rows, err := j.db.QueryContext(ctx, `SELECT entity_key, owner, payload, attributes, created_at, expires_at FROM ghostmesh_entities`)
	if err != nil {
		return snap, fmt.Errorf("load entities: %w", err)
	}
	for rows.Next() {
		var (
			e                  store.Entity
			attrs              string
			created, expiresAt int64
		)
		if err := rows.Scan(&e.Key, &e.Owner, &e.Payload, &attrs, &created, &expiresAt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan entity: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			rows.Close()
			return snap, fmt.Errorf("decode attributes of %s: %w", e.Key, err)
		}
		e.CreatedAt, e.ExpiresAt = uint64(created), uint64(expiresAt)
		snap.Entities = append(snap.Entities, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = j.db.QueryContext(ctx, `SELECT address, nonce FROM ghostmesh_accounts`)
	if err != nil {
		return snap, fmt.Errorf("load accounts: %w", err)
	}
	for rows.Next() {
		var addr string
		var nonce int64
		if err := rows.Scan(&addr, &nonce); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan account: %w", err)
		}
		snap.Nonces[addr] = uint64(nonce)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = j.db.QueryContext(ctx, `SELECT meta_key, meta_value FROM ghostmesh_meta`)
	if err != nil {
		return snap, fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return snap, fmt.Errorf("scan meta: %w", err)
		}
		snap.Meta[k] = v
	}
	return snap, rows.Err()
}

func (j *SQLJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
