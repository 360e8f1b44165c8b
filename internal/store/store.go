package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ngalluzzo/gooi-sub004/internal/idempotency"
)

//go:embed schema.sql
var schemaSQL string

// dsnParams are the go-sqlite3 connection options every store runs with.
const dsnParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"

// Store is the SQLite replay store and envelope log.
type Store struct {
	db    *sql.DB
	locks idempotency.KeyedLocks
}

// Open creates or opens the database at path and applies the schema.
// Opening an existing database is safe; the schema only creates what is
// missing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open replay store %s: %w", path, err)
	}
	// One writer at a time; a single connection also keeps :memory:
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LockScope serializes work on a scope key within this process. SQLite
// itself arbitrates across processes through Save's conditional write.
func (s *Store) LockScope(ctx context.Context, scopeKey string) (func(), error) {
	return s.locks.Lock(ctx, scopeKey)
}
