package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// SQLite keeps entries in a single kv_entries table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) repairnet.db in dataDir.
// Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "repairnet.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection keeps :memory: databases shared and avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv_entries table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) IsAvailable(ctx context.Context) (bool, error) {
	if err := s.db.PingContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLite) GetData(ctx context.Context, key string) ([]byte, error) {
	return sqliteGet(ctx, s.db, key)
}

func (s *SQLite) SetData(ctx context.Context, key string, value []byte) (Receipt, error) {
	if err := sqlitePut(ctx, s.db, key, value); err != nil {
		return Receipt{}, err
	}
	return newReceipt(), nil
}

// Update runs fn inside a database transaction.
func (s *SQLite) Update(ctx context.Context, fn func(Txn) error) (Receipt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	txn := newBufferedTxn(func(key string) ([]byte, error) {
		return sqliteGet(ctx, tx, key)
	})
	if err := fn(txn); err != nil {
		return Receipt{}, err
	}
	for _, k := range txn.order {
		if err := sqlitePut(ctx, tx, k, txn.pending[k]); err != nil {
			return Receipt{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("committing transaction: %w", err)
	}
	return newReceipt(), nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqlRunner interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteGet(ctx context.Context, q sqlRunner, key string) ([]byte, error) {
	var v []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

func sqlitePut(ctx context.Context, q sqlRunner, key string, value []byte) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
