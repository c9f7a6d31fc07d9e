package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Postgres keeps entries in the kv_entries table of a Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and ensures the kv_entries table exists.
func OpenPostgres(ctx context.Context, dsn string, logger *logrus.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("connected to postgres")

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// ensureSchema creates kv_entries if it does not exist yet.
func (p *Postgres) ensureSchema(ctx context.Context, logger *logrus.Logger) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.tables
            WHERE table_schema = 'public' AND table_name = 'kv_entries'
        )`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}
	if exists {
		return nil
	}
	_, err = p.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS kv_entries (
            key TEXT PRIMARY KEY,
            value BYTEA NOT NULL,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        )`)
	if err != nil {
		return fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	logger.Info("kv_entries table ensured")
	return nil
}

func (p *Postgres) IsAvailable(ctx context.Context) (bool, error) {
	if err := p.pool.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (p *Postgres) GetData(ctx context.Context, key string) ([]byte, error) {
	return pgGet(ctx, p.pool, key)
}

func (p *Postgres) SetData(ctx context.Context, key string, value []byte) (Receipt, error) {
	if err := pgPut(ctx, p.pool, key, value); err != nil {
		return Receipt{}, err
	}
	return newReceipt(), nil
}

// Update runs fn in a transaction serialized by a transaction-scoped
// advisory lock, so concurrent read-modify-write cycles cannot interleave.
func (p *Postgres) Update(ctx context.Context, fn func(Txn) error) (Receipt, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("transaction start failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('kv_entries'))`); err != nil {
		return Receipt{}, fmt.Errorf("failed to take advisory lock: %w", err)
	}

	txn := newBufferedTxn(func(key string) ([]byte, error) {
		return pgGet(ctx, tx, key)
	})
	if err := fn(txn); err != nil {
		return Receipt{}, err
	}
	for _, k := range txn.order {
		if err := pgPut(ctx, tx, k, txn.pending[k]); err != nil {
			return Receipt{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("commit failed: %w", err)
	}
	return newReceipt(), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgGet(ctx context.Context, q pgQuerier, key string) ([]byte, error) {
	var v []byte
	err := q.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	return v, nil
}

func pgPut(ctx context.Context, q pgQuerier, key string, value []byte) error {
	_, err := q.Exec(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}
