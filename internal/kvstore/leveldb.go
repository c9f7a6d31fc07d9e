package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB stores values in a local LevelDB directory. It is the default
// backend for single-node deployments.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenLevelDBMemory opens a LevelDB instance backed by memory storage.
func OpenLevelDBMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) IsAvailable(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := l.db.GetProperty("leveldb.stats"); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *LevelDB) GetData(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, nil
}

func (l *LevelDB) SetData(ctx context.Context, key string, value []byte) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := l.db.Put([]byte(key), value, nil); err != nil {
		return Receipt{}, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return newReceipt(), nil
}

// Update runs fn inside a LevelDB transaction. Only one transaction can be
// open at a time, so concurrent Updates serialize.
func (l *LevelDB) Update(ctx context.Context, fn func(Txn) error) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	tr, err := l.db.OpenTransaction()
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to open transaction: %w", err)
	}
	if err := fn(levelTxn{tr}); err != nil {
		tr.Discard()
		return Receipt{}, err
	}
	if err := tr.Commit(); err != nil {
		tr.Discard()
		return Receipt{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return newReceipt(), nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelTxn struct {
	tr *leveldb.Transaction
}

func (t levelTxn) Get(key string) ([]byte, error) {
	v, err := t.tr.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return []byte{}, nil
	}
	return v, err
}

// Set buffers the write inside the transaction. Put only fails on a closed or
// discarded transaction, which Commit reports as well.
func (t levelTxn) Set(key string, value []byte) {
	_ = t.tr.Put([]byte(key), value, nil)
}
