package kvstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a LevelDB instance on in-memory storage with switches for
// availability and signer rejection. Tests use it, as does the
// --driver=memory mode.
type Memory struct {
	db *LevelDB

	mu           sync.RWMutex
	available    bool
	rejectWrites bool
	closed       bool
}

// NewMemory returns an empty, available store. It panics if the in-memory
// database cannot be opened.
func NewMemory() *Memory {
	db, err := OpenLevelDBMemory()
	if err != nil {
		panic(fmt.Sprintf("kvstore: %v", err))
	}
	return &Memory{db: db, available: true}
}

// SetAvailable toggles what IsAvailable reports.
func (m *Memory) SetAvailable(ok bool) {
	m.mu.Lock()
	m.available = ok
	m.mu.Unlock()
}

// SetRejectWrites makes every SetData/Update fail with ErrUserRejected,
// mimicking a signer that declines.
func (m *Memory) SetRejectWrites(reject bool) {
	m.mu.Lock()
	m.rejectWrites = reject
	m.mu.Unlock()
}

// state reports whether the store is closed and whether writes are rejected.
func (m *Memory) state() (closed, reject bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed, m.rejectWrites
}

func (m *Memory) IsAvailable(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	ok := m.available && !m.closed
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return m.db.IsAvailable(ctx)
}

func (m *Memory) GetData(ctx context.Context, key string) ([]byte, error) {
	if closed, _ := m.state(); closed {
		return nil, ErrClosed
	}
	return m.db.GetData(ctx, key)
}

func (m *Memory) SetData(ctx context.Context, key string, value []byte) (Receipt, error) {
	closed, reject := m.state()
	switch {
	case closed:
		return Receipt{}, ErrClosed
	case reject:
		return Receipt{}, ErrUserRejected
	}
	return m.db.SetData(ctx, key, value)
}

// Update applies fn's writes atomically, or none of them if fn fails.
func (m *Memory) Update(ctx context.Context, fn func(Txn) error) (Receipt, error) {
	closed, reject := m.state()
	switch {
	case closed:
		return Receipt{}, ErrClosed
	case reject:
		return Receipt{}, ErrUserRejected
	}
	return m.db.Update(ctx, fn)
}

// Keys returns the number of stored keys.
func (m *Memory) Keys() int {
	iter := m.db.db.NewIterator(nil, nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
