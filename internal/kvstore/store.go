// Package kvstore holds the key/value contract client consumed by the listing
// controller, plus the concrete backends it can run against.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserRejected is returned when the signer declines a write.
	ErrUserRejected = errors.New("user rejected transaction")

	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("store closed")
)

// Receipt describes a committed write.
type Receipt struct {
	TxID        string    `json:"tx_id"`
	CommittedAt time.Time `json:"committed_at"`
}

func newReceipt() Receipt {
	return Receipt{TxID: uuid.NewString(), CommittedAt: time.Now().UTC()}
}

// Client is the contract surface the listing controller depends on.
// GetData returns an empty slice and a nil error for absent keys.
type Client interface {
	IsAvailable(ctx context.Context) (bool, error)
	GetData(ctx context.Context, key string) ([]byte, error)
	SetData(ctx context.Context, key string, value []byte) (Receipt, error)
}

// Txn is the read/write view handed to Transactional.Update.
// Reads observe writes made earlier in the same transaction.
type Txn interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte)
}

// Transactional is implemented by backends that can commit several keys
// atomically. The listing controller uses it when present.
type Transactional interface {
	Update(ctx context.Context, fn func(Txn) error) (Receipt, error)
}

// Store is a Client that owns resources.
type Store interface {
	Client
	Close() error
}

// bufferedTxn collects writes on top of a read function. Backends that lack
// native read-your-writes use it and flush the pending map on commit.
type bufferedTxn struct {
	read    func(key string) ([]byte, error)
	pending map[string][]byte
	order   []string
}

func newBufferedTxn(read func(key string) ([]byte, error)) *bufferedTxn {
	return &bufferedTxn{read: read, pending: make(map[string][]byte)}
}

func (t *bufferedTxn) Get(key string) ([]byte, error) {
	if v, ok := t.pending[key]; ok {
		return cloneBytes(v), nil
	}
	return t.read(key)
}

func (t *bufferedTxn) Set(key string, value []byte) {
	if _, ok := t.pending[key]; !ok {
		t.order = append(t.order, key)
	}
	t.pending[key] = cloneBytes(value)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
