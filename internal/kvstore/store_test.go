package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/repairnet/internal/logging"
)

type backend interface {
	Store
	Transactional
}

// runConformance exercises the contract every backend must honour.
func runConformance(t *testing.T, open func(t *testing.T) backend) {
	ctx := context.Background()

	t.Run("available", func(t *testing.T) {
		s := open(t)
		ok, err := s.IsAvailable(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("absent key is empty", func(t *testing.T) {
		s := open(t)
		v, err := s.GetData(ctx, "nope")
		require.NoError(t, err)
		require.Empty(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		s := open(t)
		r, err := s.SetData(ctx, "service_keys", []byte(`["a"]`))
		require.NoError(t, err)
		require.NotEmpty(t, r.TxID)
		require.False(t, r.CommittedAt.IsZero())

		v, err := s.GetData(ctx, "service_keys")
		require.NoError(t, err)
		require.Equal(t, `["a"]`, string(v))

		_, err = s.SetData(ctx, "service_keys", []byte(`["a","b"]`))
		require.NoError(t, err)
		v, err = s.GetData(ctx, "service_keys")
		require.NoError(t, err)
		require.Equal(t, `["a","b"]`, string(v))
	})

	t.Run("update commits all writes", func(t *testing.T) {
		s := open(t)
		_, err := s.Update(ctx, func(txn Txn) error {
			txn.Set("k1", []byte("one"))
			v, err := txn.Get("k1")
			if err != nil {
				return err
			}
			if string(v) != "one" {
				return fmt.Errorf("read-your-writes: got %q", v)
			}
			txn.Set("k2", []byte("two"))
			return nil
		})
		require.NoError(t, err)
		for k, want := range map[string]string{"k1": "one", "k2": "two"} {
			v, err := s.GetData(ctx, k)
			require.NoError(t, err)
			require.Equal(t, want, string(v))
		}
	})

	t.Run("update rolls back on error", func(t *testing.T) {
		s := open(t)
		boom := errors.New("boom")
		_, err := s.Update(ctx, func(txn Txn) error {
			txn.Set("k", []byte("v"))
			return boom
		})
		require.ErrorIs(t, err, boom)
		v, err := s.GetData(ctx, "k")
		require.NoError(t, err)
		require.Empty(t, v)
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, func(txn Txn) error {
					v, err := txn.Get("counter")
					if err != nil {
						return err
					}
					txn.Set("counter", append(v, 'x'))
					return nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		v, err := s.GetData(ctx, "counter")
		require.NoError(t, err)
		require.Len(t, v, 10)
	})
}

func TestMemory(t *testing.T) {
	runConformance(t, func(t *testing.T) backend { return NewMemory() })
}

func TestMemoryRejectsAndCloses(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetRejectWrites(true)
	_, err := m.SetData(ctx, "k", []byte("v"))
	require.ErrorIs(t, err, ErrUserRejected)
	_, err = m.Update(ctx, func(Txn) error { return nil })
	require.ErrorIs(t, err, ErrUserRejected)

	m.SetAvailable(false)
	ok, err := m.IsAvailable(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Close())
	_, err = m.GetData(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryIsLevelDBBacked(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	_, err := m.SetData(ctx, "service_a", []byte("a"))
	require.NoError(t, err)
	raw, err := m.db.db.Get([]byte("service_a"), nil)
	require.NoError(t, err)
	require.Equal(t, "a", string(raw))
	require.Equal(t, 1, m.Keys())

	// Writes race with the rejection switch; the race detector covers the field.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(reject bool) {
			defer wg.Done()
			m.SetRejectWrites(reject)
		}(i%2 == 0)
		go func(i int) {
			defer wg.Done()
			_, _ = m.SetData(ctx, fmt.Sprintf("k%d", i), []byte("v"))
		}(i)
	}
	wg.Wait()

	m.SetRejectWrites(false)
	_, err = m.Update(ctx, func(txn Txn) error {
		txn.Set("service_b", []byte("b"))
		return nil
	})
	require.NoError(t, err)
	v, err := m.GetData(ctx, "service_b")
	require.NoError(t, err)
	require.Equal(t, "b", string(v))
}

func TestLevelDBMemory(t *testing.T) {
	runConformance(t, func(t *testing.T) backend {
		s, err := OpenLevelDBMemory()
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestLevelDBFilePersists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "kv.ldb")

	s, err := OpenLevelDB(dir)
	require.NoError(t, err)
	_, err = s.SetData(ctx, "service_a", []byte(`{"status":"available"}`))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ok, err := s.IsAvailable(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	s2, err := OpenLevelDB(dir)
	require.NoError(t, err)
	defer s2.Close()
	v, err := s2.GetData(ctx, "service_a")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"available"}`, string(v))
}

func TestSQLite(t *testing.T) {
	runConformance(t, func(t *testing.T) backend {
		s, err := OpenSQLite(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteFilePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	_, err = s.SetData(ctx, "service_keys", []byte(`["x"]`))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(dir)
	require.NoError(t, err)
	defer s2.Close()
	v, err := s2.GetData(ctx, "service_keys")
	require.NoError(t, err)
	require.Equal(t, `["x"]`, string(v))
}

// TestPostgres runs against a live database when REPAIRNET_TEST_POSTGRES_DSN is set.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("REPAIRNET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REPAIRNET_TEST_POSTGRES_DSN not set")
	}
	runConformance(t, func(t *testing.T) backend {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := OpenPostgres(ctx, dsn, logging.Discard())
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE kv_entries`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestRedis runs against a live server when REPAIRNET_TEST_REDIS_ADDR is set.
func TestRedis(t *testing.T) {
	addr := os.Getenv("REPAIRNET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REPAIRNET_TEST_REDIS_ADDR not set")
	}
	n := 0
	runConformance(t, func(t *testing.T) backend {
		n++
		prefix := fmt.Sprintf("repairnet-test-%d-%d:", time.Now().UnixNano(), n)
		s, err := OpenRedis(context.Background(), addr, "", 0, prefix)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
