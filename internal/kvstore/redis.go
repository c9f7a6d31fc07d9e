package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockKey = "lock:kvstore"
	redisLockTTL = 10 * time.Second
)

// ErrBusy is returned when the update lock could not be obtained in time.
var ErrBusy = errors.New("store busy")

// Redis keeps entries as plain string keys, optionally under a prefix.
// Update serializes writers with a redislock lock and commits through MULTI.
type Redis struct {
	rdb    *redis.Client
	locker *redislock.Client
	prefix string
}

// OpenRedis connects to addr and pings it.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, locker: redislock.New(rdb), prefix: prefix}, nil
}

func (r *Redis) k(key string) string {
	return r.prefix + key
}

func (r *Redis) IsAvailable(ctx context.Context) (bool, error) {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (r *Redis) GetData(ctx context.Context, key string) ([]byte, error) {
	v, err := r.rdb.Get(ctx, r.k(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) SetData(ctx context.Context, key string, value []byte) (Receipt, error) {
	if err := r.rdb.Set(ctx, r.k(key), value, 0).Err(); err != nil {
		return Receipt{}, fmt.Errorf("redis set %s: %w", key, err)
	}
	return newReceipt(), nil
}

func (r *Redis) Update(ctx context.Context, fn func(Txn) error) (Receipt, error) {
	lock, err := r.locker.Obtain(ctx, r.k(redisLockKey), redisLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return Receipt{}, ErrBusy
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("redis lock: %w", err)
	}
	defer lock.Release(context.WithoutCancel(ctx))

	txn := newBufferedTxn(func(key string) ([]byte, error) {
		return r.GetData(ctx, key)
	})
	if err := fn(txn); err != nil {
		return Receipt{}, err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range txn.order {
			pipe.Set(ctx, r.k(k), txn.pending[k], 0)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("redis commit: %w", err)
	}
	return newReceipt(), nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
