package kvstore

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/sudo-init-do/repairnet/internal/metrics"
)

// Instrument wraps c so every call is counted, timed and, when limiter is
// non-nil, rate limited. Transactional backends stay transactional.
func Instrument(c Client, limiter *rate.Limiter) Client {
	base := &instrumented{inner: c, limiter: limiter}
	if t, ok := c.(Transactional); ok {
		return &instrumentedTxn{instrumented: base, txn: t}
	}
	return base
}

// NewLimiter returns a limiter allowing rps calls per second with the given
// burst, or nil when rps <= 0.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type instrumented struct {
	inner   Client
	limiter *rate.Limiter
}

func (i *instrumented) wait(ctx context.Context) error {
	if i.limiter == nil {
		return nil
	}
	return i.limiter.Wait(ctx)
}

func observe(op string, start time.Time, err error) {
	metrics.StoreCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	switch {
	case errors.Is(err, ErrUserRejected):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	metrics.StoreCalls.WithLabelValues(op, result).Inc()
}

func (i *instrumented) IsAvailable(ctx context.Context) (ok bool, err error) {
	if err := i.wait(ctx); err != nil {
		return false, err
	}
	defer func(start time.Time) { observe("is_available", start, err) }(time.Now())
	return i.inner.IsAvailable(ctx)
}

func (i *instrumented) GetData(ctx context.Context, key string) (v []byte, err error) {
	if err := i.wait(ctx); err != nil {
		return nil, err
	}
	defer func(start time.Time) { observe("get", start, err) }(time.Now())
	return i.inner.GetData(ctx, key)
}

func (i *instrumented) SetData(ctx context.Context, key string, value []byte) (r Receipt, err error) {
	if err := i.wait(ctx); err != nil {
		return Receipt{}, err
	}
	defer func(start time.Time) { observe("set", start, err) }(time.Now())
	return i.inner.SetData(ctx, key, value)
}

// Close closes the wrapped client when it owns resources.
func (i *instrumented) Close() error {
	if s, ok := i.inner.(Store); ok {
		return s.Close()
	}
	return nil
}

type instrumentedTxn struct {
	*instrumented
	txn Transactional
}

func (i *instrumentedTxn) Update(ctx context.Context, fn func(Txn) error) (r Receipt, err error) {
	if err := i.wait(ctx); err != nil {
		return Receipt{}, err
	}
	defer func(start time.Time) { observe("update", start, err) }(time.Now())
	return i.txn.Update(ctx, fn)
}
