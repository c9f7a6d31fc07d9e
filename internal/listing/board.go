package listing

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/repairnet/internal/metrics"
)

// Board owns the current Snapshot and refreshes it after every mutation.
// Refreshes may overlap; the one started last wins and an older result never
// replaces a newer snapshot.
type Board struct {
	ctrl   *Controller
	logger *logrus.Logger

	mu        sync.Mutex
	current   Snapshot
	started   uint64
	applied   uint64
	listeners map[int]func(Snapshot)
	nextID    int

	// notifyMu serializes fan-out; delivered is the newest version handed
	// to listeners.
	notifyMu  sync.Mutex
	delivered uint64
}

func NewBoard(ctrl *Controller, logger *logrus.Logger) *Board {
	return &Board{
		ctrl:      ctrl,
		logger:    logger,
		listeners: make(map[int]func(Snapshot)),
	}
}

// Controller returns the controller the board drives.
func (b *Board) Controller() *Controller { return b.ctrl }

// Snapshot returns the current snapshot.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers fn to receive newly published snapshots. Listeners see
// versions in increasing order; a snapshot superseded before its turn is not
// delivered. fn must not call back into Refresh. The returned function
// removes it.
func (b *Board) Subscribe(fn func(Snapshot)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Refresh reloads the listings. On error the previous snapshot is returned
// unchanged alongside the error.
func (b *Board) Refresh(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	b.started++
	gen := b.started
	b.mu.Unlock()

	snap, err := b.ctrl.LoadAll(ctx)
	if err != nil {
		return b.Snapshot(), err
	}

	b.mu.Lock()
	if gen <= b.applied {
		cur := b.current
		b.mu.Unlock()
		return cur, nil
	}
	snap = snap.withVersion(gen)
	b.current = snap
	b.applied = gen
	fns := make([]func(Snapshot), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	b.notify(snap, fns)
	return snap, nil
}

func (b *Board) notify(snap Snapshot, fns []func(Snapshot)) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	if snap.Version() <= b.delivered {
		return
	}
	b.delivered = snap.Version()
	metrics.ListingsVisible.Set(float64(snap.Len()))
	for _, fn := range fns {
		fn(snap)
	}
}

// Create adds a listing and refreshes.
func (b *Board) Create(ctx context.Context, req CreateRequest) (Record, Snapshot, error) {
	rec, err := b.ctrl.Create(ctx, req)
	if err != nil {
		return Record{}, b.Snapshot(), err
	}
	return rec, b.refreshAfter(ctx, rec.ID), nil
}

// Match moves a listing to matched and refreshes.
func (b *Board) Match(ctx context.Context, id string) (Record, Snapshot, error) {
	rec, err := b.ctrl.Match(ctx, id)
	if err != nil {
		return Record{}, b.Snapshot(), err
	}
	return rec, b.refreshAfter(ctx, id), nil
}

// Complete moves a listing to completed and refreshes.
func (b *Board) Complete(ctx context.Context, id string) (Record, Snapshot, error) {
	rec, err := b.ctrl.Complete(ctx, id)
	if err != nil {
		return Record{}, b.Snapshot(), err
	}
	return rec, b.refreshAfter(ctx, id), nil
}

// refreshAfter reloads after a successful write. The write already
// happened, so a failed reload is only logged.
func (b *Board) refreshAfter(ctx context.Context, id string) Snapshot {
	snap, err := b.Refresh(ctx)
	if err != nil {
		b.logger.WithError(err).WithField("id", id).Warn("refresh after write failed")
	}
	return snap
}
