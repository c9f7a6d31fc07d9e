// Package listing synchronizes repair-service listings with the key/value
// contract store: it enumerates them through the index record, creates new
// ones and moves them through available -> matched -> completed.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sudo-init-do/repairnet/internal/kvstore"
	"github.com/sudo-init-do/repairnet/internal/metrics"
)

const (
	defaultConcurrency = 8
	defaultMaxListings = 500
	idSuffixLen        = 7
	base36             = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Controller performs listing operations against a kvstore.Client. It keeps
// no view state of its own; see Board for that.
type Controller struct {
	client      kvstore.Client
	sealer      Sealer
	logger      *logrus.Logger
	concurrency int
	maxListings int
	permissive  bool
	now         func() time.Time
	intN        func(n int) int
}

type Option func(*Controller)

// WithConcurrency bounds the number of records fetched in parallel.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxListings caps how many index entries LoadAll will fetch. The newest
// ids (the tail of the index) are kept.
func WithMaxListings(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxListings = n
		}
	}
}

// Permissive disables the prior-status check so any listing can be moved to
// matched or completed regardless of its current state.
func Permissive() Option {
	return func(c *Controller) { c.permissive = true }
}

func WithSealer(s Sealer) Option {
	return func(c *Controller) { c.sealer = s }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRand replaces the random source used for id suffixes and reputation
// seeds. intN must return a value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(c *Controller) { c.intN = intN }
}

func NewController(client kvstore.Client, opts ...Option) *Controller {
	c := &Controller{
		client:      client,
		sealer:      EnvelopeSealer{},
		logger:      logrus.StandardLogger(),
		concurrency: defaultConcurrency,
		maxListings: defaultMaxListings,
		now:         time.Now,
		intN:        rand.Intn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadAll reads every listing reachable from the index and returns them
// newest first. Only an unavailable store or a cancelled context fail the
// call; a bad index yields an empty snapshot and bad records are skipped.
func (c *Controller) LoadAll(ctx context.Context) (Snapshot, error) {
	ok, err := c.client.IsAvailable(ctx)
	if err != nil {
		metrics.ListingLoads.WithLabelValues("unavailable").Inc()
		return Snapshot{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		metrics.ListingLoads.WithLabelValues("unavailable").Inc()
		c.logger.Warn("store reports unavailable, keeping previous listings")
		return Snapshot{}, ErrStoreUnavailable
	}

	ids := c.readIndex(ctx)
	if len(ids) > c.maxListings {
		c.logger.WithFields(logrus.Fields{
			"index_len": len(ids),
			"cap":       c.maxListings,
		}).Warn("index exceeds listing cap, loading newest entries only")
		ids = ids[len(ids)-c.maxListings:]
	}

	records := make([]*Record, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if rec, ok := c.fetch(gctx, id); ok {
				records[i] = &rec
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		metrics.ListingLoads.WithLabelValues("cancelled").Inc()
		return Snapshot{}, err
	}

	list := make([]Record, 0, len(ids))
	for _, r := range records {
		if r != nil {
			list = append(list, *r)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})

	metrics.ListingLoads.WithLabelValues("ok").Inc()
	c.logger.WithFields(logrus.Fields{
		"index_len": len(ids),
		"loaded":    len(list),
	}).Debug("listings loaded")
	return newSnapshot(list, c.now()), nil
}

// readIndex returns the ids in the index, or nil when it is absent,
// unreadable or malformed.
func (c *Controller) readIndex(ctx context.Context) []string {
	raw, err := c.client.GetData(ctx, IndexKey)
	if err != nil {
		c.logger.WithError(err).Warn("failed to read listing index")
		return nil
	}
	ids, err := decodeIndex(raw)
	if err != nil {
		c.logger.WithError(err).Warn("failed to parse listing index")
		return nil
	}
	return ids
}

func (c *Controller) fetch(ctx context.Context, id string) (Record, bool) {
	log := c.logger.WithField("id", id)
	raw, err := c.client.GetData(ctx, RecordKey(id))
	if err != nil {
		metrics.ListingsSkipped.WithLabelValues("fetch_error").Inc()
		log.WithError(err).Warn("failed to load listing")
		return Record{}, false
	}
	if len(raw) == 0 {
		metrics.ListingsSkipped.WithLabelValues("missing").Inc()
		log.Debug("listing in index has no record")
		return Record{}, false
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		metrics.ListingsSkipped.WithLabelValues("malformed").Inc()
		log.WithError(err).Warn("failed to parse listing")
		return Record{}, false
	}
	return rec, true
}

// Create validates req, writes the new record and appends its id to the
// index. When the store is transactional both writes commit together;
// otherwise a failure between them leaves a record the index does not
// reference.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (Record, error) {
	if err := req.Validate(); err != nil {
		return Record{}, err
	}

	payload, err := c.sealer.Seal(Details{
		ServiceType:  req.ServiceType,
		Description:  req.Description,
		Availability: req.Availability,
	})
	if err != nil {
		return Record{}, fmt.Errorf("seal payload: %w", err)
	}

	now := c.now()
	rec := Record{
		ID:          c.newID(now),
		Data:        payload,
		Timestamp:   now.Unix(),
		Provider:    req.Creator,
		ServiceType: req.ServiceType,
		Reputation:  c.intN(5) + 1,
		Status:      StatusAvailable,
	}
	body, err := encodeRecord(rec)
	if err != nil {
		return Record{}, err
	}

	if tx, ok := c.client.(kvstore.Transactional); ok {
		_, err = tx.Update(ctx, func(txn kvstore.Txn) error {
			txn.Set(RecordKey(rec.ID), body)
			raw, err := txn.Get(IndexKey)
			if err != nil {
				return fmt.Errorf("read index: %w", err)
			}
			idx, err := c.appendToIndex(raw, rec.ID)
			if err != nil {
				return err
			}
			txn.Set(IndexKey, idx)
			return nil
		})
	} else {
		err = c.createSequential(ctx, rec.ID, body)
	}
	if err != nil {
		metrics.ListingTransitions.WithLabelValues(string(StatusAvailable), resultLabel(err)).Inc()
		return Record{}, fmt.Errorf("create listing: %w", err)
	}

	metrics.ListingTransitions.WithLabelValues(string(StatusAvailable), "ok").Inc()
	c.logger.WithFields(logrus.Fields{
		"id":          rec.ID,
		"provider":    rec.Provider,
		"serviceType": rec.ServiceType,
	}).Info("listing created")
	return rec, nil
}

func (c *Controller) createSequential(ctx context.Context, id string, body []byte) error {
	if _, err := c.client.SetData(ctx, RecordKey(id), body); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	raw, err := c.client.GetData(ctx, IndexKey)
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	idx, err := c.appendToIndex(raw, id)
	if err != nil {
		return err
	}
	if _, err := c.client.SetData(ctx, IndexKey, idx); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// appendToIndex adds id to the encoded index. A malformed index is replaced,
// matching how LoadAll treats it as empty.
func (c *Controller) appendToIndex(raw []byte, id string) ([]byte, error) {
	ids, err := decodeIndex(raw)
	if err != nil {
		c.logger.WithError(err).Warn("listing index malformed, starting a new one")
		ids = nil
	}
	ids = append(ids, id)
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return b, nil
}

// Match moves an available listing to matched.
func (c *Controller) Match(ctx context.Context, id string) (Record, error) {
	return c.Transition(ctx, id, StatusMatched)
}

// Complete moves a matched listing to completed and bumps its reputation.
func (c *Controller) Complete(ctx context.Context, id string) (Record, error) {
	return c.Transition(ctx, id, StatusCompleted)
}

// Available reports whether the underlying store is reachable.
func (c *Controller) Available(ctx context.Context) (bool, error) {
	return c.client.IsAvailable(ctx)
}

// Get reads one listing directly from the store.
func (c *Controller) Get(ctx context.Context, id string) (Record, error) {
	raw, err := c.client.GetData(ctx, RecordKey(id))
	if err != nil {
		return Record{}, fmt.Errorf("get listing %s: %w", id, err)
	}
	if len(raw) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRecord(id, raw)
}

// Transition rewrites the listing's status to target, preserving any other
// fields already stored. A missing listing fails with ErrNotFound and
// nothing is written.
func (c *Controller) Transition(ctx context.Context, id string, target Status) (Record, error) {
	if _, ok := target.previous(); !ok {
		return Record{}, fmt.Errorf("%w: cannot enter %q", ErrInvalidTransition, target)
	}

	var (
		out Record
		err error
	)
	key := RecordKey(id)
	if tx, ok := c.client.(kvstore.Transactional); ok {
		_, err = tx.Update(ctx, func(txn kvstore.Txn) error {
			raw, err := txn.Get(key)
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			body, rec, err := c.applyTransition(id, raw, target)
			if err != nil {
				return err
			}
			txn.Set(key, body)
			out = rec
			return nil
		})
	} else {
		var raw []byte
		raw, err = c.client.GetData(ctx, key)
		if err == nil {
			var body []byte
			body, out, err = c.applyTransition(id, raw, target)
			if err == nil {
				_, err = c.client.SetData(ctx, key, body)
			}
		}
	}
	if err != nil {
		metrics.ListingTransitions.WithLabelValues(string(target), resultLabel(err)).Inc()
		return Record{}, fmt.Errorf("%s listing %s: %w", verb(target), id, err)
	}

	metrics.ListingTransitions.WithLabelValues(string(target), "ok").Inc()
	c.logger.WithFields(logrus.Fields{
		"id":         id,
		"status":     out.Status,
		"reputation": out.Reputation,
	}).Info("listing status changed")
	return out, nil
}

func (c *Controller) applyTransition(id string, raw []byte, target Status) ([]byte, Record, error) {
	if len(raw) == 0 {
		return nil, Record{}, ErrNotFound
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		return nil, Record{}, err
	}
	if prev, _ := target.previous(); !c.permissive && rec.Status != prev {
		return nil, Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, target)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rec.Status = target
	if target == StatusCompleted {
		rec.Reputation++
	}
	fields["status"], _ = json.Marshal(rec.Status)
	fields["reputation"], _ = json.Marshal(rec.Reputation)

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, Record{}, fmt.Errorf("encode record: %w", err)
	}
	return body, rec, nil
}

// newID returns "<unix ms>-<7 base36 chars>".
func (c *Controller) newID(now time.Time) string {
	suffix := make([]byte, idSuffixLen)
	for i := range suffix {
		suffix[i] = base36[c.intN(len(base36))]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}

func decodeIndex(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func decodeRecord(id string, raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rec.ID = id
	if rec.Status == "" {
		rec.Status = StatusAvailable
	}
	if !rec.Status.Valid() {
		return Record{}, fmt.Errorf("%w: unknown status %q", ErrMalformedRecord, rec.Status)
	}
	if rec.Reputation < 0 {
		return Record{}, fmt.Errorf("%w: negative reputation %d", ErrMalformedRecord, rec.Reputation)
	}
	return rec, nil
}

// encodeRecord drops the id; it lives in the key.
func encodeRecord(rec Record) ([]byte, error) {
	rec.ID = ""
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, kvstore.ErrUserRejected):
		return "rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	default:
		return "error"
	}
}

func verb(target Status) string {
	if target == StatusCompleted {
		return "complete"
	}
	return "match"
}
