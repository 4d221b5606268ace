package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a single upstream page fetch.
const DefaultFetchTimeout = 10 * time.Second

// PageCache accumulates pages of paginated fields in a BucketStore and serves
// the flattened view. T is the item type the stored JSON items decode into;
// use json.RawMessage to pass items through untouched.
//
// PageCache is safe for concurrent use. Concurrent fetches of the same
// (fingerprint, start) key are coalesced into one upstream call.
type PageCache[T any] struct {
	store        BucketStore
	fetcher      Fetcher
	logger       *zap.Logger
	metrics      *Metrics
	fetchTimeout time.Duration
	flight       singleflight.Group
}

type options struct {
	logger       *zap.Logger
	metrics      *Metrics
	fetchTimeout time.Duration
}

// Option configures a PageCache.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFetchTimeout bounds each upstream fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) { o.fetchTimeout = d }
}

// New creates a PageCache over store. fetcher may be nil when the cache is
// only fed through Merge; Fetch then fails with ErrFetcherNotSet on a miss.
func New[T any](store BucketStore, fetcher Fetcher, opts ...Option) (*PageCache[T], error) {
	if store == nil {
		return nil, ErrStoreNotSet
	}
	o := options{fetchTimeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &PageCache[T]{
		store:        store,
		fetcher:      fetcher,
		logger:       o.logger,
		metrics:      o.metrics,
		fetchTimeout: o.fetchTimeout,
	}, nil
}

// Store returns the underlying bucket store.
func (c *PageCache[T]) Store() BucketStore {
	return c.store
}

// prepare normalizes and validates req and computes its fingerprint.
func (c *PageCache[T]) prepare(req PageRequest) (PageRequest, string, error) {
	n := req.Normalize()
	if err := n.Validate(); err != nil {
		return PageRequest{}, "", err
	}
	return n, Fingerprint(n), nil
}

// Read returns every accumulated item under the request's fingerprint, in
// ascending offset order, with the page-info of the last merged bucket.
// Start and Limit of req are ignored.
func (c *PageCache[T]) Read(ctx context.Context, req PageRequest) (Result[T], error) {
	req.Start, req.Limit = 0, 0
	n, fp, err := c.prepare(req)
	if err != nil {
		return Result[T]{}, err
	}
	return c.read(ctx, n.Field, fp)
}

func (c *PageCache[T]) read(ctx context.Context, field Field, fp string) (Result[T], error) {
	buckets, err := c.store.ListBuckets(ctx, fp)
	if err != nil {
		return Result[T]{}, fmt.Errorf("list buckets for '%s': %w", fp, err)
	}
	c.metrics.read(field, len(buckets) > 0)

	entries := make([]entry[T], 0, len(buckets))
	for _, b := range buckets {
		items := make([]T, 0, len(b.Items))
		for i, raw := range b.Items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return Result[T]{}, fmt.Errorf("decode item %d of bucket '%s': %w", i, b.Key(), err)
			}
			items = append(items, item)
		}
		entries = append(entries, entry[T]{start: b.Start, items: items, info: b.PageInfo})
	}
	return assemble(entries), nil
}

// Merge stores page at the request's (fingerprint, start) key unless a bucket
// already exists there. It reports whether the page was inserted; a skipped
// merge is not an error.
func (c *PageCache[T]) Merge(ctx context.Context, req PageRequest, page Page) (bool, error) {
	n, fp, err := c.prepare(req)
	if err != nil {
		return false, err
	}
	return c.merge(ctx, n, fp, page)
}

func (c *PageCache[T]) merge(ctx context.Context, n PageRequest, fp string, page Page) (bool, error) {
	items := page.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	bucket := Bucket{Fingerprint: fp, Start: n.Start, Items: items, PageInfo: page.PageInfo}
	inserted, err := c.store.PutBucketIfAbsent(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("put bucket '%s': %w", bucket.Key(), err)
	}
	c.metrics.merge(n.Field, inserted)
	if inserted {
		c.logger.Debug("page merged",
			zap.String("key", bucket.Key()),
			zap.Int("items", len(items)),
			zap.Bool("has_next", page.PageInfo.HasNext),
			zap.Int("total", page.PageInfo.Total))
	} else {
		c.logger.Debug("page already cached, merge skipped", zap.String("key", bucket.Key()))
	}
	return inserted, nil
}

// Fetch makes sure the page at the request's offset is cached, fetching it
// from upstream on a miss, and returns the flattened view of the fingerprint.
func (c *PageCache[T]) Fetch(ctx context.Context, req PageRequest) (Result[T], error) {
	n, fp, err := c.prepare(req)
	if err != nil {
		return Result[T]{}, err
	}
	if err := c.ensure(ctx, n, fp); err != nil {
		return Result[T]{}, err
	}
	return c.read(ctx, n.Field, fp)
}

// FetchNext fetches the page that follows the highest cached offset of the
// request's fingerprint. When the last merged page reported no next page, the
// current view is returned without an upstream call.
func (c *PageCache[T]) FetchNext(ctx context.Context, req PageRequest) (Result[T], error) {
	n, fp, err := c.prepare(req)
	if err != nil {
		return Result[T]{}, err
	}
	buckets, err := c.store.ListBuckets(ctx, fp)
	if err != nil {
		return Result[T]{}, fmt.Errorf("list buckets for '%s': %w", fp, err)
	}
	if len(buckets) > 0 && !buckets[len(buckets)-1].PageInfo.HasNext {
		return c.read(ctx, n.Field, fp)
	}
	n.Start = nextStart(buckets)
	if err := c.ensure(ctx, n, fp); err != nil {
		return Result[T]{}, err
	}
	return c.read(ctx, n.Field, fp)
}

// nextStart returns the offset just past the bucket with the highest start.
func nextStart(buckets []Bucket) int {
	if len(buckets) == 0 {
		return 0
	}
	last := buckets[0]
	for _, b := range buckets[1:] {
		if b.Start > last.Start {
			last = b
		}
	}
	return last.Start + len(last.Items)
}

// ensure fetches and merges the bucket at (fp, n.Start) when it is missing.
func (c *PageCache[T]) ensure(ctx context.Context, n PageRequest, fp string) error {
	_, err := c.store.GetBucket(ctx, fp, n.Start)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("get bucket '%s': %w", BucketKey(fp, n.Start), err)
	}
	if c.fetcher == nil {
		return ErrFetcherNotSet
	}

	key := BucketKey(fp, n.Start)
	var leader bool
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		leader = true
		// The shared call outlives any single caller; each caller stops
		// waiting on its own ctx below.
		fetchCtx := context.WithoutCancel(ctx)
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
			defer cancel()
		}
		page, err := c.fetcher.FetchPage(fetchCtx, n)
		if err != nil {
			return nil, fmt.Errorf("fetch page '%s': %w", key, err)
		}
		return c.merge(fetchCtx, n, fp, page)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.metrics.fetch(n.Field, "canceled")
		return ctx.Err()
	}
	switch {
	case res.Err != nil:
		c.metrics.fetch(n.Field, "error")
		c.logger.Warn("page fetch failed", zap.String("key", key), zap.Error(res.Err))
		return res.Err
	case leader:
		c.metrics.fetch(n.Field, "ok")
	default:
		c.metrics.fetch(n.Field, "shared")
	}
	return nil
}

// Clear drops every bucket. Call it on logout. A fetch already in flight may
// still insert its bucket after Clear returns.
func (c *PageCache[T]) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear bucket store: %w", err)
	}
	c.logger.Info("page cache cleared")
	return nil
}
