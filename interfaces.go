// interfaces.go
// Core interfaces for lobby: BucketStore and Fetcher.
// These are public and intended for use by store drivers and upstream clients.

package lobby

import (
	"context"
	"encoding/json"
)

// PageInfo is the server-reported pagination metadata accompanying a page.
type PageInfo struct {
	HasNext bool `json:"hasNext" msgpack:"has_next"`
	Total   int  `json:"total" msgpack:"total"`
}

// Page is one page of a paginated field as returned by the community API.
type Page struct {
	Items    []json.RawMessage `json:"items"`
	PageInfo PageInfo          `json:"pageInfo"`
}

// Bucket is one page's worth of accumulated cache state, keyed by
// fingerprint and start offset.
type Bucket struct {
	Fingerprint string            `json:"fingerprint" msgpack:"fingerprint"`
	Start       int               `json:"start" msgpack:"start"`
	Items       []json.RawMessage `json:"items" msgpack:"items"`
	PageInfo    PageInfo          `json:"pageInfo" msgpack:"page_info"`
}

// Key returns the (fingerprint, start) composite key of the bucket.
func (b Bucket) Key() string {
	return BucketKey(b.Fingerprint, b.Start)
}

// BucketStore defines the interface for bucket storage drivers.
//
// PutBucketIfAbsent must be atomic: of several concurrent writes to the same
// key exactly one reports inserted=true and the stored bucket is never
// replaced afterwards. ListBuckets returns buckets in insertion order.
type BucketStore interface {
	GetBucket(ctx context.Context, fingerprint string, start int) (*Bucket, error)
	PutBucketIfAbsent(ctx context.Context, bucket Bucket) (bool, error)
	ListBuckets(ctx context.Context, fingerprint string) ([]Bucket, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) StoreStats
	Close() error
}

// StoreStats holds store operation counters for monitoring.
type StoreStats struct {
	Counters map[string]int `json:"counters"` // Operation name to count
}

// Fetcher retrieves one page of a paginated field from the upstream API.
type Fetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req PageRequest) (Page, error)

// FetchPage calls f(ctx, req).
func (f FetcherFunc) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	return f(ctx, req)
}
