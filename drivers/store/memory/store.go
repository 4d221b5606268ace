// Package memory provides an in-process lobby.BucketStore.
package memory

import (
	"context"
	"sync"

	"lobby"
	"lobby/common"
	"lobby/internal/utils"
)

// Store implements lobby.BucketStore in memory. Buckets of every fingerprint
// share one insertion-ordered map guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	buckets  *utils.OrderedMap[string, lobby.Bucket]
	counters map[string]int
	closed   bool
}

var _ lobby.BucketStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		buckets:  utils.NewOrderedMap[string, lobby.Bucket](),
		counters: make(map[string]int),
	}
}

// incrementCounter assumes s.mu is held for writing.
func (s *Store) incrementCounter(name string) {
	s.counters[name]++
}

// GetBucket returns the bucket at (fingerprint, start) or common.ErrNotFound.
func (s *Store) GetBucket(_ context.Context, fingerprint string, start int) (*lobby.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, common.ErrStoreClosed
	}
	s.incrementCounter("GetBucket")
	b, ok := s.buckets.Get(lobby.BucketKey(fingerprint, start))
	if !ok {
		s.incrementCounter("GetBucketMiss")
		return nil, common.ErrNotFound
	}
	s.incrementCounter("GetBucketHit")
	return &b, nil
}

// PutBucketIfAbsent stores bucket unless its key is already taken.
func (s *Store) PutBucketIfAbsent(_ context.Context, bucket lobby.Bucket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, common.ErrStoreClosed
	}
	s.incrementCounter("PutBucket")
	inserted := s.buckets.SetIfAbsent(bucket.Key(), bucket)
	if !inserted {
		s.incrementCounter("PutBucketExists")
	}
	return inserted, nil
}

// ListBuckets returns the buckets of fingerprint in insertion order.
func (s *Store) ListBuckets(_ context.Context, fingerprint string) ([]lobby.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, common.ErrStoreClosed
	}
	s.incrementCounter("ListBuckets")
	var out []lobby.Bucket
	for _, b := range s.buckets.Values() {
		if b.Fingerprint == fingerprint {
			out = append(out, b)
		}
	}
	return out, nil
}

// Clear drops every bucket.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.ErrStoreClosed
	}
	s.incrementCounter("Clear")
	s.buckets = utils.NewOrderedMap[string, lobby.Bucket]()
	return nil
}

// Stats returns a snapshot of the operation counters.
func (s *Store) Stats(_ context.Context) lobby.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counters := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	return lobby.StoreStats{Counters: counters}
}

// Close releases the buckets. Further calls fail with common.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = utils.NewOrderedMap[string, lobby.Bucket]()
	return nil
}
