// Package storetest holds the behavior every lobby.BucketStore must share.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobby"
	"lobby/common"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) lobby.BucketStore

func bucket(fp string, start int, names ...string) lobby.Bucket {
	items := make([]json.RawMessage, 0, len(names))
	for _, n := range names {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"name":%q}`, n)))
	}
	return lobby.Bucket{
		Fingerprint: fp,
		Start:       start,
		Items:       items,
		PageInfo:    lobby.PageInfo{HasNext: true, Total: 100},
	}
}

func names(t *testing.T, b lobby.Bucket) []string {
	t.Helper()
	out := make([]string, 0, len(b.Items))
	for _, raw := range b.Items {
		var v struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(raw, &v))
		out = append(out, v.Name)
	}
	return out
}

// Run exercises a BucketStore implementation.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		_, err := s.GetBucket(context.Background(), "page:categories:00000000", 0)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("PutThenGet", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		inserted, err := s.PutBucketIfAbsent(ctx, bucket("fp", 0, "a", "b"))
		require.NoError(t, err)
		assert.True(t, inserted)

		got, err := s.GetBucket(ctx, "fp", 0)
		require.NoError(t, err)
		assert.Equal(t, "fp", got.Fingerprint)
		assert.Equal(t, 0, got.Start)
		assert.Equal(t, []string{"a", "b"}, names(t, *got))
		assert.Equal(t, lobby.PageInfo{HasNext: true, Total: 100}, got.PageInfo)
	})

	t.Run("FirstWriteWins", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		_, err := s.PutBucketIfAbsent(ctx, bucket("fp", 0, "first"))
		require.NoError(t, err)
		inserted, err := s.PutBucketIfAbsent(ctx, bucket("fp", 0, "second"))
		require.NoError(t, err)
		assert.False(t, inserted)

		list, err := s.ListBuckets(ctx, "fp")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, []string{"first"}, names(t, list[0]))
	})

	t.Run("ListInsertionOrderAndIsolation", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		for _, b := range []lobby.Bucket{
			bucket("fp", 20, "c"),
			bucket("other", 0, "x"),
			bucket("fp", 0, "a"),
			bucket("fp", 10, "b"),
		} {
			_, err := s.PutBucketIfAbsent(ctx, b)
			require.NoError(t, err)
		}

		list, err := s.ListBuckets(ctx, "fp")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []int{20, 0, 10}, []int{list[0].Start, list[1].Start, list[2].Start})

		empty, err := s.ListBuckets(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ConcurrentPutsInsertOnce", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		var wg sync.WaitGroup
		var inserted atomic.Int32
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.PutBucketIfAbsent(ctx, bucket("fp", 0, fmt.Sprintf("w%d", i)))
				assert.NoError(t, err)
				if ok {
					inserted.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), inserted.Load())

		list, err := s.ListBuckets(ctx, "fp")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Clear", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		_, err := s.PutBucketIfAbsent(ctx, bucket("fp", 0, "a"))
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx))

		list, err := s.ListBuckets(ctx, "fp")
		require.NoError(t, err)
		assert.Empty(t, list)

		// The key is free again after a clear.
		inserted, err := s.PutBucketIfAbsent(ctx, bucket("fp", 0, "b"))
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		_, _ = s.GetBucket(ctx, "fp", 0)
		_, _ = s.PutBucketIfAbsent(ctx, bucket("fp", 0, "a"))
		_, _ = s.PutBucketIfAbsent(ctx, bucket("fp", 0, "a"))

		c := s.Stats(ctx).Counters
		assert.Equal(t, 1, c["GetBucket"])
		assert.Equal(t, 1, c["GetBucketMiss"])
		assert.Equal(t, 2, c["PutBucket"])
		assert.Equal(t, 1, c["PutBucketExists"])
	})
}
