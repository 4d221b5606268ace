package lobby_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lobby"
	"lobby/drivers/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeUpstream serves categories c1..c<total> and counts calls.
type fakeUpstream struct {
	total int
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeUpstream) FetchPage(ctx context.Context, req lobby.PageRequest) (lobby.Page, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return lobby.Page{}, ctx.Err()
		}
	}
	if f.err != nil {
		return lobby.Page{}, f.err
	}
	var items []json.RawMessage
	for i := req.Start + 1; i <= req.Start+req.Limit && i <= f.total; i++ {
		raw, _ := json.Marshal(category{ID: i, Name: fmt.Sprintf("c%d", i)})
		items = append(items, raw)
	}
	return lobby.Page{
		Items:    items,
		PageInfo: lobby.PageInfo{HasNext: req.Start+req.Limit < f.total, Total: f.total},
	}, nil
}

// setupPageCache creates a PageCache over a fresh memory store.
func setupPageCache(tb testing.TB, fetcher lobby.Fetcher, opts ...lobby.Option) (*lobby.PageCache[category], *memory.Store) {
	store := memory.New()
	tb.Cleanup(func() { _ = store.Close() })
	pc, err := lobby.New[category](store, fetcher, opts...)
	require.NoError(tb, err, "Failed to create PageCache")
	return pc, store
}

func categoriesReq(start, limit int) lobby.PageRequest {
	return lobby.PageRequest{Field: lobby.FieldCategories, Start: start, Limit: limit}
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := lobby.New[category](nil, nil)
	assert.ErrorIs(t, err, lobby.ErrStoreNotSet)
}

func TestPageCache_FetchAccumulatesPages(t *testing.T) {
	up := &fakeUpstream{total: 25}
	pc, _ := setupPageCache(t, up)
	ctx := context.Background()

	res, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 10)

	res, err = pc.Fetch(ctx, categoriesReq(10, 10))
	require.NoError(t, err)
	require.Len(t, res.Items, 20)
	assert.Equal(t, categoryPage(1, 20), res.Items)
	require.NotNil(t, res.PageInfo)
	assert.Equal(t, lobby.PageInfo{HasNext: true, Total: 25}, *res.PageInfo)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestPageCache_FetchHitDoesNotCallUpstream(t *testing.T) {
	up := &fakeUpstream{total: 5}
	pc, _ := setupPageCache(t, up)
	ctx := context.Background()

	_, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	res, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)

	assert.Len(t, res.Items, 5)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestPageCache_MergeFirstWriteWins(t *testing.T) {
	pc, store := setupPageCache(t, nil)
	ctx := context.Background()
	page := func(name string) lobby.Page {
		raw, _ := json.Marshal(category{ID: 1, Name: name})
		return lobby.Page{Items: []json.RawMessage{raw}, PageInfo: lobby.PageInfo{Total: 1}}
	}

	inserted, err := pc.Merge(ctx, categoriesReq(0, 10), page("first"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = pc.Merge(ctx, categoriesReq(0, 10), page("second"))
	require.NoError(t, err)
	assert.False(t, inserted)

	res, err := pc.Read(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Equal(t, []category{{ID: 1, Name: "first"}}, res.Items)
	assert.Equal(t, 1, store.Stats(ctx).Counters["PutBucketExists"])
}

func TestPageCache_ConcurrentMergesInsertOnce(t *testing.T) {
	pc, _ := setupPageCache(t, nil)
	ctx := context.Background()
	raw, _ := json.Marshal(category{ID: 1, Name: "c1"})
	page := lobby.Page{Items: []json.RawMessage{raw}}

	var wg sync.WaitGroup
	var inserted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := pc.Merge(ctx, categoriesReq(0, 10), page)
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	res, err := pc.Read(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestPageCache_ConcurrentFetchesDoNotDuplicate(t *testing.T) {
	up := &fakeUpstream{total: 10, delay: 20 * time.Millisecond}
	pc, store := setupPageCache(t, up)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := pc.Fetch(ctx, categoriesReq(0, 10))
			assert.NoError(t, err)
			assert.Len(t, res.Items, 10)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, up.calls.Load(), int32(1))
	buckets, err := store.ListBuckets(ctx, lobby.Fingerprint(categoriesReq(0, 10)))
	require.NoError(t, err)
	assert.Len(t, buckets, 1)
}

func TestPageCache_CoalescedFetchOutlivesCanceledCaller(t *testing.T) {
	up := &fakeUpstream{total: 10, delay: 200 * time.Millisecond}
	pc, _ := setupPageCache(t, up)

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := pc.Fetch(firstCtx, categoriesReq(0, 10))
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan struct{})
	var second lobby.Result[category]
	var secondErr error
	go func() {
		defer close(secondDone)
		second, secondErr = pc.Fetch(context.Background(), categoriesReq(0, 10))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	<-secondDone
	require.NoError(t, secondErr)
	assert.Len(t, second.Items, 10)
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestPageCache_CoalescedFetchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	up := &fakeUpstream{total: 10, delay: 100 * time.Millisecond}
	pc, _ := setupPageCache(t, up, lobby.WithMetrics(lobby.NewMetrics(reg)))
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := pc.Fetch(ctx, categoriesReq(0, 10))
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := pc.Fetch(ctx, categoriesReq(0, 10))
		assert.NoError(t, err)
	}()
	wg.Wait()

	expected := `
# HELP lobby_page_cache_fetches_total Upstream page fetches by field and outcome (ok, shared, error, canceled)
# TYPE lobby_page_cache_fetches_total counter
lobby_page_cache_fetches_total{field="categories",outcome="ok"} 1
lobby_page_cache_fetches_total{field="categories",outcome="shared"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "lobby_page_cache_fetches_total"))
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestPageCache_FetchNext(t *testing.T) {
	up := &fakeUpstream{total: 15}
	pc, _ := setupPageCache(t, up)
	ctx := context.Background()

	res, err := pc.FetchNext(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 10)

	res, err = pc.FetchNext(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 15)
	require.NotNil(t, res.PageInfo)
	assert.False(t, res.PageInfo.HasNext)

	// Nothing left: no further upstream call.
	res, err = pc.FetchNext(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 15)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestPageCache_FetchNextAfterGap(t *testing.T) {
	up := &fakeUpstream{total: 35}
	pc, _ := setupPageCache(t, up)
	ctx := context.Background()

	_, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	_, err = pc.Fetch(ctx, categoriesReq(20, 10))
	require.NoError(t, err)

	res, err := pc.FetchNext(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 25)
	assert.Equal(t, category{ID: 35, Name: "c35"}, res.Items[len(res.Items)-1])
	require.NotNil(t, res.PageInfo)
	assert.False(t, res.PageInfo.HasNext)
	assert.Equal(t, int32(3), up.calls.Load())
}

func TestPageCache_ReadIgnoresStartAndLimit(t *testing.T) {
	pc, _ := setupPageCache(t, &fakeUpstream{total: 5})
	ctx := context.Background()
	_, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)

	res, err := pc.Read(ctx, lobby.PageRequest{Field: lobby.FieldCategories, Start: -3, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, res.Items, 5)
}

func TestPageCache_ReadUnknownFingerprint(t *testing.T) {
	pc, _ := setupPageCache(t, nil)
	res, err := pc.Read(context.Background(), lobby.PageRequest{
		Field:  lobby.FieldServersByCategory,
		Filter: lobby.Filter{CategorySlug: "never"},
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Nil(t, res.PageInfo)
}

func TestPageCache_InvalidRequest(t *testing.T) {
	pc, _ := setupPageCache(t, &fakeUpstream{total: 1})
	ctx := context.Background()

	_, err := pc.Fetch(ctx, lobby.PageRequest{Field: lobby.FieldCategories, Start: -5, Limit: 10})
	assert.ErrorIs(t, err, lobby.ErrInvalidRequest)

	_, err = pc.Read(ctx, lobby.PageRequest{Field: "channels", Limit: 10})
	assert.ErrorIs(t, err, lobby.ErrUnknownField)

	_, err = pc.Merge(ctx, lobby.PageRequest{Field: lobby.FieldCategories, Limit: 1000}, lobby.Page{})
	assert.ErrorIs(t, err, lobby.ErrInvalidRequest)
}

func TestPageCache_FetchWithoutFetcher(t *testing.T) {
	pc, _ := setupPageCache(t, nil)
	_, err := pc.Fetch(context.Background(), categoriesReq(0, 10))
	assert.ErrorIs(t, err, lobby.ErrFetcherNotSet)
}

func TestPageCache_FetchErrorLeavesNoBucket(t *testing.T) {
	boom := errors.New("boom")
	up := &fakeUpstream{total: 10, err: boom}
	pc, _ := setupPageCache(t, up)
	ctx := context.Background()

	_, err := pc.Fetch(ctx, categoriesReq(0, 10))
	assert.ErrorIs(t, err, boom)

	up.err = nil
	res, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Len(t, res.Items, 10)
	assert.Equal(t, int32(2), up.calls.Load())
}

func TestPageCache_FetchTimeout(t *testing.T) {
	up := &fakeUpstream{total: 10, delay: time.Second}
	pc, _ := setupPageCache(t, up, lobby.WithFetchTimeout(10*time.Millisecond))

	_, err := pc.Fetch(context.Background(), categoriesReq(0, 10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPageCache_Clear(t *testing.T) {
	up := &fakeUpstream{total: 10}
	pc, _ := setupPageCache(t, up)
	ctx := context.Background()

	_, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	require.NoError(t, pc.Clear(ctx))

	res, err := pc.Read(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Nil(t, res.PageInfo)
}

func TestPageCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := lobby.NewMetrics(reg)
	pc, _ := setupPageCache(t, &fakeUpstream{total: 10}, lobby.WithMetrics(metrics))
	ctx := context.Background()

	_, err := pc.Fetch(ctx, categoriesReq(0, 10))
	require.NoError(t, err)
	_, err = pc.Merge(ctx, categoriesReq(0, 10), lobby.Page{})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg,
		"lobby_page_cache_merges_total", "lobby_page_cache_fetches_total", "lobby_page_cache_reads_total")
	require.NoError(t, err)
	// merges{inserted}, merges{skipped}, fetches{ok}, reads{hit}
	assert.Equal(t, 4, count)
}
