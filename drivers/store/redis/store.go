package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"lobby"
	"lobby/common"
)

// putIfAbsent writes the bucket and records its key in the fingerprint's
// order list in one step, so readers never see one without the other.
var putIfAbsent = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[2], KEYS[1])
	return 1
end
return 0
`)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "lobby"

const clearScanCount = 500

// store implements lobby.BucketStore using Redis.
// The counters field tracks operation statistics for monitoring (thread-safe).
type store struct {
	redisClient       *redis.Client  // Underlying Redis client
	prefix            string         // Key namespace
	logger            *zap.Logger
	mu                sync.Mutex     // Protects counters map
	counters          map[string]int // Operation counters for stats (e.g., "GetBucket", "GetBucketMiss")
	createdInternally bool           // Indicates whether redisClient was created by this struct
}

// Ensure store implements lobby.BucketStore and io.Closer.
var (
	_ lobby.BucketStore = (*store)(nil)
	_ io.Closer         = (*store)(nil)
)

// Options holds configuration for the Redis store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Logger   *zap.Logger
}

// NewStore creates a new Redis bucket store.
// If redisCli is not nil, it will be used directly. Otherwise, opts will be used to create a new client.
func NewStore(redisCli *redis.Client, opts *Options) (lobby.BucketStore, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	var rdb *redis.Client
	var createdInternally bool
	if redisCli != nil {
		rdb = redisCli
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		createdInternally = true

		// Ping Redis to check connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	logger.Info("redis bucket store initialized", zap.String("prefix", prefix))
	return &store{
		redisClient:       rdb,
		prefix:            prefix,
		logger:            logger,
		counters:          make(map[string]int),
		createdInternally: createdInternally,
	}, nil
}

// incrementCounter safely increments a named operation counter.
func (s *store) incrementCounter(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

func (s *store) bucketKey(fingerprint string, start int) string {
	return s.prefix + ":" + lobby.BucketKey(fingerprint, start)
}

func (s *store) orderKey(fingerprint string) string {
	return s.prefix + ":order:" + fingerprint
}

// GetBucket retrieves one bucket from Redis.
func (s *store) GetBucket(ctx context.Context, fingerprint string, start int) (*lobby.Bucket, error) {
	s.incrementCounter("GetBucket")
	key := s.bucketKey(fingerprint, start)
	val, err := s.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.incrementCounter("GetBucketMiss")
		return nil, common.ErrNotFound
	} else if err != nil {
		s.incrementCounter("GetBucketError")
		return nil, fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	s.incrementCounter("GetBucketHit")

	var b lobby.Bucket
	if err := msgpack.Unmarshal(val, &b); err != nil {
		return nil, fmt.Errorf("msgpack Unmarshal error for key '%s': %w", key, err)
	}
	return &b, nil
}

// PutBucketIfAbsent stores the bucket unless its key already exists.
func (s *store) PutBucketIfAbsent(ctx context.Context, bucket lobby.Bucket) (bool, error) {
	s.incrementCounter("PutBucket")
	key := s.bucketKey(bucket.Fingerprint, bucket.Start)
	data, err := msgpack.Marshal(bucket)
	if err != nil {
		return false, fmt.Errorf("msgpack Marshal error for key '%s': %w", key, err)
	}
	n, err := putIfAbsent.Run(ctx, s.redisClient, []string{key, s.orderKey(bucket.Fingerprint)}, data).Int()
	if err != nil {
		s.incrementCounter("PutBucketError")
		return false, fmt.Errorf("redis put error for key '%s': %w", key, err)
	}
	if n == 0 {
		s.incrementCounter("PutBucketExists")
		return false, nil
	}
	return true, nil
}

// ListBuckets returns the buckets of fingerprint in insertion order.
func (s *store) ListBuckets(ctx context.Context, fingerprint string) ([]lobby.Bucket, error) {
	s.incrementCounter("ListBuckets")
	orderKey := s.orderKey(fingerprint)
	keys, err := s.redisClient.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRange error for key '%s': %w", orderKey, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGet error for '%s': %w", orderKey, err)
	}

	out := make([]lobby.Bucket, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Order list outlived its bucket (partial clear); skip it.
			s.logger.Warn("bucket listed but missing", zap.String("key", keys[i]))
			continue
		}
		var b lobby.Bucket
		if err := msgpack.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("msgpack Unmarshal error for key '%s': %w", keys[i], err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Clear deletes every key under the store prefix.
func (s *store) Clear(ctx context.Context) error {
	s.incrementCounter("Clear")
	pattern := s.prefix + ":*"
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.redisClient.Scan(ctx, cursor, pattern, clearScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis Scan error for pattern '%s': %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis Del error for pattern '%s': %w", pattern, err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.logger.Info("redis bucket store cleared", zap.Int("keys", deleted))
	return nil
}

// Stats returns a snapshot of the operation counters.
func (s *store) Stats(_ context.Context) lobby.StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	return lobby.StoreStats{Counters: counters}
}

// Close implements io.Closer. Only closes redisClient if store.createdInternally is true.
func (s *store) Close() error {
	if s.createdInternally && s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}
