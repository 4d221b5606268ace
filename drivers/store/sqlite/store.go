package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"lobby"
	"lobby/common"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	defaultMaxOpenConns    = 1 // sqlite serializes writers; one connection avoids SQLITE_BUSY
	defaultMaxIdleConns    = 1
	defaultConnMaxLifetime = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS page_buckets (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT    NOT NULL,
	start       INTEGER NOT NULL,
	items       BLOB    NOT NULL,
	has_next    BOOLEAN NOT NULL DEFAULT FALSE,
	total       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (fingerprint, start)
);`

// bucketRow is the database shape of a lobby.Bucket.
type bucketRow struct {
	Seq         int64  `db:"seq"`
	Fingerprint string `db:"fingerprint"`
	Start       int    `db:"start"`
	Items       []byte `db:"items"`
	HasNext     bool   `db:"has_next"`
	Total       int    `db:"total"`
}

func (r bucketRow) toBucket() (lobby.Bucket, error) {
	b := lobby.Bucket{
		Fingerprint: r.Fingerprint,
		Start:       r.Start,
		PageInfo:    lobby.PageInfo{HasNext: r.HasNext, Total: r.Total},
	}
	if err := json.Unmarshal(r.Items, &b.Items); err != nil {
		return lobby.Bucket{}, fmt.Errorf("decode items of bucket '%s': %w", b.Key(), err)
	}
	return b, nil
}

// Store implements lobby.BucketStore on a SQLite table. The UNIQUE
// (fingerprint, start) constraint with INSERT OR IGNORE is the
// first-write-wins rule; seq records insertion order.
type Store struct {
	db      *sqlx.DB
	dsn     string
	logger  *zap.Logger
	closeMx sync.Mutex
	closed  bool

	mu       sync.Mutex
	counters map[string]int
}

var _ lobby.BucketStore = (*Store)(nil)

// NewStore opens (creating if needed) the SQLite database at dsn.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing sqlite bucket store", zap.String("dsn", dsn))
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create page_buckets table: %w", err)
	}

	return &Store{
		db:       db,
		dsn:      dsn,
		logger:   logger,
		counters: make(map[string]int),
	}, nil
}

func (s *Store) isClosed() bool {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	return s.closed
}

func (s *Store) incrementCounter(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

// GetBucket returns the bucket at (fingerprint, start) or common.ErrNotFound.
func (s *Store) GetBucket(ctx context.Context, fingerprint string, start int) (*lobby.Bucket, error) {
	if s.isClosed() {
		return nil, common.ErrStoreClosed
	}
	s.incrementCounter("GetBucket")
	var row bucketRow
	err := s.db.GetContext(ctx, &row,
		`SELECT seq, fingerprint, start, items, has_next, total FROM page_buckets WHERE fingerprint = ? AND start = ?`,
		fingerprint, start)
	if errors.Is(err, sql.ErrNoRows) {
		s.incrementCounter("GetBucketMiss")
		return nil, common.ErrNotFound
	} else if err != nil {
		s.incrementCounter("GetBucketError")
		return nil, fmt.Errorf("sqlite GetBucket error: %w", err)
	}
	s.incrementCounter("GetBucketHit")
	b, err := row.toBucket()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// PutBucketIfAbsent inserts the bucket unless (fingerprint, start) exists.
func (s *Store) PutBucketIfAbsent(ctx context.Context, bucket lobby.Bucket) (bool, error) {
	if s.isClosed() {
		return false, common.ErrStoreClosed
	}
	s.incrementCounter("PutBucket")
	items := bucket.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("encode items of bucket '%s': %w", bucket.Key(), err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO page_buckets (fingerprint, start, items, has_next, total) VALUES (?, ?, ?, ?, ?)`,
		bucket.Fingerprint, bucket.Start, encoded, bucket.PageInfo.HasNext, bucket.PageInfo.Total)
	if err != nil {
		s.incrementCounter("PutBucketError")
		return false, fmt.Errorf("sqlite PutBucket error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite PutBucket rows affected: %w", err)
	}
	if n == 0 {
		s.incrementCounter("PutBucketExists")
		return false, nil
	}
	return true, nil
}

// ListBuckets returns the buckets of fingerprint in insertion order.
func (s *Store) ListBuckets(ctx context.Context, fingerprint string) ([]lobby.Bucket, error) {
	if s.isClosed() {
		return nil, common.ErrStoreClosed
	}
	s.incrementCounter("ListBuckets")
	var rows []bucketRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, fingerprint, start, items, has_next, total FROM page_buckets WHERE fingerprint = ? ORDER BY seq`,
		fingerprint)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListBuckets error: %w", err)
	}
	out := make([]lobby.Bucket, 0, len(rows))
	for _, r := range rows {
		b, err := r.toBucket()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Clear deletes every bucket.
func (s *Store) Clear(ctx context.Context) error {
	if s.isClosed() {
		return common.ErrStoreClosed
	}
	s.incrementCounter("Clear")
	res, err := s.db.ExecContext(ctx, `DELETE FROM page_buckets`)
	if err != nil {
		return fmt.Errorf("sqlite Clear error: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("sqlite bucket store cleared", zap.Int64("rows", n))
	return nil
}

// Stats returns a snapshot of the operation counters.
func (s *Store) Stats(_ context.Context) lobby.StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	return lobby.StoreStats{Counters: counters}
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing sqlite bucket store", zap.String("dsn", s.dsn))
	return s.db.Close()
}
