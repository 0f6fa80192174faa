package backends

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	oasis "github.com/nevindra/runcore"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// FetchCache is a content-addressed, SQLite-backed cache for fetch results,
// keyed by normalized URL.
type FetchCache struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFetchCache opens (creating if absent) a SQLite database at dbPath for
// caching fetch results.
func NewFetchCache(dbPath string) (*FetchCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("backends: open fetch cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &FetchCache{db: db, logger: zap.NewNop()}
	if err := c.init(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// WithCacheLogger sets a structured logger on an already-constructed cache.
func (c *FetchCache) WithCacheLogger(l *zap.Logger) *FetchCache {
	c.logger = l
	return c
}

func (c *FetchCache) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS fetch_cache (
		cache_key TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		result_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("backends: init fetch cache: %w", err)
	}
	return nil
}

// CacheKey returns the content-addressed key for a normalized URL.
func CacheKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached FetchResult for a normalized URL, with CacheHit
// set true, or ok=false on a miss.
func (c *FetchCache) Get(ctx context.Context, normalizedURL string) (FetchResult, bool) {
	key := CacheKey(normalizedURL)
	var resultJSON string
	err := c.db.QueryRowContext(ctx, `SELECT result_json FROM fetch_cache WHERE cache_key = ?`, key).Scan(&resultJSON)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Error("backends: fetch cache read failed", zap.Error(err))
		}
		return FetchResult{}, false
	}
	var result FetchResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		c.logger.Error("backends: fetch cache corrupt entry", zap.Error(err), zap.String("key", key))
		return FetchResult{}, false
	}
	result.CacheHit = true
	return result, true
}

// Put stores result under normalizedURL's cache key. Writes are idempotent:
// a concurrent write for the same URL just overwrites with equivalent
// content, so no locking beyond SQLite's single-connection serialization is
// needed.
func (c *FetchCache) Put(ctx context.Context, normalizedURL string, result FetchResult) error {
	key := CacheKey(normalizedURL)
	stored := result
	stored.CacheHit = false
	resultJSON, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("backends: marshal fetch cache entry: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO fetch_cache (cache_key, url, result_json, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET result_json=excluded.result_json, created_at=excluded.created_at`,
		key, normalizedURL, string(resultJSON), oasis.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("backends: put fetch cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *FetchCache) Close() error { return c.db.Close() }

// CachingFetchBackend wraps another FetchBackend with a FetchCache lookup
// before delegating on a miss.
type CachingFetchBackend struct {
	inner FetchBackend
	cache *FetchCache
}

func NewCachingFetchBackend(inner FetchBackend, cache *FetchCache) *CachingFetchBackend {
	return &CachingFetchBackend{inner: inner, cache: cache}
}

func (c *CachingFetchBackend) Name() string { return c.inner.Name() }

func (c *CachingFetchBackend) Fetch(ctx context.Context, url string, timeoutMs int, maxBytes int, artifactDir string) (FetchResult, error) {
	normalized, err := normalizeURL(url)
	if err != nil {
		return FetchResult{}, &oasis.InvalidInputError{Reason: err.Error()}
	}
	if cached, ok := c.cache.Get(ctx, normalized); ok {
		return cached, nil
	}
	result, err := c.inner.Fetch(ctx, url, timeoutMs, maxBytes, artifactDir)
	if err != nil {
		return FetchResult{}, err
	}
	if err := c.cache.Put(ctx, normalized, result); err != nil {
		c.cache.logger.Error("backends: fetch cache write failed", zap.Error(err), zap.String("url", normalized))
	}
	return result, nil
}
