// Package hashcache persists content hashes so that equality checks do
// not re-read unchanged files on every run.
//
// The cache is an embedded SQLite database with a single table keyed by
// (backend, root, rel). A row is honored only while the caller's size
// matches exactly and the modification time is within the shared
// tolerance window; anything else is a miss and forces recomputation.
// Rows are never swept: they are overwritten on the next successful
// hash of the same path and invalidated lazily at lookup time.
package hashcache

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tunesync/tunesync/internal/backend"
)

// ChunkSize is the read granularity for streaming hash computation.
// Hashing an N-byte file is exactly one sequential pass in ChunkSize
// steps, bounding memory regardless of file size.
const ChunkSize = 1 << 20

// Cache wraps the SQLite connection holding hash rows.
type Cache struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the cache database at path. The caller must
// Close it when the run ends.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	// The driver parses the DSN as a URI. Escape the bytes that would
	// start a query or fragment so odd filenames stay literal.
	uri := "file:" + strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23").Replace(path)
	conn, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging cache database: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	// The run is single-writer; WAL still keeps a concurrent
	// `tunesync cache status` from blocking on a long sync.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := c.initSchema(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// initSchema creates the hash table if missing. Idempotent.
func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS file_hash (
		backend    TEXT NOT NULL,
		root       TEXT NOT NULL,
		rel        TEXT NOT NULL,
		size       INTEGER,
		mtime      INTEGER,
		sha1       TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (backend, root, rel)
	);`
	if _, err := c.conn.Exec(schema); err != nil {
		return fmt.Errorf("initializing cache schema: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (c *Cache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Get looks up the cached hash for (backendID, root, rel). The row is a
// hit only when its recorded size equals size exactly and its recorded
// mtime is within the tolerance window of mtime.
func (c *Cache) Get(ctx context.Context, backendID, root, rel string, size, mtime int64) (string, bool, error) {
	row := c.conn.QueryRowContext(ctx,
		"SELECT sha1, size, mtime FROM file_hash WHERE backend=? AND root=? AND rel=?",
		backendID, root, rel)

	var hash string
	var cachedSize, cachedMtime int64
	if err := row.Scan(&hash, &cachedSize, &cachedMtime); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}

	d := cachedMtime - mtime
	if d < 0 {
		d = -d
	}
	if cachedSize == size && d <= backend.ModTimeTolerance {
		return hash, true, nil
	}
	return "", false, nil
}

// Put upserts the hash row. Last write wins: the row always reflects
// the most recently observed content for the path.
func (c *Cache) Put(ctx context.Context, backendID, root, rel string, size, mtime int64, hash string) error {
	_, err := c.conn.ExecContext(ctx,
		"REPLACE INTO file_hash (backend, root, rel, size, mtime, sha1, updated_at) VALUES (?,?,?,?,?,?,?)",
		backendID, root, rel, size, mtime, hash, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Count returns the number of cached rows.
func (c *Cache) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_hash").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Clear deletes every cached row.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, "DELETE FROM file_hash"); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// HashReader streams r through SHA-1 in ChunkSize steps and returns the
// hex digest.
func HashReader(r io.Reader) (string, error) {
	h := sha1.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
