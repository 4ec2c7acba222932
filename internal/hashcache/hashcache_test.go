package hashcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetMiss(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.Get(context.Background(), "local", "/music", "a.mp3", 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("empty cache reported a hit")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "local", "/music", "a.mp3", 100, 1000, "deadbeef"); err != nil {
		t.Fatal(err)
	}

	h, ok, err := c.Get(ctx, "local", "/music", "a.mp3", 100, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || h != "deadbeef" {
		t.Errorf("Get = %q, %v", h, ok)
	}
}

func TestGetMtimeTolerance(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "local", "/music", "a.mp3", 100, 1000, "deadbeef"); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		size  int64
		mtime int64
		hit   bool
	}{
		{100, 1000, true},
		{100, 1002, true},  // within the 2s window
		{100, 998, true},   // window is symmetric
		{100, 1003, false}, // drifted past the window
		{101, 1000, false}, // size must match exactly
	}
	for _, tc := range cases {
		_, ok, err := c.Get(ctx, "local", "/music", "a.mp3", tc.size, tc.mtime)
		if err != nil {
			t.Fatal(err)
		}
		if ok != tc.hit {
			t.Errorf("Get(size=%d, mtime=%d) hit = %v, want %v", tc.size, tc.mtime, ok, tc.hit)
		}
	}
}

func TestKeyIsolation(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "local", "/music", "a.mp3", 100, 1000, "deadbeef"); err != nil {
		t.Fatal(err)
	}

	// Same rel under a different backend or root is a distinct row.
	if _, ok, _ := c.Get(ctx, "adb", "/music", "a.mp3", 100, 1000); ok {
		t.Error("row leaked across backends")
	}
	if _, ok, _ := c.Get(ctx, "local", "/other", "a.mp3", 100, 1000); ok {
		t.Error("row leaked across roots")
	}
}

func TestPutOverwrites(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "local", "/music", "a.mp3", 100, 1000, "old"); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "local", "/music", "a.mp3", 200, 2000, "new"); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.Get(ctx, "local", "/music", "a.mp3", 100, 1000); ok {
		t.Error("stale row survived overwrite")
	}
	h, ok, err := c.Get(ctx, "local", "/music", "a.mp3", 200, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || h != "new" {
		t.Errorf("Get = %q, %v", h, ok)
	}

	n, err := c.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestClear(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	for _, rel := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		if err := c.Put(ctx, "local", "/music", rel, 1, 1, "x"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := c.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count after Clear = %d", n)
	}
}

func TestOpenPathWithURIMetacharacters(t *testing.T) {
	// The DSN is URI-parsed, so these bytes must survive escaping.
	p := filepath.Join(t.TempDir(), "music 50% done?v=1#a.sqlite")
	c, err := Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Put(ctx, "local", "/music", "a.mp3", 1, 1, "x"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(ctx, "local", "/music", "a.mp3", 1, 1); err != nil || !ok {
		t.Errorf("Get = %v, %v", ok, err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("database not created at the literal path: %v", err)
	}
}

func TestHashReader(t *testing.T) {
	// SHA-1("abc") is a fixed vector.
	h, err := HashReader(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if h != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Errorf("HashReader = %q", h)
	}

	empty, err := HashReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if empty != "da39a3ee5e6b4b0d3255bfef95601890afd80709" {
		t.Errorf("HashReader(empty) = %q", empty)
	}
}
