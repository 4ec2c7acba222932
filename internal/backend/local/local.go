// Package local implements the backend interface for the host filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/tunesync/tunesync/internal/backend"
)

// ID is the backend identifier for local endpoints. It keys hash-cache
// rows, so it must stay stable across releases.
const ID = "local"

func init() {
	backend.Register(backend.SchemeLocal, func(string) (backend.Backend, error) {
		return New(), nil
	})
}

// Backend is the local filesystem implementation.
type Backend struct {
	logger *log.Logger
}

// New creates a local backend logging to stderr.
func New() *Backend {
	return NewWithLogger(log.New(os.Stderr, "[local] ", log.LstdFlags))
}

// NewWithLogger creates a local backend with the given logger. The
// logger only carries listing warnings (case-fold collisions).
func NewWithLogger(logger *log.Logger) *Backend {
	return &Backend{logger: logger}
}

// ID returns "local".
func (b *Backend) ID() string {
	return ID
}

// JoinRoot converts a forward-slash relative path to a native absolute
// path under root.
func (b *Backend) JoinRoot(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// List walks root and indexes every regular file the filter accepts.
// Hidden and excluded directories are pruned during the walk so their
// subtrees are never visited.
func (b *Backend) List(ctx context.Context, root string, filter *backend.Filter) (backend.Index, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	idx := backend.Index{}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// A file vanishing mid-walk is not fatal.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel := relPath(p, root)
		if d.IsDir() {
			if p == root {
				return nil
			}
			if filter.SkipHidden() && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			if filter.Excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !filter.WantFile(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		idx.Insert(backend.FileRecord{
			Rel:     rel,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
			AbsPath: p,
			Key:     backend.FoldKey(rel),
		}, b.warnCollision)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	return idx, nil
}

func (b *Backend) warnCollision(kept, dropped backend.FileRecord) {
	b.logger.Printf("case-fold collision: keeping %q, ignoring %q", kept.Rel, dropped.Rel)
}

// relPath returns the forward-slash, NFC-normalized path of p under root.
func relPath(p, root string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return ""
	}
	return backend.NFC(filepath.ToSlash(rel))
}

// OpenRead opens the file for streaming reads.
func (b *Backend) OpenRead(_ context.Context, abspath string) (io.ReadCloser, error) {
	return os.Open(abspath)
}

// ReadAll reads the whole file.
func (b *Backend) ReadAll(_ context.Context, abspath string) ([]byte, error) {
	return os.ReadFile(abspath)
}

// WriteAll writes data to abspath through a temp file and rename, so a
// crashed run never leaves a half-written destination.
func (b *Backend) WriteAll(ctx context.Context, abspath string, data []byte) error {
	if err := b.EnsureDir(ctx, filepath.Dir(abspath)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(abspath), ".tunesync-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, abspath)
}

// CopyTo copies srcAbs to dstAbs on dst. Local-to-local copies are
// atomic (temp file + rename) and preserve mtime and permissions.
// Copies toward a remote backend delegate to its Push capability.
func (b *Backend) CopyTo(ctx context.Context, srcAbs string, dst backend.Backend, dstAbs string) error {
	if dst.ID() == ID {
		return atomicCopy(ctx, srcAbs, dstAbs)
	}
	if p, ok := dst.(backend.Pusher); ok {
		return p.Push(ctx, srcAbs, dstAbs)
	}
	return fmt.Errorf("copy local -> %s: %w", dst.ID(), backend.ErrUnsupported)
}

// atomicCopy writes src's content next to dst under a temporary name,
// copies mtime and permissions onto it, then renames it into place.
func atomicCopy(ctx context.Context, src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tunesync-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, st.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(tmpName, st.ModTime(), st.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// Delete removes abspath, recursively for directories. Absent paths are
// tolerated.
func (b *Backend) Delete(_ context.Context, abspath string) error {
	err := os.Remove(abspath)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// Non-empty directory: fall back to recursive removal.
	if st, serr := os.Stat(abspath); serr == nil && st.IsDir() {
		return os.RemoveAll(abspath)
	}
	return err
}

// Exists reports whether abspath exists.
func (b *Backend) Exists(_ context.Context, abspath string) (bool, error) {
	if _, err := os.Stat(abspath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureDir creates dir and any missing parents.
func (b *Backend) EnsureDir(_ context.Context, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
