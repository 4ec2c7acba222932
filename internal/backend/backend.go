// Package backend provides a unified interface for sync storage backends.
//
// This package abstracts the differences between a local filesystem tree
// and a remote Android device reached over the adb shell bridge, enabling
// the planner and executor to treat both sides of a sync uniformly.
//
// # Architecture
//
// The Backend interface defines the capabilities a sync run needs:
//   - Tree listing into an Index of file records
//   - Streaming and whole-content reads
//   - Content writes and cross-backend copies
//   - Existence checks, directory creation, deletion
//
// # Usage
//
//	ep, err := backend.ParseEndpoint("adb://device:R58M1234/storage/emulated/0/Music")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b, err := ep.Connect()
//
// # Implementations
//
//   - internal/backend/local: host filesystem
//   - internal/backend/adb: Android device via adb shell commands
//
// Implementations register a constructor for their scheme in init(), so
// callers must import them (typically blank imports in the cmd package).
package backend

import (
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ModTimeTolerance is the allowed modification-time discrepancy, in
// seconds, below which two timestamps are considered equal. FAT/exFAT
// filesystems common on Android storage store mtimes at 2-second
// granularity.
const ModTimeTolerance int64 = 2

// Sentinel errors shared by backend implementations.
var (
	// ErrDeviceNotFound indicates no remote device was attached and
	// ready when an operation required one.
	ErrDeviceNotFound = errors.New("no device detected")

	// ErrUnsupported indicates the backend cannot perform the requested
	// operation (e.g. copying to an unknown backend kind).
	ErrUnsupported = errors.New("operation not supported by backend")
)

// FileRecord describes one regular file found under an endpoint root.
type FileRecord struct {
	// Rel is the path relative to the endpoint root, forward-slash
	// separated and NFC normalized.
	Rel string

	// Size is the file size in bytes. -1 means the size could not be
	// determined (remote metadata unreliable).
	Size int64

	// ModTime is the modification time as Unix seconds. 0 means the
	// time could not be determined.
	ModTime int64

	// AbsPath is the backend-specific absolute path for this file.
	AbsPath string

	// Key is the case-folded form of Rel. It is the join key between
	// the two indexes of a sync run.
	Key string
}

// MetadataUnreliable reports whether this record carries the sentinel
// values that mark size/mtime as unknown. Such records force the
// executor onto the content-hash path instead of quick comparison.
func (r FileRecord) MetadataUnreliable() bool {
	return r.Size < 0 || r.ModTime == 0
}

// Index maps case-folded relative paths to file records for one
// endpoint at one point in time. It is built once per run and treated
// as immutable afterwards.
type Index map[string]FileRecord

// Insert adds rec to the index. If another record already case-folds to
// the same key, the existing record wins and the collision is reported
// through warn (which may be nil). Keeping the first record makes the
// outcome independent of listing order details on the losing side.
func (idx Index) Insert(rec FileRecord, warn func(kept, dropped FileRecord)) {
	if prev, ok := idx[rec.Key]; ok {
		if warn != nil {
			warn(prev, rec)
		}
		return
	}
	idx[rec.Key] = rec
}

// Backend defines the storage operations a sync run needs from one side.
// Implementations exist for the local filesystem (internal/backend/local)
// and Android devices over adb (internal/backend/adb).
//
// All blocking operations take a context; remote implementations issue
// one or more shell commands per call.
type Backend interface {
	// ID returns a stable identifier for the backend kind ("local",
	// "adb"). It keys hash-cache rows together with root and rel path.
	ID() string

	// List enumerates regular files under root, applying the filter,
	// and returns the resulting index. Records for which metadata could
	// not be determined carry Size -1 and ModTime 0 rather than
	// failing the listing.
	List(ctx context.Context, root string, filter *Filter) (Index, error)

	// OpenRead opens the file at abspath for streaming sequential
	// reads. The caller must close the returned reader.
	OpenRead(ctx context.Context, abspath string) (io.ReadCloser, error)

	// ReadAll reads the entire content of the file at abspath.
	ReadAll(ctx context.Context, abspath string) ([]byte, error)

	// WriteAll writes data to abspath, creating parent directories as
	// needed.
	WriteAll(ctx context.Context, abspath string, data []byte) error

	// CopyTo copies the file at srcAbs on this backend to dstAbs on
	// dst, which may be the same backend, the other kind, or a second
	// device of the same kind.
	CopyTo(ctx context.Context, srcAbs string, dst Backend, dstAbs string) error

	// Delete removes the path, recursively if it is a directory.
	// Deleting a path that does not exist is not an error.
	Delete(ctx context.Context, abspath string) error

	// Exists reports whether the path exists.
	Exists(ctx context.Context, abspath string) (bool, error)

	// EnsureDir creates dir and any missing parents.
	EnsureDir(ctx context.Context, dir string) error

	// JoinRoot builds the backend-specific absolute path for a
	// forward-slash relative path under root.
	JoinRoot(root, rel string) string
}

// Pusher is implemented by remote backends that can ingest a local file
// directly. Local-to-remote and remote-to-remote copies route through it.
type Pusher interface {
	// Push uploads the local file at localAbs to remoteAbs, creating
	// remote parent directories and preserving the file's timestamps.
	Push(ctx context.Context, localAbs, remoteAbs string) error
}

// Puller is implemented by remote backends that can materialize a remote
// file at a local path.
type Puller interface {
	// Pull downloads the remote file at remoteAbs to localAbs.
	Pull(ctx context.Context, remoteAbs, localAbs string) error
}

// NFC returns s in Unicode canonical composed form. Every relative path
// and every path sent to a remote shell goes through this: the remote
// shell matches bytes literally, and macOS sources hand out decomposed
// names.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// FoldKey returns the case-folded lookup key for a relative path.
func FoldKey(rel string) string {
	return strings.ToLower(rel)
}
