// Package adb implements the backend interface for Android devices
// reached over the adb shell bridge.
//
// Every operation is one or more adb invocations against a single bound
// device. Binding is lazy: if no serial was supplied, the first operation
// that needs the device queries `adb devices` and binds to the sole
// attached one, failing with backend.ErrDeviceNotFound when none is
// ready.
//
// Per-command latency over adb is high (tens of milliseconds at best),
// so listing batches its metadata retrieval: candidate paths are pushed
// to the device as a list file and a single shell loop stats all of them
// in one round trip.
//
// Pushes are not atomic on the device side: a run killed mid-push can
// leave a truncated remote file. Staging plus rename on-device would not
// help, because a rename across Android's emulated storage mounts is
// itself a copy. Re-running the sync repairs such files (size/mtime no
// longer match, so the file is copied again).
package adb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tunesync/tunesync/internal/backend"
)

// ID is the backend identifier for adb endpoints. It keys hash-cache
// rows, so it must stay stable across releases.
const ID = "adb"

// listFile is where the batch-stat candidate list is staged on-device.
const listFile = "/sdcard/.tunesync_list.txt"

func init() {
	backend.Register(ID, func(deviceID string) (backend.Backend, error) {
		return New(deviceID), nil
	})
}

// Runner abstracts adb process invocation so tests can substitute a
// fake. Args do not include the leading "adb".
type Runner interface {
	// Output runs adb with args, feeding stdin when non-nil, and
	// returns stdout and stderr. err is non-nil for a non-zero exit.
	Output(ctx context.Context, stdin io.Reader, args ...string) (stdout, stderr []byte, err error)

	// Stream runs adb with args and returns its stdout as a stream.
	// Closing the reader reaps the process.
	Stream(ctx context.Context, args ...string) (io.ReadCloser, error)
}

// execRunner invokes the real adb binary.
type execRunner struct{}

func (execRunner) Output(ctx context.Context, stdin io.Reader, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "adb", args...)
	cmd.Stdin = stdin
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

func (execRunner) Stream(ctx context.Context, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, "adb", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdStream{Reader: stdout, cmd: cmd}, nil
}

// cmdStream wraps a command's stdout; Close drains and reaps.
type cmdStream struct {
	io.Reader
	cmd *exec.Cmd
}

func (s *cmdStream) Close() error {
	_, _ = io.Copy(io.Discard, s.Reader)
	return s.cmd.Wait()
}

// CommandError reports a remote shell command that exited non-zero for a
// reason other than a tolerated one.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("adb %s failed: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Backend is the adb shell-bridge implementation.
type Backend struct {
	serial string
	runner Runner
	logger *log.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithRunner substitutes the adb invocation layer. Tests use this to
// script device responses.
func WithRunner(r Runner) Option {
	return func(b *Backend) { b.runner = r }
}

// WithLogger sets the listing-warning logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates an adb backend. serial may be empty, in which case the
// first operation binds to the sole attached device.
func New(serial string, opts ...Option) *Backend {
	b := &Backend{
		serial: serial,
		runner: execRunner{},
		logger: log.New(os.Stderr, "[adb] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ID returns "adb".
func (b *Backend) ID() string {
	return ID
}

// Serial returns the bound device serial, empty if not yet bound.
func (b *Backend) Serial() string {
	return b.serial
}

// JoinRoot joins root and rel with forward slashes and normalizes the
// result to NFC. The remote shell matches path bytes literally, so the
// normalization must happen before quoting.
func (b *Backend) JoinRoot(root, rel string) string {
	return backend.NFC(path.Join(root, rel))
}

// args prepends the -s selector when a device is bound.
func (b *Backend) args(rest ...string) []string {
	if b.serial == "" {
		return rest
	}
	return append([]string{"-s", b.serial}, rest...)
}

// run executes adb with the device selector applied.
func (b *Backend) run(ctx context.Context, rest ...string) ([]byte, []byte, error) {
	return b.runner.Output(ctx, nil, b.args(rest...)...)
}

// ensureDevice binds to a device if none was specified. The sync run is
// single-threaded, so no locking is needed around the lazy bind.
func (b *Backend) ensureDevice(ctx context.Context) error {
	if b.serial != "" {
		return nil
	}
	out, _, err := b.run(ctx, "devices")
	if err != nil {
		return fmt.Errorf("adb devices: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		serial, state, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if ok && state == "device" {
			b.serial = serial
			return nil
		}
	}
	return fmt.Errorf("%w: enable USB debugging and check the connection", backend.ErrDeviceNotFound)
}

// shQuote single-quotes s for the remote shell, escaping embedded
// single quotes the Bourne way.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// EnsureDir creates dir and its parents on the device. It first tries a
// single quoted `mkdir -p`; on devices whose shell rejects that, it
// falls back to creating each segment from the root down, tolerating
// "File exists" per segment.
func (b *Backend) EnsureDir(ctx context.Context, dir string) error {
	if dir == "" || dir == "/" {
		return nil
	}
	if err := b.ensureDevice(ctx); err != nil {
		return err
	}
	dir = backend.NFC(dir)

	if _, _, err := b.run(ctx, "shell", "sh", "-lc", "mkdir -p "+shQuote(dir)); err == nil {
		return nil
	}

	cur := ""
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur = cur + "/" + seg
		args := b.args("shell", "mkdir", shQuote(cur))
		_, stderr, err := b.runner.Output(ctx, nil, args...)
		if err != nil && !strings.Contains(strings.ToLower(string(stderr)), "file exists") {
			return &CommandError{Args: args, Stderr: string(stderr), Err: err}
		}
	}
	return nil
}

// Exists probes the path with a shell test; the exit code is the answer.
func (b *Backend) Exists(ctx context.Context, abspath string) (bool, error) {
	if err := b.ensureDevice(ctx); err != nil {
		return false, err
	}
	_, _, err := b.run(ctx, "shell", "sh", "-lc", "test -e "+shQuote(backend.NFC(abspath)))
	return err == nil, nil
}

// List enumerates regular files under root and stats them in one batch.
//
// Enumeration tries `toybox find` first (predictable output on modern
// Android), then bare `find`. Metadata comes from a single shell loop
// over a pushed list file; if that batch fails for any reason, every
// record is returned with Size -1 and ModTime 0 so the run can fall
// back to hash-based equality instead of aborting.
func (b *Backend) List(ctx context.Context, root string, filter *backend.Filter) (backend.Index, error) {
	if err := b.ensureDevice(ctx); err != nil {
		return nil, err
	}
	root = backend.NFC(strings.TrimRight(root, "/"))
	if root == "" {
		root = "/"
	}

	paths, err := b.findFiles(ctx, root)
	if err != nil {
		return nil, err
	}

	var cand []string
	for _, p := range paths {
		if !strings.HasPrefix(p, root) {
			continue
		}
		rel := backend.NFC(strings.TrimLeft(strings.TrimPrefix(p, root), "/"))
		if filter.WantFile(rel) {
			cand = append(cand, p)
		}
	}

	idx := backend.Index{}
	meta, err := b.batchStat(ctx, cand)
	if err != nil {
		b.logger.Printf("batch stat failed (%v); metadata marked unreliable", err)
		for _, p := range cand {
			rel := backend.NFC(strings.TrimLeft(strings.TrimPrefix(p, root), "/"))
			idx.Insert(backend.FileRecord{
				Rel: rel, Size: -1, ModTime: 0,
				AbsPath: p, Key: backend.FoldKey(rel),
			}, b.warnCollision)
		}
		return idx, nil
	}
	for _, m := range meta {
		rel := backend.NFC(strings.TrimLeft(strings.TrimPrefix(m.path, root), "/"))
		idx.Insert(backend.FileRecord{
			Rel: rel, Size: m.size, ModTime: m.mtime,
			AbsPath: m.path, Key: backend.FoldKey(rel),
		}, b.warnCollision)
	}
	return idx, nil
}

func (b *Backend) warnCollision(kept, dropped backend.FileRecord) {
	b.logger.Printf("case-fold collision: keeping %q, ignoring %q", kept.Rel, dropped.Rel)
}

// findFiles enumerates regular files under root, NUL-separated.
func (b *Backend) findFiles(ctx context.Context, root string) ([]string, error) {
	var lastErr error
	for _, argv := range [][]string{
		{"shell", "toybox", "find", shQuote(root), "-type", "f", "-print0"},
		{"shell", "find", shQuote(root), "-type", "f", "-print0"},
	} {
		out, stderr, err := b.run(ctx, argv...)
		if err != nil {
			lastErr = &CommandError{Args: argv, Stderr: string(stderr), Err: err}
			continue
		}
		var paths []string
		for _, p := range strings.Split(string(out), "\x00") {
			if p != "" {
				paths = append(paths, p)
			}
		}
		return paths, nil
	}
	return nil, fmt.Errorf("enumerating %s: %w", root, lastErr)
}

type statEntry struct {
	path  string
	size  int64
	mtime int64
}

// batchStat fetches size and mtime for all paths in one shell loop. The
// candidate list travels as a file because argv length is limited and a
// per-path stat round trip would dominate the listing time.
func (b *Backend) batchStat(ctx context.Context, paths []string) ([]statEntry, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	tmp, err := os.CreateTemp("", "tunesync-list-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	for _, p := range paths {
		if _, err := fmt.Fprintln(tmp, p); err != nil {
			tmp.Close()
			return nil, err
		}
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if _, stderr, err := b.run(ctx, "push", tmpName, listFile); err != nil {
		return nil, &CommandError{Args: []string{"push"}, Stderr: string(stderr), Err: err}
	}
	defer b.run(ctx, "shell", "rm", "-f", listFile)

	script := fmt.Sprintf(`while IFS= read -r p; do toybox stat -c '%%n|%%s|%%Y' "$p"; done < %s`, listFile)
	out, stderr, err := b.run(ctx, "shell", "sh", "-lc", script)
	if err != nil {
		return nil, &CommandError{Args: []string{"shell", "stat-loop"}, Stderr: string(stderr), Err: err}
	}

	var entries []statEntry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		e, ok := parseStatLine(line)
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// parseStatLine parses "<path>|<size>|<mtime>". Fields are split from
// the right so path names containing '|' survive.
func parseStatLine(line string) (statEntry, bool) {
	if line == "" {
		return statEntry{}, false
	}
	i := strings.LastIndexByte(line, '|')
	if i < 0 {
		return statEntry{}, false
	}
	j := strings.LastIndexByte(line[:i], '|')
	if j < 0 {
		return statEntry{}, false
	}
	size, err1 := strconv.ParseInt(line[j+1:i], 10, 64)
	mtime, err2 := strconv.ParseInt(line[i+1:], 10, 64)
	if err1 != nil || err2 != nil {
		return statEntry{}, false
	}
	return statEntry{path: line[:j], size: size, mtime: mtime}, true
}

// OpenRead streams the remote file through `exec-out toybox cat`.
func (b *Backend) OpenRead(ctx context.Context, abspath string) (io.ReadCloser, error) {
	if err := b.ensureDevice(ctx); err != nil {
		return nil, err
	}
	return b.runner.Stream(ctx, b.args("exec-out", "toybox", "cat", backend.NFC(abspath))...)
}

// ReadAll reads the whole remote file.
func (b *Backend) ReadAll(ctx context.Context, abspath string) ([]byte, error) {
	if err := b.ensureDevice(ctx); err != nil {
		return nil, err
	}
	args := b.args("exec-out", "toybox", "cat", backend.NFC(abspath))
	out, stderr, err := b.runner.Output(ctx, nil, args...)
	if err != nil {
		return nil, &CommandError{Args: args, Stderr: string(stderr), Err: err}
	}
	return out, nil
}

// WriteAll stages data in a local temp file and pushes it.
func (b *Backend) WriteAll(ctx context.Context, abspath string, data []byte) error {
	tmp, err := os.CreateTemp("", "tunesync-*")
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
	return b.Push(ctx, tmpName, abspath)
}

// Push uploads a local file, creating remote parents first. The -a flag
// preserves the source timestamps so quick-mode comparison keeps working
// on later runs.
func (b *Backend) Push(ctx context.Context, localAbs, remoteAbs string) error {
	if err := b.ensureDevice(ctx); err != nil {
		return err
	}
	remoteAbs = backend.NFC(remoteAbs)
	if err := b.EnsureDir(ctx, path.Dir(remoteAbs)); err != nil {
		return err
	}
	args := b.args("push", "-a", localAbs, remoteAbs)
	if _, stderr, err := b.runner.Output(ctx, nil, args...); err != nil {
		return &CommandError{Args: args, Stderr: string(stderr), Err: err}
	}
	return nil
}

// Pull downloads a remote file to a local path.
func (b *Backend) Pull(ctx context.Context, remoteAbs, localAbs string) error {
	if err := b.ensureDevice(ctx); err != nil {
		return err
	}
	args := b.args("pull", backend.NFC(remoteAbs), localAbs)
	if _, stderr, err := b.runner.Output(ctx, nil, args...); err != nil {
		return &CommandError{Args: args, Stderr: string(stderr), Err: err}
	}
	return nil
}

// CopyTo copies a remote file to dst. A local destination is a direct
// pull; another device (including this one) stages through a local temp
// file, pull then push.
func (b *Backend) CopyTo(ctx context.Context, srcAbs string, dst backend.Backend, dstAbs string) error {
	if p, ok := dst.(backend.Pusher); ok {
		tmp, err := os.CreateTemp("", "tunesync-*")
		if err != nil {
			return err
		}
		tmpName := tmp.Name()
		tmp.Close()
		defer os.Remove(tmpName)

		if err := b.Pull(ctx, srcAbs, tmpName); err != nil {
			return err
		}
		return p.Push(ctx, tmpName, dstAbs)
	}
	if err := dst.EnsureDir(ctx, filepath.Dir(dstAbs)); err != nil {
		return err
	}
	return b.Pull(ctx, srcAbs, dstAbs)
}

// Delete removes the path recursively. rm -rf already tolerates absent
// paths.
func (b *Backend) Delete(ctx context.Context, abspath string) error {
	if err := b.ensureDevice(ctx); err != nil {
		return err
	}
	args := b.args("shell", "rm", "-rf", shQuote(backend.NFC(abspath)))
	if _, stderr, err := b.runner.Output(ctx, nil, args...); err != nil {
		return &CommandError{Args: args, Stderr: string(stderr), Err: err}
	}
	return nil
}
