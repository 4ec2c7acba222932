// Package executor applies a planned action list against the two
// endpoints of a sync run.
//
// Execution is strictly sequential: one action completes before the
// next begins, and cancellation is observed only at action boundaries,
// never mid-transfer. Individual action failures are reported and the
// run continues; only setup-level failures (device binding, cache open)
// abort a run, and those happen before Run is called.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"github.com/tunesync/tunesync/internal/backend"
	"github.com/tunesync/tunesync/internal/hashcache"
	"github.com/tunesync/tunesync/internal/planner"
	"github.com/tunesync/tunesync/internal/playlist"
)

// Outcome classifies what happened to one action.
type Outcome string

const (
	// OutcomeCopied means data was (or in dry-run, would be) written.
	OutcomeCopied Outcome = "copied"

	// OutcomeDeleted means the target was (or would be) removed.
	OutcomeDeleted Outcome = "deleted"

	// OutcomeSkipped means the action resolved to no data movement:
	// protected destination, hash-equal content, or a planned skip.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the action errored; the run continues.
	OutcomeFailed Outcome = "failed"
)

// Reporter receives per-action results. Implementations render progress
// for a front-end; the executor itself never prints.
type Reporter interface {
	// Action is called once per executed action with its outcome and a
	// short detail string (destination path, skip reason, error text).
	Action(a planner.Action, outcome Outcome, detail string)
}

// nopReporter is used when no reporter is configured.
type nopReporter struct{}

func (nopReporter) Action(planner.Action, Outcome, string) {}

// Side binds one endpoint for execution: its backend, root, the index
// built for this run, and whether it is protected.
type Side struct {
	Backend backend.Backend
	Root    string
	Index   backend.Index

	// Protected forbids overwriting existing files and any delete on
	// this side; affected actions downgrade to reported skips.
	Protected bool
}

// Config carries the execution settings resolved by the front-end.
type Config struct {
	// Mode is the equality mode the plan was built with. In hash mode
	// every conflicting copy is preceded by a content-hash comparison.
	Mode planner.Mode

	// RewritePlaylist enables playlist rewriting on copy.
	RewritePlaylist bool

	// PlaylistExts is the lowercase playlist extension set.
	PlaylistExts map[string]bool

	// DryRun takes every decision, including hash checks, but replaces
	// each mutation with a report.
	DryRun bool

	// Logger carries per-action narration. Nil means stderr.
	Logger *log.Logger

	// Reporter receives action outcomes. Nil means discard.
	Reporter Reporter
}

// Summary totals one run.
type Summary struct {
	Copies   int
	Deletes  int
	Skips    int
	Failures int

	// BytesCopied counts source bytes of performed copies where the
	// source size was known.
	BytesCopied int64
}

// Executor walks an action list against two bound sides.
type Executor struct {
	left  Side
	right Side
	cache *hashcache.Cache
	cfg   Config
}

// New creates an executor. cache may be nil only if the plan can never
// need hashes (quick mode against fully reliable metadata); passing one
// is always safe.
func New(left, right Side, cache *hashcache.Cache, cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = nopReporter{}
	}
	if cfg.PlaylistExts == nil {
		cfg.PlaylistExts = backend.DefaultPlaylistExts
	}
	return &Executor{left: left, right: right, cache: cache, cfg: cfg}
}

// Run applies the plan in order. The returned error is non-nil only for
// cancellation; per-action failures are reflected in the summary and
// reported, not returned.
func (e *Executor) Run(ctx context.Context, actions []planner.Action) (Summary, error) {
	var sum Summary
	for _, a := range actions {
		// Cooperative cancellation, checked between actions only.
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		switch a.Op {
		case planner.OpCopy:
			e.runCopy(ctx, a, &sum)
		case planner.OpDelete:
			e.runDelete(ctx, a, &sum)
		case planner.OpSkip:
			sum.Skips++
			e.cfg.Reporter.Action(a, OutcomeSkipped, a.Note)
		}
	}
	return sum, nil
}

// sides resolves source and destination for a copy direction.
func (e *Executor) sides(dir planner.Direction) (src, dst Side) {
	if dir == planner.L2R {
		return e.left, e.right
	}
	return e.right, e.left
}

func (e *Executor) runCopy(ctx context.Context, a planner.Action, sum *Summary) {
	src, dst := e.sides(a.Direction)
	dstAbs := dst.Backend.JoinRoot(dst.Root, a.DstRel)

	// Protection: an existing file on a protected destination is never
	// overwritten. A failed existence probe counts as absent; the
	// copy then proceeds and fails visibly if the path is real.
	if dst.Protected {
		exists, err := dst.Backend.Exists(ctx, dstAbs)
		if err != nil {
			e.cfg.Logger.Printf("existence probe failed for %s: %v", dstAbs, err)
			exists = false
		}
		if exists {
			sum.Skips++
			e.cfg.Reporter.Action(a, OutcomeSkipped, "protected destination exists: "+dstAbs)
			return
		}
	}

	// Equality fallback: when quick metadata was inconclusive (either
	// record carries unknown sentinels) or hash mode is on, and the
	// destination has a counterpart, compare content hashes. A hash
	// failure is inconclusive: prefer a redundant copy over stalling
	// the batch.
	if other, ok := dst.Index[a.Src.Key]; ok && e.needHash(a.Src, other) {
		hSrc, err1 := e.hash(ctx, src, a.Src)
		hDst, err2 := e.hash(ctx, dst, other)
		if err1 == nil && err2 == nil && hSrc == hDst {
			sum.Skips++
			e.cfg.Reporter.Action(a, OutcomeSkipped, "equal by hash: "+a.Src.Rel)
			return
		}
		if err1 != nil || err2 != nil {
			e.cfg.Logger.Printf("hash check inconclusive for %s: %v", a.Src.Rel, errors.Join(err1, err2))
		}
	}

	if e.cfg.RewritePlaylist && e.cfg.PlaylistExts[strings.ToLower(path.Ext(a.Src.Rel))] {
		e.copyPlaylist(ctx, a, src, dst, dstAbs, sum)
		return
	}

	if e.cfg.DryRun {
		sum.Copies++
		e.countBytes(sum, a.Src)
		e.cfg.Reporter.Action(a, OutcomeCopied, dstAbs)
		return
	}
	if err := src.Backend.CopyTo(ctx, a.Src.AbsPath, dst.Backend, dstAbs); err != nil {
		sum.Failures++
		e.cfg.Reporter.Action(a, OutcomeFailed, err.Error())
		return
	}
	sum.Copies++
	e.countBytes(sum, a.Src)
	e.cfg.Reporter.Action(a, OutcomeCopied, dstAbs)
}

// copyPlaylist reads, rewrites and writes a playlist instead of copying
// bytes verbatim.
func (e *Executor) copyPlaylist(ctx context.Context, a planner.Action, src, dst Side, dstAbs string, sum *Summary) {
	if e.cfg.DryRun {
		sum.Copies++
		e.cfg.Reporter.Action(a, OutcomeCopied, dstAbs+" (playlist rewrite)")
		return
	}
	data, err := src.Backend.ReadAll(ctx, a.Src.AbsPath)
	if err != nil {
		sum.Failures++
		e.cfg.Reporter.Action(a, OutcomeFailed, fmt.Sprintf("reading playlist: %v", err))
		return
	}
	rewritten := playlist.Rewrite(string(data))
	if err := dst.Backend.WriteAll(ctx, dstAbs, []byte(rewritten)); err != nil {
		sum.Failures++
		e.cfg.Reporter.Action(a, OutcomeFailed, fmt.Sprintf("writing playlist: %v", err))
		return
	}
	sum.Copies++
	e.cfg.Reporter.Action(a, OutcomeCopied, dstAbs+" (playlist rewrite)")
}

func (e *Executor) runDelete(ctx context.Context, a planner.Action, sum *Summary) {
	side := e.left
	if a.TargetSide == planner.SideRight {
		side = e.right
	}
	if side.Protected {
		sum.Skips++
		e.cfg.Reporter.Action(a, OutcomeSkipped, fmt.Sprintf("protected delete (%s): %s", a.TargetSide, a.Rel))
		return
	}
	abs := side.Backend.JoinRoot(side.Root, a.Rel)
	if e.cfg.DryRun {
		sum.Deletes++
		e.cfg.Reporter.Action(a, OutcomeDeleted, abs)
		return
	}
	if err := side.Backend.Delete(ctx, abs); err != nil {
		sum.Failures++
		e.cfg.Reporter.Action(a, OutcomeFailed, err.Error())
		return
	}
	sum.Deletes++
	e.cfg.Reporter.Action(a, OutcomeDeleted, abs)
}

// needHash reports whether content hashes must settle equality for this
// pair: always in hash mode, and in quick mode whenever either record's
// metadata is unreliable.
func (e *Executor) needHash(src, other backend.FileRecord) bool {
	if e.cfg.Mode == planner.ModeHash {
		return true
	}
	return src.MetadataUnreliable() || other.MetadataUnreliable()
}

// hash returns the content hash for rec, consulting the cache first and
// storing the result of any fresh computation.
func (e *Executor) hash(ctx context.Context, side Side, rec backend.FileRecord) (string, error) {
	if e.cache == nil {
		return "", errors.New("no hash cache configured")
	}
	bid := side.Backend.ID()
	if h, ok, err := e.cache.Get(ctx, bid, side.Root, rec.Rel, rec.Size, rec.ModTime); err == nil && ok {
		return h, nil
	} else if err != nil {
		e.cfg.Logger.Printf("cache lookup failed for %s: %v", rec.Rel, err)
	}

	r, err := side.Backend.OpenRead(ctx, rec.AbsPath)
	if err != nil {
		return "", err
	}
	defer r.Close()
	h, err := hashcache.HashReader(r)
	if err != nil {
		return "", err
	}
	if err := e.cache.Put(ctx, bid, side.Root, rec.Rel, rec.Size, rec.ModTime, h); err != nil {
		e.cfg.Logger.Printf("cache store failed for %s: %v", rec.Rel, err)
	}
	return h, nil
}

func (e *Executor) countBytes(sum *Summary, rec backend.FileRecord) {
	if rec.Size > 0 {
		sum.BytesCopied += rec.Size
	}
}
