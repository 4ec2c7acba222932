// Package planner computes the ordered action list that reconciles two
// endpoint indexes under a conflict policy.
//
// Plan is a pure function over immutable inputs: given the same two
// indexes and settings it always produces the same action sequence, in
// sorted key order, so a dry run reports exactly what an apply run will
// do.
package planner

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/tunesync/tunesync/internal/backend"
)

// ErrUnknownConflictPolicy is returned for a policy value outside the
// supported set. It is a configuration error and surfaces before any
// action runs.
var ErrUnknownConflictPolicy = errors.New("unknown conflict policy")

// Mode selects how file equality is judged.
type Mode string

const (
	// ModeQuick trusts size plus modification time when both are known.
	ModeQuick Mode = "quick"

	// ModeHash always confirms equality by content digest.
	ModeHash Mode = "hash"
)

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m == ModeQuick || m == ModeHash
}

// ConflictPolicy selects the winner when both sides carry a differing
// file under the same key.
type ConflictPolicy string

const (
	// ConflictNewer copies the side with the later modification time;
	// ties go to the left side.
	ConflictNewer ConflictPolicy = "newer"

	// ConflictLeft always copies left over right.
	ConflictLeft ConflictPolicy = "left"

	// ConflictRight always copies right over left.
	ConflictRight ConflictPolicy = "right"

	// ConflictSkip leaves both sides untouched.
	ConflictSkip ConflictPolicy = "skip"

	// ConflictDuplicate keeps both: the winner under the normal name,
	// the loser cross-copied under a disambiguated name.
	ConflictDuplicate ConflictPolicy = "duplicate"
)

// Valid reports whether p is a supported policy.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictNewer, ConflictLeft, ConflictRight, ConflictSkip, ConflictDuplicate:
		return true
	}
	return false
}

// Direction is the copy direction between the two endpoints.
type Direction string

const (
	L2R Direction = "L2R"
	R2L Direction = "R2L"
)

// Side names one endpoint of the run.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Op tags the action variant.
type Op int

const (
	OpCopy Op = iota
	OpDelete
	OpSkip
)

// Action is one planned operation. The populated fields depend on Op:
// copies carry Src, DstRel and Direction; deletes carry TargetSide and
// Rel; skips carry only the Note.
type Action struct {
	Op Op

	// Src is the source record of a copy.
	Src backend.FileRecord

	// DstRel is the destination-relative path of a copy. It differs
	// from Src.Rel only for duplicate-policy loser copies.
	DstRel string

	// Direction is the copy direction.
	Direction Direction

	// TargetSide is the side a delete applies to.
	TargetSide Side

	// Rel is the relative path a delete removes.
	Rel string

	// Note is a short human-readable reason, carried into reports.
	Note string
}

func copyAction(src backend.FileRecord, dstRel string, dir Direction, note string) Action {
	return Action{Op: OpCopy, Src: src, DstRel: dstRel, Direction: dir, Note: note}
}

func deleteAction(side Side, rel, note string) Action {
	return Action{Op: OpDelete, TargetSide: side, Rel: rel, Note: note}
}

func skipAction(note string) Action {
	return Action{Op: OpSkip, Note: note}
}

// String renders the action for logs and dry-run output.
func (a Action) String() string {
	switch a.Op {
	case OpCopy:
		return fmt.Sprintf("copy[%s] %s -> %s (%s)", a.Direction, a.Src.Rel, a.DstRel, a.Note)
	case OpDelete:
		return fmt.Sprintf("delete[%s] %s (%s)", a.TargetSide, a.Rel, a.Note)
	default:
		return fmt.Sprintf("skip (%s)", a.Note)
	}
}

// equalQuick reports whether two records can be declared equal from
// metadata alone: both sizes known and equal, both mtimes known and
// within tolerance. Any unknown sentinel makes the answer false, which
// pushes the decision to the hash path.
func equalQuick(a, b backend.FileRecord) bool {
	if a.Size < 0 || b.Size < 0 || a.Size != b.Size {
		return false
	}
	if a.ModTime <= 0 || b.ModTime <= 0 {
		return false
	}
	d := a.ModTime - b.ModTime
	if d < 0 {
		d = -d
	}
	return d <= backend.ModTimeTolerance
}

// conflictName builds the duplicate-policy loser filename from the
// winner's relative path: the base name suffixed with the losing side,
// extension preserved. Using the winner's path keeps both destination
// names consistent when the two sides' casing differs.
func conflictName(rel string, loser Side) string {
	ext := path.Ext(rel)
	base := strings.TrimSuffix(rel, ext)
	return fmt.Sprintf("%s (conflict from %s)%s", base, strings.ToUpper(string(loser)), ext)
}

// Plan reconciles two indexes into an ordered action list.
//
// Keys present on one side only become creates toward the other side.
// Keys present on both sides are compared: quick mode drops metadata-
// equal pairs, everything else resolves through the conflict policy.
// When mirrorDelete is set, one-sided keys are additionally queued as
// deletes on the side that has them, strictly after the comparison
// pass, so a genuinely two-sided file can never be swept.
func Plan(left, right backend.Index, mode Mode, policy ConflictPolicy, mirrorDelete bool) ([]Action, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConflictPolicy, policy)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown equality mode: %q", mode)
	}

	keys := make([]string, 0, len(left)+len(right))
	seen := make(map[string]bool, len(left)+len(right))
	for k := range left {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range right {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var actions []Action
	for _, k := range keys {
		l, hasL := left[k]
		r, hasR := right[k]

		switch {
		case hasL && !hasR:
			actions = append(actions, copyAction(l, l.Rel, L2R, "create"))
			continue
		case hasR && !hasL:
			actions = append(actions, copyAction(r, r.Rel, R2L, "create"))
			continue
		}

		if mode == ModeQuick && equalQuick(l, r) {
			continue
		}

		switch policy {
		case ConflictNewer:
			if l.ModTime >= r.ModTime {
				actions = append(actions, copyAction(l, l.Rel, L2R, "newer"))
			} else {
				actions = append(actions, copyAction(r, r.Rel, R2L, "newer"))
			}
		case ConflictLeft:
			actions = append(actions, copyAction(l, l.Rel, L2R, "left wins"))
		case ConflictRight:
			actions = append(actions, copyAction(r, r.Rel, R2L, "right wins"))
		case ConflictSkip:
			actions = append(actions, skipAction("conflict: "+l.Rel))
		case ConflictDuplicate:
			if l.ModTime >= r.ModTime {
				actions = append(actions, copyAction(l, l.Rel, L2R, "duplicate winner"))
				actions = append(actions, copyAction(r, conflictName(l.Rel, SideRight), R2L, "duplicate loser"))
			} else {
				actions = append(actions, copyAction(r, r.Rel, R2L, "duplicate winner"))
				actions = append(actions, copyAction(l, conflictName(r.Rel, SideLeft), L2R, "duplicate loser"))
			}
		}
	}

	if mirrorDelete {
		for _, k := range keys {
			if _, hasL := left[k]; hasL {
				continue
			}
			actions = append(actions, deleteAction(SideRight, right[k].Rel, "mirror delete"))
		}
		for _, k := range keys {
			if _, hasR := right[k]; hasR {
				continue
			}
			actions = append(actions, deleteAction(SideLeft, left[k].Rel, "mirror delete"))
		}
	}

	return actions, nil
}
