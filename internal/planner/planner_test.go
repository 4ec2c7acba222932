package planner

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tunesync/tunesync/internal/backend"
)

// rec builds a file record keyed by the case-folded rel path.
func rec(rel string, size, mtime int64) backend.FileRecord {
	return backend.FileRecord{
		Rel:     rel,
		Size:    size,
		ModTime: mtime,
		AbsPath: "/" + rel,
		Key:     backend.FoldKey(rel),
	}
}

// index builds an index from records.
func index(recs ...backend.FileRecord) backend.Index {
	idx := backend.Index{}
	for _, r := range recs {
		idx[r.Key] = r
	}
	return idx
}

func TestPlanCreateMissingSide(t *testing.T) {
	left := index(rec("a.mp3", 100, 1000))
	right := backend.Index{}

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 {
		t.Fatalf("plan = %v", actions)
	}
	a := actions[0]
	if a.Op != OpCopy || a.Direction != L2R || a.Src.Rel != "a.mp3" || a.DstRel != "a.mp3" {
		t.Errorf("action = %+v", a)
	}
}

func TestPlanQuickEqualNoAction(t *testing.T) {
	// Sizes equal, mtimes within the 2s tolerance window.
	left := index(rec("b.mp3", 100, 1000))
	right := index(rec("b.mp3", 100, 1002))

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Errorf("reconciled pair produced actions: %v", actions)
	}
}

func TestPlanIdempotent(t *testing.T) {
	left := index(rec("a.mp3", 1, 10), rec("b/c.mp3", 2, 20))
	right := index(rec("a.mp3", 1, 10), rec("b/c.mp3", 2, 20))

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Errorf("already-reconciled trees produced actions: %v", actions)
	}
}

func TestPlanDeterministic(t *testing.T) {
	left := index(rec("z.mp3", 1, 10), rec("a.mp3", 2, 20), rec("m.mp3", 3, 30))
	right := index(rec("k.mp3", 4, 40))

	first, err := Plan(left, right, ModeQuick, ConflictNewer, true)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		again, err := Plan(left, right, ModeQuick, ConflictNewer, true)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("plan not reproducible:\n%v\n%v", first, again)
		}
	}
	// Sorted key order: a, k, m, z.
	var rels []string
	for _, a := range first {
		if a.Op == OpCopy {
			rels = append(rels, a.Src.Rel)
		}
	}
	want := []string{"a.mp3", "k.mp3", "m.mp3", "z.mp3"}
	if !reflect.DeepEqual(rels, want) {
		t.Errorf("copy order = %v, want %v", rels, want)
	}
}

func TestPlanNewerWins(t *testing.T) {
	left := index(rec("a.mp3", 100, 1000))
	right := index(rec("a.mp3", 200, 5000))

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Direction != R2L {
		t.Errorf("newer right should copy R2L: %v", actions)
	}
}

func TestPlanNewerTieFavorsLeft(t *testing.T) {
	left := index(rec("a.mp3", 100, 1000))
	right := index(rec("a.mp3", 200, 1000))

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Direction != L2R {
		t.Errorf("tie should favor left: %v", actions)
	}
}

func TestPlanForcedSides(t *testing.T) {
	left := index(rec("a.mp3", 100, 1000))
	right := index(rec("a.mp3", 200, 5000))

	actions, _ := Plan(left, right, ModeQuick, ConflictLeft, false)
	if len(actions) != 1 || actions[0].Direction != L2R {
		t.Errorf("left policy: %v", actions)
	}
	actions, _ = Plan(left, right, ModeQuick, ConflictRight, false)
	if len(actions) != 1 || actions[0].Direction != R2L {
		t.Errorf("right policy: %v", actions)
	}
}

func TestPlanSkipPolicy(t *testing.T) {
	left := index(rec("a.mp3", 100, 1000))
	right := index(rec("a.mp3", 200, 5000))

	actions, err := Plan(left, right, ModeQuick, ConflictSkip, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Op != OpSkip {
		t.Errorf("skip policy: %v", actions)
	}
}

func TestPlanDuplicateKeepsBoth(t *testing.T) {
	left := index(rec("Album/song.mp3", 100, 5000))
	right := index(rec("Album/song.mp3", 200, 1000))

	actions, err := Plan(left, right, ModeQuick, ConflictDuplicate, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("plan = %v", actions)
	}
	winner, loser := actions[0], actions[1]
	if winner.Direction != L2R || winner.DstRel != "Album/song.mp3" {
		t.Errorf("winner = %+v", winner)
	}
	if loser.Direction != R2L || loser.DstRel != "Album/song (conflict from RIGHT).mp3" {
		t.Errorf("loser = %+v", loser)
	}
	if winner.DstRel == loser.DstRel {
		t.Error("duplicate policy wrote two actions to one destination")
	}
	if winner.Direction == loser.Direction {
		t.Error("duplicate copies must go opposite ways")
	}
}

func TestPlanDuplicateLoserLeft(t *testing.T) {
	left := index(rec("song.mp3", 100, 1000))
	right := index(rec("song.mp3", 200, 5000))

	actions, err := Plan(left, right, ModeQuick, ConflictDuplicate, false)
	if err != nil {
		t.Fatal(err)
	}
	if actions[1].DstRel != "song (conflict from LEFT).mp3" {
		t.Errorf("loser name = %q", actions[1].DstRel)
	}
}

func TestPlanDuplicateLoserNameFromWinner(t *testing.T) {
	// The two sides share a fold key but differ in casing; the loser's
	// destination name follows the winner's casing.
	left := index(rec("Album/Song.MP3", 100, 5000))
	right := index(rec("album/song.mp3", 200, 1000))

	actions, err := Plan(left, right, ModeQuick, ConflictDuplicate, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 {
		t.Fatalf("plan = %v", actions)
	}
	if actions[1].DstRel != "Album/Song (conflict from RIGHT).MP3" {
		t.Errorf("loser name = %q", actions[1].DstRel)
	}
}

func TestPlanMirrorDeleteAfterComparison(t *testing.T) {
	left := index(rec("keep.mp3", 1, 10))
	right := index(rec("keep.mp3", 1, 10), rec("c.mp3", 2, 20))

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, true)
	if err != nil {
		t.Fatal(err)
	}

	var deletes []Action
	lastCopy := -1
	firstDelete := len(actions)
	for i, a := range actions {
		switch a.Op {
		case OpCopy:
			lastCopy = i
		case OpDelete:
			deletes = append(deletes, a)
			if i < firstDelete {
				firstDelete = i
			}
		}
	}
	if len(deletes) != 1 {
		t.Fatalf("deletes = %v", deletes)
	}
	d := deletes[0]
	if d.TargetSide != SideRight || d.Rel != "c.mp3" {
		t.Errorf("delete = %+v", d)
	}
	if lastCopy > firstDelete {
		t.Error("mirror deletes must come after the comparison pass")
	}
	// A two-sided file is never queued for deletion.
	for _, a := range deletes {
		if a.Rel == "keep.mp3" {
			t.Error("two-sided file swept by mirror pass")
		}
	}
}

func TestPlanMirrorDeleteLeftOnly(t *testing.T) {
	left := index(rec("only-left.mp3", 1, 10))
	right := backend.Index{}

	actions, err := Plan(left, right, ModeQuick, ConflictNewer, true)
	if err != nil {
		t.Fatal(err)
	}
	var del *Action
	for i := range actions {
		if actions[i].Op == OpDelete {
			del = &actions[i]
		}
	}
	if del == nil || del.TargetSide != SideLeft || del.Rel != "only-left.mp3" {
		t.Errorf("plan = %v", actions)
	}
}

func TestPlanUnknownPolicy(t *testing.T) {
	_, err := Plan(backend.Index{}, backend.Index{}, ModeQuick, ConflictPolicy("maybe"), false)
	if !errors.Is(err, ErrUnknownConflictPolicy) {
		t.Errorf("err = %v, want ErrUnknownConflictPolicy", err)
	}
}

func TestPlanUnknownMode(t *testing.T) {
	_, err := Plan(backend.Index{}, backend.Index{}, Mode("fast"), ConflictNewer, false)
	if err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestEqualQuickUnreliableMetadata(t *testing.T) {
	// Unknown size or mtime can never be declared equal from metadata.
	cases := []struct {
		a, b backend.FileRecord
	}{
		{rec("x", -1, 1000), rec("x", 100, 1000)},
		{rec("x", 100, 0), rec("x", 100, 1000)},
		{rec("x", -1, 0), rec("x", -1, 0)},
	}
	for i, tc := range cases {
		if equalQuick(tc.a, tc.b) {
			t.Errorf("case %d: unreliable metadata declared equal", i)
		}
	}
}

func TestEqualQuickSizeMismatch(t *testing.T) {
	if equalQuick(rec("x", 100, 1000), rec("x", 101, 1000)) {
		t.Error("different sizes declared equal")
	}
	if equalQuick(rec("x", 100, 1000), rec("x", 100, 1003)) {
		t.Error("mtime delta beyond tolerance declared equal")
	}
}

func TestConflictName(t *testing.T) {
	if got := conflictName("Album/song.mp3", SideRight); got != "Album/song (conflict from RIGHT).mp3" {
		t.Errorf("conflictName = %q", got)
	}
	if got := conflictName("noext", SideLeft); got != "noext (conflict from LEFT)" {
		t.Errorf("conflictName = %q", got)
	}
}
