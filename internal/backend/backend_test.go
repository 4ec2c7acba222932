package backend

import (
	"testing"
)

func TestFoldKeyAndNFC(t *testing.T) {
	if got := FoldKey("Artist/Song.MP3"); got != "artist/song.mp3" {
		t.Errorf("FoldKey = %q", got)
	}
	// Decomposed "e" + combining acute must compose to a single rune.
	decomposed := "Cafe\u0301"
	if got := NFC(decomposed); got != "Caf\u00e9" {
		t.Errorf("NFC(%q) = %q", decomposed, got)
	}
}

func TestMetadataUnreliable(t *testing.T) {
	cases := []struct {
		name string
		rec  FileRecord
		want bool
	}{
		{"known", FileRecord{Size: 10, ModTime: 1000}, false},
		{"unknown size", FileRecord{Size: -1, ModTime: 1000}, true},
		{"unknown mtime", FileRecord{Size: 10, ModTime: 0}, true},
		{"both unknown", FileRecord{Size: -1, ModTime: 0}, true},
	}
	for _, tc := range cases {
		if got := tc.rec.MetadataUnreliable(); got != tc.want {
			t.Errorf("%s: MetadataUnreliable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIndexInsertCollision(t *testing.T) {
	idx := Index{}
	first := FileRecord{Rel: "Song.mp3", Key: "song.mp3", Size: 1}
	second := FileRecord{Rel: "song.MP3", Key: "song.mp3", Size: 2}

	var gotKept, gotDropped FileRecord
	warn := func(kept, dropped FileRecord) {
		gotKept, gotDropped = kept, dropped
	}

	idx.Insert(first, warn)
	idx.Insert(second, warn)

	if len(idx) != 1 {
		t.Fatalf("index has %d entries, want 1", len(idx))
	}
	if idx["song.mp3"].Rel != "Song.mp3" {
		t.Errorf("first record should win, got %q", idx["song.mp3"].Rel)
	}
	if gotKept.Rel != "Song.mp3" || gotDropped.Rel != "song.MP3" {
		t.Errorf("collision warning got kept=%q dropped=%q", gotKept.Rel, gotDropped.Rel)
	}

	// Nil warn must not panic.
	idx.Insert(second, nil)
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		scheme   string
		deviceID string
		root     string
	}{
		{"adb://device:R58M1234/storage/emulated/0/Music", "adb", "R58M1234", "/storage/emulated/0/Music"},
		{"adb://storage/emulated/0/Music", "adb", "", "/storage/emulated/0/Music"},
		{"adb://device:X/", "adb", "X", "/"},
	}
	for _, tc := range cases {
		ep, err := ParseEndpoint(tc.in)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q): %v", tc.in, err)
		}
		if ep.Scheme != tc.scheme || ep.DeviceID != tc.deviceID || ep.Root != tc.root {
			t.Errorf("ParseEndpoint(%q) = %+v", tc.in, ep)
		}
		if !ep.IsRemote() {
			t.Errorf("ParseEndpoint(%q) should be remote", tc.in)
		}
	}
}

func TestParseEndpointLocal(t *testing.T) {
	ep, err := ParseEndpoint("some/dir")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Scheme != SchemeLocal {
		t.Errorf("scheme = %q", ep.Scheme)
	}
	if ep.IsRemote() {
		t.Error("local endpoint reported remote")
	}
	if ep.Root == "some/dir" {
		t.Error("root was not made absolute")
	}
}

func TestParseEndpointErrors(t *testing.T) {
	if _, err := ParseEndpoint(""); err == nil {
		t.Error("empty descriptor should fail")
	}
	if _, err := ParseEndpoint("adb://device:/Music"); err == nil {
		t.Error("empty device id should fail")
	}
}

func TestConnectUnknownScheme(t *testing.T) {
	ep := Endpoint{Scheme: "ftp", Root: "/x"}
	if _, err := ep.Connect(); err == nil {
		t.Error("unknown scheme should fail to connect")
	}
}

func TestFilterWantFile(t *testing.T) {
	filter, err := NewFilter(FilterOptions{
		Excludes:   append([]string{}, DefaultExcludes...),
		SkipHidden: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		rel  string
		want bool
	}{
		{"Artist/Song.mp3", true},
		{"Artist/Song.FLAC", true},
		{"Artist/cover.jpg", false},
		{"Artist/playlist.m3u8", true}, // playlists always included
		{"Artist/.hidden.mp3", false},
		{"Artist/._Song.mp3", false}, // default exclude
		{".DS_Store", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := filter.WantFile(tc.rel); got != tc.want {
			t.Errorf("WantFile(%q) = %v, want %v", tc.rel, got, tc.want)
		}
	}
}

func TestFilterIncludeAll(t *testing.T) {
	filter, err := NewFilter(FilterOptions{IncludeAll: true})
	if err != nil {
		t.Fatal(err)
	}
	if !filter.WantFile("notes.txt") {
		t.Error("include-all should accept any extension")
	}
}

func TestFilterExcludeCrossesSeparators(t *testing.T) {
	// fnmatch-style: '*' spans path separators, so a bare pattern can
	// match nested paths as well as bare names.
	filter, err := NewFilter(FilterOptions{
		Excludes:   []string{"Backup*"},
		IncludeAll: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if filter.WantFile("Backup/old/track.mp3") {
		t.Error("pattern should match the relative path across separators")
	}
	if filter.WantFile("Artist/keep.mp3") == false {
		t.Error("unrelated path excluded")
	}
}

func TestFilterBadPattern(t *testing.T) {
	if _, err := NewFilter(FilterOptions{Excludes: []string{"[unterminated"}}); err == nil {
		t.Error("bad pattern should fail to compile")
	}
}

func TestFilterIsPlaylist(t *testing.T) {
	filter, err := NewFilter(FilterOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !filter.IsPlaylist("dir/List.M3U") {
		t.Error("case-insensitive playlist extension not recognized")
	}
	if filter.IsPlaylist("dir/song.mp3") {
		t.Error("mp3 is not a playlist")
	}
}
