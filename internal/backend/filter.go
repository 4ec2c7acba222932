package backend

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultMusicExts is the extension allowlist applied when neither an
// explicit set nor include-all mode is given.
var DefaultMusicExts = map[string]bool{
	".mp3": true, ".flac": true, ".wav": true, ".aac": true,
	".m4a": true, ".ogg": true, ".wma": true, ".alac": true,
	".aiff": true,
}

// DefaultExcludes are junk entries skipped on every listing.
var DefaultExcludes = []string{
	".DS_Store", "Thumbs.db", ".Spotlight-V100", ".Trashes", "._*",
}

// DefaultPlaylistExts are the extensions treated as playlists. Playlist
// files are always indexed, even when the extension allowlist would not
// include them, so a music-only sync still carries its playlists along.
var DefaultPlaylistExts = map[string]bool{".m3u8": true, ".m3u": true}

// FilterOptions configures tree listing.
type FilterOptions struct {
	// Extensions is the allowlist of lowercase extensions (with dot).
	// Nil means DefaultMusicExts. Ignored when IncludeAll is set.
	Extensions map[string]bool

	// Excludes are glob patterns matched against both the relative
	// path and the bare filename.
	Excludes []string

	// IncludeAll disables the extension allowlist entirely.
	IncludeAll bool

	// SkipHidden suppresses entries whose name starts with a dot.
	SkipHidden bool

	// PlaylistExts overrides DefaultPlaylistExts when non-nil.
	PlaylistExts map[string]bool
}

// Filter is a compiled FilterOptions, ready to test candidate paths.
type Filter struct {
	excludes     []glob.Glob
	exts         map[string]bool
	playlistExts map[string]bool
	includeAll   bool
	skipHidden   bool
}

// NewFilter compiles opts into a Filter. Exclude patterns use fnmatch
// semantics: '*' matches any run of characters including separators,
// matching how patterns like "._*" or "Backup*" are written.
func NewFilter(opts FilterOptions) (*Filter, error) {
	f := &Filter{
		exts:         opts.Extensions,
		playlistExts: opts.PlaylistExts,
		includeAll:   opts.IncludeAll,
		skipHidden:   opts.SkipHidden,
	}
	if f.exts == nil {
		f.exts = DefaultMusicExts
	}
	if f.playlistExts == nil {
		f.playlistExts = DefaultPlaylistExts
	}
	for _, pat := range opts.Excludes {
		g, err := glob.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("bad exclude pattern %q: %w", pat, err)
		}
		f.excludes = append(f.excludes, g)
	}
	return f, nil
}

// SkipHidden reports whether hidden-entry suppression is active.
// Local listings use this to prune dot-directories during the walk.
func (f *Filter) SkipHidden() bool {
	return f.skipHidden
}

// Excluded reports whether rel matches an exclude pattern, testing both
// the full relative path and the bare filename.
func (f *Filter) Excluded(rel string) bool {
	name := path.Base(rel)
	for _, g := range f.excludes {
		if g.Match(rel) || g.Match(name) {
			return true
		}
	}
	return false
}

// IsPlaylist reports whether rel has a playlist extension.
func (f *Filter) IsPlaylist(rel string) bool {
	return f.playlistExts[strings.ToLower(path.Ext(rel))]
}

// WantFile decides whether a regular file at rel belongs in the index.
// rel must already be forward-slash separated.
func (f *Filter) WantFile(rel string) bool {
	if rel == "" {
		return false
	}
	name := path.Base(rel)
	if f.skipHidden && strings.HasPrefix(name, ".") {
		return false
	}
	if f.Excluded(rel) {
		return false
	}
	if f.includeAll {
		return true
	}
	ext := strings.ToLower(path.Ext(name))
	return f.exts[ext] || f.playlistExts[ext]
}
