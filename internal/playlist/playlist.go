// Package playlist rewrites M3U-style playlists for a destination tree
// that keeps playlists and their audio files side by side.
package playlist

import (
	"path"
	"strings"
)

// Rewrite transforms playlist text for a flat destination layout: blank
// lines and #-comments pass through unchanged, every other line is
// reduced to the bare filename of the entry with separators normalized
// to forward slash. Directory structure in entries is deliberately
// discarded; the destination co-locates playlist and tracks.
func Rewrite(content string) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		// CRLF playlists are common on Windows-authored trees.
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(trimmed, "#") {
			out = append(out, line)
			continue
		}
		p := strings.ReplaceAll(trimmed, "\\", "/")
		out = append(out, path.Base(p))
	}
	return strings.Join(out, "\n") + "\n"
}
