// Package pathplan decides where a job's files land on disk.
//
// It covers three concerns:
//   - Sanitize: turn arbitrary titles into filesystem-safe folder/file names
//   - UniqueName: pick a collision-free folder name under a parent directory
//   - Planner: choose flat, date-bucketed or batch-folder placement per job
package pathplan

import (
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds sanitized names, counted in runes.
const MaxNameLength = 100

// hostileChars are replaced with ReplacementChar.
const hostileChars = `<>:"/\|?*`

// ReplacementChar substitutes every hostile character.
const ReplacementChar = '_'

// Sanitize returns a filesystem-safe version of name.
//
// Hostile characters and control characters are replaced with an
// underscore, leading and trailing dots and spaces are stripped, and the
// result is truncated to MaxNameLength runes. The result may be empty.
func Sanitize(name string) string {
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, string(ReplacementChar))
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(hostileChars, r) {
			b.WriteRune(ReplacementChar)
			continue
		}
		b.WriteRune(r)
	}

	out := trimEdges(b.String())
	if utf8.RuneCountInString(out) > MaxNameLength {
		runes := []rune(out)
		out = trimEdges(string(runes[:MaxNameLength]))
	}
	return out
}

func trimEdges(s string) string {
	return strings.Trim(s, ". ")
}
