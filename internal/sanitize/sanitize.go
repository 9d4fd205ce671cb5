package sanitize

import (
	"fmt"
	"strings"
	"unicode"
)

// Filesystem names are typically limited to 255 bytes; leave headroom for
// extensions and the ".part" suffix of the staging directory.
const DefaultMaxTitleBytes = 200

const ellipsis = "…"

// Filename replaces characters that are illegal or troublesome in file names
// across common filesystems. The result is never empty for non-empty input.
func Filename(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case r == ':':
			b.WriteString(" -")
		case strings.ContainsRune("\"*<>|?", r):
			b.WriteRune('_')
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, " .")
	if out == "" && raw != "" {
		return "_"
	}
	return out
}

// Shorten produces the longest prefix of name that, after trailing-space
// trimming, ellipsis marking and sanitizing, encodes to strictly fewer than
// maxBytes bytes of UTF-8. It fails only when not even the empty prefix fits,
// meaning the budget cannot hold the ellipsis and sanitizing overhead.
func Shorten(name string, maxBytes int) (string, error) {
	runes := []rune(name)
	for i := len(runes); i >= 0; i-- {
		candidate := strings.TrimRight(string(runes[:i]), " \t")
		if i < len(runes) {
			candidate += ellipsis
		}
		candidate = Filename(candidate)
		if len(candidate) < maxBytes {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot shorten %q to fewer than %d bytes", name, maxBytes)
}
