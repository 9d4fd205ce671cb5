package subtitles

import "regexp"

// The transcoder (observed with FFmpeg 4.4) strips all leading spaces from
// the first text line after a WebVTT timestamp. A cue whose first line held
// only spaces is left with a spurious empty line between the timestamp and
// the remaining text, which breaks the cue.
var brokenCuePattern = regexp.MustCompile(
	`\n\n([0-9.:]+ --> [0-9.:]+\n)` + // timestamp after an empty line
		`\n` + // broken empty line
		`(?: +\n)* *`) // leftover whitespace-only lines

// RepairWebVTT collapses the spurious blank and whitespace-only lines that
// follow a timestamp. Applying it to already repaired content is a no-op.
func RepairWebVTT(content string) string {
	return brokenCuePattern.ReplaceAllString(content, "\n\n$1")
}
