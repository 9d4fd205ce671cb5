package backend

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var progressPattern = regexp.MustCompile(
	`^\[download\]\s+(\d+(?:\.\d+)?)% of ~?\s*([0-9.]+[KMGTP]?i?B)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

var finishedPattern = regexp.MustCompile(
	`^\[download\]\s+100% of ~?\s*([0-9.]+[KMGTP]?i?B) in `)

// parseProgressLine maps a backend progress tick to the reporting contract:
// -1 for every value the line does not carry. Finished ticks keep their
// byte counts; only progress, eta and speed are unknown.
func parseProgressLine(line string) (Progress, bool) {
	if match := finishedPattern.FindStringSubmatch(line); match != nil {
		p := Progress{
			Fraction:         -1,
			Bytes:            -1,
			BytesTotal:       -1,
			ETASeconds:       -1,
			SpeedBytesPerSec: -1,
			Finished:         true,
		}
		if total, err := humanize.ParseBytes(match[1]); err == nil {
			p.Bytes = int64(total)
			p.BytesTotal = int64(total)
		}
		return p, true
	}

	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return Progress{}, false
	}

	p := Progress{
		Fraction:         -1,
		Bytes:            -1,
		BytesTotal:       -1,
		ETASeconds:       -1,
		SpeedBytesPerSec: -1,
	}

	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Progress{}, false
	}
	p.Fraction = percent / 100

	if total, err := humanize.ParseBytes(match[2]); err == nil {
		p.BytesTotal = int64(total)
		p.Bytes = int64(math.Round(p.Fraction * float64(total)))
	}

	if speed := match[3]; speed != "" && speed != "Unknown" {
		if parsed, err := humanize.ParseBytes(strings.TrimSuffix(speed, "/s")); err == nil {
			p.SpeedBytesPerSec = int64(parsed)
		}
	}

	if eta := match[4]; eta != "" && eta != "Unknown" {
		if seconds, ok := parseClock(eta); ok {
			p.ETASeconds = seconds
		}
	}
	return p, true
}

// parseClock parses "SS", "MM:SS" or "HH:MM:SS".
func parseClock(raw string) (int64, bool) {
	parts := strings.Split(raw, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, false
	}
	var total int64
	for _, part := range parts {
		value, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + value
	}
	return total, true
}
