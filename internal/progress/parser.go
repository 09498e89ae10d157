// Package progress extracts completion and transfer-rate signals from
// yt-dlp output lines. Most lines match nothing; that is the normal case.
package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress reports come from yt-dlp's downloader, prefixed "[download]".
// Percentages elsewhere in the log (playlist counters, merge output) are
// not completion signals.
const downloadPrefix = "[download]"

var (
	rePercent = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)(K|M|G)iB/s`)
)

// Binary unit multipliers for transfer rates.
var multipliers = map[string]float64{
	"K": 1024,
	"M": 1024 * 1024,
	"G": 1024 * 1024 * 1024,
}

// Event is one parsed progress signal. Either field may be absent; at
// least one is set when Parse reports a match.
type Event struct {
	Percent     *float64
	BytesPerSec *float64
}

// Parse extracts a progress event from one output line. It never fails;
// lines carrying neither a percentage nor a rate report ok=false and are
// dropped by the caller.
func Parse(line string) (Event, bool) {
	var ev Event

	if !strings.Contains(line, downloadPrefix) {
		return ev, false
	}

	if m := rePercent.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil && pct >= 0 && pct <= 100 {
			ev.Percent = &pct
		}
	}

	if m := reSpeed.FindStringSubmatch(line); m != nil {
		if value, err := strconv.ParseFloat(m[1], 64); err == nil {
			bps := value * multipliers[m[2]]
			ev.BytesPerSec = &bps
		}
	}

	return ev, ev.Percent != nil || ev.BytesPerSec != nil
}
