package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Tool output shapes, e.g.:
//   [download]  42.3% of 10.24MiB at 1.05MiB/s ETA 00:05
//   [download] Destination: clips/My Video.mp4
//   [Merger] Merging formats into "clips/My Video.mkv"
var (
	progressRe    = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)
	destinationRe = regexp.MustCompile(`\[download\] Destination:\s+(.+)$`)
	mergeRe       = regexp.MustCompile(`Merging formats into "(.+)"`)
	alreadyRe     = regexp.MustCompile(`\[download\]\s+(.+) has already been downloaded`)
)

// ParseProgress extracts a download percentage from one output line.
func ParseProgress(line string) (float64, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// ParseDestination extracts the output file path from one output line.
// Merge lines win over plain destination lines since they come later.
func ParseDestination(line string) (string, bool) {
	if m := mergeRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := destinationRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := alreadyRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}
