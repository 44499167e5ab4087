package analysis

import (
	"regexp"
	"strconv"
)

// DefaultScore is used when the summary carries no percentage.
const DefaultScore = 50

var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// ExtractScore returns the first percentage in summary, truncated to an integer
// and clamped to 0..100.
func ExtractScore(summary string) int {
	m := percentPattern.FindStringSubmatch(summary)
	if m == nil {
		return DefaultScore
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultScore
	}
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}
