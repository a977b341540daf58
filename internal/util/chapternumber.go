package util

import (
	"regexp"
	"strconv"
)

var chapterNumberPattern = regexp.MustCompile(`(?i)chapter\s*(\d+(?:\.\d+)?)`)

// ExtractChapterNumber returns the number of the first "chapter <n>" match
// in each candidate, trying candidates in order. Decimals such as
// "Chapter 10.5" are kept. It returns 0 when nothing matches.
func ExtractChapterNumber(candidates ...string) float64 {
	for _, s := range candidates {
		m := chapterNumberPattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if n, err := strconv.ParseFloat(m[1], 64); err == nil {
			return n
		}
	}
	return 0
}
