package util

import (
	"regexp"
	"strings"
)

var tokenizer = regexp.MustCompile(`(\d+|\D+)`)

type naturalSortToken struct {
	text  string // lower-cased text, or digits without leading zeros
	isNum bool
}

func tokenize(s string) []naturalSortToken {
	parts := tokenizer.FindAllString(s, -1)
	tokens := make([]naturalSortToken, len(parts))
	for i, p := range parts {
		if p[0] >= '0' && p[0] <= '9' {
			digits := strings.TrimLeft(p, "0")
			if digits == "" {
				digits = "0"
			}
			tokens[i] = naturalSortToken{text: digits, isNum: true}
		} else {
			tokens[i] = naturalSortToken{text: strings.ToLower(p)}
		}
	}
	return tokens
}

// NaturalSortLess reports whether s1 sorts before s2 when digit runs are
// compared by value, so "comics2.json" comes before "comics10.json".
// Digit runs of any length are supported.
func NaturalSortLess(s1, s2 string) bool {
	t1 := tokenize(s1)
	t2 := tokenize(s2)

	for i := 0; i < min(len(t1), len(t2)); i++ {
		a, b := t1[i], t2[i]
		if a.isNum != b.isNum {
			return a.isNum
		}
		if a.isNum && len(a.text) != len(b.text) {
			return len(a.text) < len(b.text)
		}
		if a.text != b.text {
			return a.text < b.text
		}
	}
	if len(t1) != len(t2) {
		return len(t1) < len(t2)
	}
	// Equal under natural rules; fall back to bytes so the order is total.
	return s1 < s2
}
