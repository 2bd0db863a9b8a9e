// Package version compares dotted version strings the way plugin headers
// and release tags are written ("1.2.0", "v2.10", "1.0.0-beta.1").
package version

import (
	"strconv"
	"strings"
	"unicode"
)

// segment is one comparable piece of a version: numeric segments compare
// by value, pre-release words by their rank.
type segment struct {
	numeric bool
	value   int
	word    string
}

// preReleaseRank orders the special words that may appear in a version.
// Unknown words rank below "dev". A bare number ranks above all words.
var preReleaseRank = map[string]int{
	"dev":   1,
	"alpha": 2,
	"a":     2,
	"beta":  3,
	"b":     3,
	"rc":    4,
	"pl":    6,
	"p":     6,
}

const numericRank = 5

// Compare returns -1 if a < b, 0 if they are equal and 1 if a > b.
// Numeric segments are compared by value so "2" < "10". A missing
// trailing segment compares as lower than a present one, so "1.0" < "1.0.0"
// and "1.0" > "1.0-rc1".
func Compare(a, b string) int {
	as := split(a)
	bs := split(b)

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(as):
			return -compareMissing(bs[i])
		case i >= len(bs):
			return compareMissing(as[i])
		}

		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}

	return 0
}

// Less reports whether a is strictly older than b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Valid reports whether s contains at least one numeric segment.
func Valid(s string) bool {
	for _, seg := range split(s) {
		if seg.numeric {
			return true
		}
	}
	return false
}

// compareMissing compares a present segment against an absent one.
func compareMissing(present segment) int {
	if present.numeric {
		return 1
	}
	if rank(present) >= numericRank {
		return 1
	}
	return -1
}

func compareSegment(a, b segment) int {
	if a.numeric && b.numeric {
		return cmpInt(a.value, b.value)
	}
	return cmpInt(rank(a), rank(b))
}

func rank(s segment) int {
	if s.numeric {
		return numericRank
	}
	if r, ok := preReleaseRank[s.word]; ok {
		return r
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// split normalizes a version string into segments. A leading "v" is
// dropped, "-", "_" and "+" act as separators, and a boundary between a
// digit and a letter also starts a new segment ("1.0rc1" -> 1 0 rc 1).
func split(s string) []segment {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "v")

	var (
		parts   []segment
		current strings.Builder
		digits  bool
	)

	flush := func() {
		if current.Len() == 0 {
			return
		}
		text := current.String()
		current.Reset()
		if digits {
			n, err := strconv.Atoi(text)
			if err != nil {
				// Too large to fit; clamp rather than treat as a word.
				n = int(^uint(0) >> 1)
			}
			parts = append(parts, segment{numeric: true, value: n})
			return
		}
		parts = append(parts, segment{word: text})
	}

	for _, r := range s {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '+':
			flush()
		case unicode.IsDigit(r):
			if current.Len() > 0 && !digits {
				flush()
			}
			digits = true
			current.WriteRune(r)
		default:
			if current.Len() > 0 && digits {
				flush()
			}
			digits = false
			current.WriteRune(r)
		}
	}
	flush()

	return parts
}
