package query

import "strings"

// HasWildcard reports whether s contains a wildcard metacharacter.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// Matcher matches Everything-style wildcard patterns against strings.
// `*` matches any run of characters, `?` matches exactly one character.
// Matching is unanchored: the pattern may match anywhere inside the
// subject, mirroring substring containment for literal terms.
type Matcher struct {
	pattern []rune
}

// NewMatcher compiles a wildcard pattern. The caller is expected to pass
// the pattern already lowercased; Match does no case folding.
func NewMatcher(pattern string) *Matcher {
	runes := []rune(pattern)
	// Bracketing with * turns the anchored scan below into a substring
	// search. Adjacent stars are harmless.
	wrapped := make([]rune, 0, len(runes)+2)
	wrapped = append(wrapped, '*')
	wrapped = append(wrapped, runes...)
	wrapped = append(wrapped, '*')
	return &Matcher{pattern: wrapped}
}

// Match reports whether the pattern matches anywhere in s.
func (m *Matcher) Match(s string) bool {
	return wildcardMatch([]rune(s), m.pattern)
}

// wildcardMatch is the classic two-pointer wildcard scan: on a mismatch
// after a star, the star re-expands by one character and the tail of the
// pattern retries from there.
func wildcardMatch(s, p []rune) bool {
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == s[si]):
			si++
			pi++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
