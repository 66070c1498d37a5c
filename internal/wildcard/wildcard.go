// Package wildcard implements glob-style matching with '?' and '*'.
package wildcard

import "strings"

// Match reports whether candidate matches pattern. '?' matches exactly one
// character and '*' matches any run of characters, including none. There is
// no escape character.
func Match(candidate, pattern string) bool {
	return match([]rune(candidate), []rune(pattern))
}

func match(s, p []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			rest := p[1:]
			// Collapse runs of '*'.
			for len(rest) > 0 && rest[0] == '*' {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if match(s[i:], rest) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
		}
		s = s[1:]
		p = p[1:]
	}
	return len(s) == 0
}

// HasWildcard reports whether s contains '*' or '?'.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}
