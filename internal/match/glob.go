// Package match expands category terms into concrete document refs.
//
// Glob semantics follow the shell: "*" and "?" never cross a "/", a path
// segment that is exactly "**" spans any number of segments (including
// none), character classes and backslash escapes behave like path.Match.
package match

import (
	"fmt"
	"path"
	"strings"
)

// Match reports whether name matches the glob pattern. Both use "/" as the
// separator. A malformed pattern never matches.
func Match(pattern, name string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(name))
}

// ValidatePattern returns an error when pattern is not a well-formed glob.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	for _, seg := range splitSegments(pattern) {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("malformed glob segment %q: %w", seg, err)
		}
	}
	return nil
}

// HasMeta reports whether pattern contains unescaped glob syntax.
func HasMeta(pattern string) bool {
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*' || r == '?' || r == '[':
			return true
		}
	}
	return false
}

func splitSegments(s string) []string {
	s = strings.Trim(s, "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			for len(pat) > 0 && pat[0] == "**" {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(pat, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], name[0])
		if err != nil || !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}
