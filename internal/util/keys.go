package util

import "strings"

// Join builds a namespaced key "prefix:part1:part2". Empty parts are skipped
// and a trailing ':' on prefix is not doubled.
func Join(prefix string, parts ...string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 8*len(parts))
	b.WriteString(strings.TrimSuffix(prefix, ":"))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}
