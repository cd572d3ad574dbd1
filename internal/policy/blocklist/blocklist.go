// Package blocklist refuses outbound fetches to configured hosts.
package blocklist

import (
	"net/url"
	"slices"
	"strings"
)

// List matches hosts exactly or, for patterns written "*.example.com" or
// ".example.com", by domain suffix.
type List struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a List from patterns. It returns nil when no usable pattern is
// given; a nil List blocks nothing.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			l.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			l.addSuffix(strings.TrimPrefix(value, "."))
		default:
			l.exact[value] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *List) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(l.suffixes, suffix) {
		return
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Blocked reports whether rawURL points at a listed host. URLs that do not
// parse are not blocked here; the fetcher rejects them.
func (l *List) Blocked(rawURL string) bool {
	if l == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return l.BlockedHost(u.Hostname())
}

// BlockedHost reports whether host is listed.
func (l *List) BlockedHost(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
