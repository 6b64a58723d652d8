package bot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// failedThreshold is the consecutive-failure count at which a feed shows up
// in /failed.
const failedThreshold = 3

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// siteName derives a display name from a feed URL's host.
func siteName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// ParseIndexArg extracts a single 1-based list index from a command argument.
func ParseIndexArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("index is required")
	}
	idx, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || idx < 1 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return idx, nil
}

// ParseIndexArgs parses a list of 1-based indexes, deduplicated and bounded
// by max. Unparseable or out-of-range arguments come back in bad.
func ParseIndexArgs(args string, max int) (indexes []int, bad []string) {
	seen := make(map[int]bool)
	for _, arg := range strings.Fields(args) {
		idx, err := strconv.Atoi(arg)
		if err != nil || idx < 1 || idx > max {
			bad = append(bad, arg)
			continue
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		indexes = append(indexes, idx)
	}
	return indexes, bad
}

// ParseBindArgs extracts the feed and target list indexes for /bind and
// /unbind.
func ParseBindArgs(args string) (subIdx, targetIdx int, err error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected two indexes")
	}
	subIdx, err = strconv.Atoi(parts[0])
	if err != nil || subIdx < 1 {
		return 0, 0, fmt.Errorf("invalid feed index %q", parts[0])
	}
	targetIdx, err = strconv.Atoi(parts[1])
	if err != nil || targetIdx < 1 {
		return 0, 0, fmt.Errorf("invalid target index %q", parts[1])
	}
	return subIdx, targetIdx, nil
}
