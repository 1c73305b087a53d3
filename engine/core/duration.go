package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// DefaultCacheTTL is applied when a cache TTL string is absent or malformed.
const DefaultCacheTTL = 5 * time.Minute

// ParseHumanDuration parses duration strings like "30s", "5m", "2h" or "1d".
// A bare integer is read as minutes.
func ParseHumanDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := str2duration.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// ParseTTL parses cache TTL strings, falling back to DefaultCacheTTL when
// the value is empty or malformed.
func ParseTTL(s string) time.Duration {
	d, err := ParseHumanDuration(s)
	if err != nil {
		return DefaultCacheTTL
	}
	return d
}
