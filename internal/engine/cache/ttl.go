package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultTTLSeconds is the default entry lifetime (1 hour).
	DefaultTTLSeconds = 3600

	// MinTTLSeconds is the minimum accepted TTL (1 minute).
	MinTTLSeconds = 60

	// MaxTTLSeconds is the maximum accepted TTL (7 days). Saved cards use it.
	MaxTTLSeconds = 604800

	// DefaultCacheMaxSizeMB is the default quota.
	DefaultCacheMaxSizeMB = 100

	// DefaultCompressThreshold is the payload size above which entries are compressed.
	DefaultCompressThreshold = 100 * 1024

	minutesPerHour = 60
	hoursPerDay    = 24

	EnvTTLSeconds   = "ADTOPIA_CACHE_TTL_SECONDS"
	EnvCacheEnabled = "ADTOPIA_CACHE_ENABLED"
	EnvCacheDir     = "ADTOPIA_CACHE_DIR"
	EnvCacheMaxSize = "ADTOPIA_CACHE_MAX_SIZE_MB"
)

// ErrInvalidTTL is returned for a TTL outside [MinTTLSeconds, MaxTTLSeconds].
var ErrInvalidTTL = fmt.Errorf("TTL must be between %d and %d seconds", MinTTLSeconds, MaxTTLSeconds)

// ValidateTTL checks seconds against the accepted range.
func ValidateTTL(seconds int) error {
	if seconds < MinTTLSeconds || seconds > MaxTTLSeconds {
		return fmt.Errorf("%w: got %d", ErrInvalidTTL, seconds)
	}
	return nil
}

// GetTTLFromEnv returns ADTOPIA_CACHE_TTL_SECONDS, or the default when it is
// unset, malformed or out of range. The value may be seconds or a duration.
func GetTTLFromEnv() int {
	ttl, err := ParseTTL(os.Getenv(EnvTTLSeconds))
	if err != nil {
		return DefaultTTLSeconds
	}
	return ttl
}

// GetCacheEnabledFromEnv returns ADTOPIA_CACHE_ENABLED, defaulting to true.
func GetCacheEnabledFromEnv() bool {
	enabled, err := strconv.ParseBool(os.Getenv(EnvCacheEnabled))
	if err != nil {
		return true
	}
	return enabled
}

// GetCacheDirFromEnv returns ADTOPIA_CACHE_DIR or "".
func GetCacheDirFromEnv() string {
	return os.Getenv(EnvCacheDir)
}

// GetCacheMaxSizeFromEnv returns ADTOPIA_CACHE_MAX_SIZE_MB. Zero means unlimited.
func GetCacheMaxSizeFromEnv() int {
	size, ok := envInt(EnvCacheMaxSize)
	if !ok || size < 0 {
		return DefaultCacheMaxSizeMB
	}
	return size
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatDuration renders d compactly, e.g. "45s", "30m", "1h30m", "2d3h".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < hoursPerDay*time.Hour:
		hours := int(d.Hours())
		if minutes := int(d.Minutes()) % minutesPerHour; minutes != 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}

	days := int(d.Hours()) / hoursPerDay
	if hours := int(d.Hours()) % hoursPerDay; hours != 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseTTL accepts integer seconds ("3600") or a Go duration ("1h30m").
func ParseTTL(s string) (int, error) {
	seconds, err := strconv.Atoi(s)
	if err != nil {
		d, durErr := time.ParseDuration(s)
		if durErr != nil {
			return 0, fmt.Errorf("invalid TTL format: %w", durErr)
		}
		seconds = int(d.Seconds())
	}

	if err := ValidateTTL(seconds); err != nil {
		return 0, err
	}
	return seconds, nil
}
