package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/zstd"
)

// Entry format versions. Plain entries carry JSON inline, compressed entries
// carry a zstd frame.
const (
	FormatPlain      = "1.0.0"
	FormatCompressed = "2.0.0"

	supportedFormats = ">= 1.0.0, < 3.0.0"
)

// ErrUnsupportedFormat is returned for entries written by an incompatible version.
var ErrUnsupportedFormat = errors.New("unsupported cache entry format")

//nolint:gochecknoglobals // Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder, _       = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _       = zstd.NewReader(nil)
	formatConstraint = mustConstraint(supportedFormats)
)

// CacheEntry represents a single cached value with TTL metadata.
//
//nolint:revive // CacheEntry is the canonical name for this exported type.
type CacheEntry struct {
	// Key is the cache key.
	Key string `json:"key"`

	// Format is the semver of the entry layout.
	Format string `json:"format"`

	// Data is the cached value for plain entries.
	Data json.RawMessage `json:"data,omitempty"`

	// Compressed is the zstd-compressed value for compressed entries.
	Compressed []byte `json:"compressed,omitempty"`

	// CreatedAt is the timestamp when the entry was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the timestamp when the entry expires.
	ExpiresAt time.Time `json:"expires_at"`

	// TTLSeconds is the time-to-live in seconds (for reference).
	TTLSeconds int `json:"ttl_seconds"`
}

// NewCacheEntry creates a plain cache entry with the given TTL.
func NewCacheEntry(key string, data json.RawMessage, ttlSeconds int) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Key:        key,
		Format:     FormatPlain,
		Data:       data,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(ttlSeconds) * time.Second),
		TTLSeconds: ttlSeconds,
	}
}

// NewCompressedEntry creates an entry whose payload is stored compressed.
func NewCompressedEntry(key string, data json.RawMessage, ttlSeconds int) *CacheEntry {
	entry := NewCacheEntry(key, nil, ttlSeconds)
	entry.Format = FormatCompressed
	entry.Compressed = encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	return entry
}

// IsCompressed reports whether the payload is stored compressed.
func (e *CacheEntry) IsCompressed() bool {
	return len(e.Compressed) > 0
}

// Payload returns the cached JSON value, decompressing it when needed.
func (e *CacheEntry) Payload() (json.RawMessage, error) {
	if err := checkFormat(e.Format); err != nil {
		return nil, err
	}
	if !e.IsCompressed() {
		return e.Data, nil
	}

	out, err := decoder.DecodeAll(e.Compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing cache entry %q: %w", e.Key, err)
	}
	return out, nil
}

// IsExpired checks if the cache entry has expired based on current time.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// IsValid checks if the cache entry is valid (not expired).
func (e *CacheEntry) IsValid() bool {
	return !e.IsExpired()
}

// Age returns the duration since the entry was created.
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.CreatedAt)
}

// TimeUntilExpiration returns the duration until the entry expires.
// Returns 0 if already expired.
func (e *CacheEntry) TimeUntilExpiration() time.Duration {
	remaining := time.Until(e.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Touch extends the entry's expiration by the original TTL.
func (e *CacheEntry) Touch() {
	e.ExpiresAt = time.Now().Add(time.Duration(e.TTLSeconds) * time.Second)
}

// MarshalJSON implements json.Marshaler for CacheEntry.
// Times are formatted as RFC3339 for readability in JSON files.
func (e *CacheEntry) MarshalJSON() ([]byte, error) {
	type Alias CacheEntry
	return json.Marshal(&struct {
		*Alias

		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{
		Alias:     (*Alias)(e),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		ExpiresAt: e.ExpiresAt.Format(time.RFC3339),
	})
}

// UnmarshalJSON implements json.Unmarshaler for CacheEntry.
// Entries without a format field predate versioning and are treated as plain.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	if e == nil {
		return errors.New("cannot unmarshal into nil CacheEntry")
	}
	type Alias CacheEntry
	aux := &struct {
		*Alias

		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	e.CreatedAt, err = time.Parse(time.RFC3339, aux.CreatedAt)
	if err != nil {
		return err
	}

	e.ExpiresAt, err = time.Parse(time.RFC3339, aux.ExpiresAt)
	if err != nil {
		return err
	}

	if e.Format == "" {
		e.Format = FormatPlain
	}
	return nil
}

func checkFormat(format string) error {
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if !formatConstraint.Check(v) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return nil
}

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}
