package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
)

const cacheFileExtension = ".json"

// Common cache errors.
var (
	ErrCacheNotFound   = errors.New("cache entry not found")
	ErrCacheExpired    = errors.New("cache entry expired")
	ErrInvalidCacheKey = errors.New("cache key cannot be empty")
	ErrCacheDisabled   = errors.New("cache is disabled")
	ErrQuotaExceeded   = errors.New("cache quota exceeded")
)

// FileStore keeps one JSON file per key under a directory.
// Safe for concurrent use within a process.
type FileStore struct {
	directory  string
	enabled    bool
	ttlSeconds int

	// maxBytes bounds the total size of cache files (0 = unlimited).
	maxBytes int64

	// compressAbove is the payload size that triggers compression (0 = never).
	compressAbove int

	mu sync.RWMutex
}

// StoreStats summarizes the files in a FileStore.
type StoreStats struct {
	Entries    int   `json:"entries"`
	Expired    int   `json:"expired"`
	Compressed int   `json:"compressed"`
	Bytes      int64 `json:"bytes"`
	MaxBytes   int64 `json:"max_bytes"`
}

// NewFileStore creates a store rooted at directory, creating it if needed.
// A disabled store returns ErrCacheDisabled from every operation.
func NewFileStore(directory string, enabled bool, ttlSeconds, maxSizeMB int) (*FileStore, error) {
	if !enabled {
		return &FileStore{enabled: false}, nil
	}

	if directory == "" {
		return nil, errors.New("cache directory cannot be empty")
	}

	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{
		directory:     directory,
		enabled:       true,
		ttlSeconds:    ttlSeconds,
		maxBytes:      int64(maxSizeMB) << 20,
		compressAbove: DefaultCompressThreshold,
	}, nil
}

// WithQuota overrides the size limit in bytes.
func (s *FileStore) WithQuota(maxBytes int64) *FileStore {
	s.maxBytes = maxBytes
	return s
}

// WithCompressThreshold sets the payload size above which entries are compressed.
// Zero disables compression.
func (s *FileStore) WithCompressThreshold(bytes int) *FileStore {
	s.compressAbove = bytes
	return s
}

// Get retrieves a cache entry by key.
// Returns ErrCacheNotFound if the entry doesn't exist and ErrCacheExpired if
// it has expired; expired files are removed in the background.
func (s *FileStore) Get(key string) (*CacheEntry, error) {
	if !s.enabled {
		return nil, ErrCacheDisabled
	}
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.keyToFilePath(key)
	entry, err := readEntry(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheNotFound
		}
		return nil, err
	}

	if entry.IsExpired() {
		go func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			_ = os.Remove(filePath)
		}()
		return nil, ErrCacheExpired
	}

	return entry, nil
}

// GetJSON decodes the payload stored under key into out.
func (s *FileStore) GetJSON(key string, out any) error {
	entry, err := s.Get(key)
	if err != nil {
		return err
	}

	payload, err := entry.Payload()
	if err != nil {
		return err
	}
	if err := gojson.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode cache payload %q: %w", key, err)
	}
	return nil
}

// Set stores data under key with the store's default TTL.
func (s *FileStore) Set(key string, data json.RawMessage) error {
	return s.SetWithTTL(key, data, s.ttlSeconds)
}

// SetJSON encodes v and stores it under key with the given TTL.
func (s *FileStore) SetJSON(key string, v any, ttlSeconds int) error {
	data, err := gojson.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache payload %q: %w", key, err)
	}
	return s.SetWithTTL(key, data, ttlSeconds)
}

// SetWithTTL stores data under key, overwriting any previous entry.
// Returns ErrQuotaExceeded when the write would push the store past its quota;
// the previous entry is left in place.
func (s *FileStore) SetWithTTL(key string, data json.RawMessage, ttlSeconds int) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}

	if s.compressAbove > 0 && len(data) > s.compressAbove {
		return s.write(NewCompressedEntry(key, data, ttlSeconds))
	}
	return s.write(NewCacheEntry(key, data, ttlSeconds))
}

// SetCompressed stores data under key compressed regardless of its size.
func (s *FileStore) SetCompressed(key string, data json.RawMessage, ttlSeconds int) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}
	return s.write(NewCompressedEntry(key, data, ttlSeconds))
}

func (s *FileStore) write(entry *CacheEntry) error {
	entryData, err := gojson.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.keyToFilePath(entry.Key)
	if err := s.checkQuotaLocked(filePath, int64(len(entryData))); err != nil {
		return err
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, entryData, 0o600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// Delete removes a cache entry by key. Missing entries are not an error.
func (s *FileStore) Delete(key string) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.keyToFilePath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (s *FileStore) Clear() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := s.walkLocked(func(path string, _ fs.DirEntry) error {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove cache file %s: %w", filepath.Base(path), err)
		}
		removed++
		return nil
	})
	return removed, err
}

// CleanupExpired removes expired entries and returns how many were removed.
// Unreadable files are skipped.
func (s *FileStore) CleanupExpired() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := s.walkLocked(func(path string, _ fs.DirEntry) error {
		entry, err := readEntry(path)
		if err != nil || !entry.IsExpired() {
			return nil //nolint:nilerr // Skip unreadable entries.
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// Stats reports entry counts and disk usage.
func (s *FileStore) Stats() (StoreStats, error) {
	if !s.enabled {
		return StoreStats{}, ErrCacheDisabled
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{MaxBytes: s.maxBytes}
	err := s.walkLocked(func(path string, d fs.DirEntry) error {
		if info, err := d.Info(); err == nil {
			stats.Bytes += info.Size()
		}
		stats.Entries++

		entry, err := readEntry(path)
		if err != nil {
			return nil //nolint:nilerr // Corrupt files still count toward size.
		}
		if entry.IsExpired() {
			stats.Expired++
		}
		if entry.IsCompressed() {
			stats.Compressed++
		}
		return nil
	})
	return stats, err
}

// Size returns the total size of the cache files in bytes.
func (s *FileStore) Size() (int64, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeLocked("")
}

// Count returns the number of entries, expired ones included.
func (s *FileStore) Count() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	err := s.walkLocked(func(string, fs.DirEntry) error {
		count++
		return nil
	})
	return count, err
}

// IsEnabled returns true if caching is enabled.
func (s *FileStore) IsEnabled() bool {
	return s.enabled
}

// GetDirectory returns the cache directory path.
func (s *FileStore) GetDirectory() string {
	return s.directory
}

// GetTTL returns the default TTL in seconds.
func (s *FileStore) GetTTL() int {
	return s.ttlSeconds
}

func (s *FileStore) checkQuotaLocked(filePath string, incoming int64) error {
	if s.maxBytes <= 0 {
		return nil
	}

	used, err := s.sizeLocked(filePath)
	if err != nil {
		return err
	}
	if used+incoming > s.maxBytes {
		return fmt.Errorf("%w: %d of %d bytes used, entry needs %d",
			ErrQuotaExceeded, used, s.maxBytes, incoming)
	}
	return nil
}

// sizeLocked sums cache file sizes, skipping exclude.
func (s *FileStore) sizeLocked(exclude string) (int64, error) {
	var total int64
	err := s.walkLocked(func(path string, d fs.DirEntry) error {
		if path == exclude {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// walkLocked calls fn for every cache file in the directory.
func (s *FileStore) walkLocked(fn func(path string, d fs.DirEntry) error) error {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, d := range entries {
		if d.IsDir() || filepath.Ext(d.Name()) != cacheFileExtension {
			continue
		}
		if err := fn(filepath.Join(s.directory, d.Name()), d); err != nil {
			return err
		}
	}
	return nil
}

// keyToFilePath maps a key to a filesystem-safe file name.
func (s *FileStore) keyToFilePath(key string) string {
	safeKey := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
	return filepath.Join(s.directory, safeKey+cacheFileExtension)
}

func readEntry(path string) (*CacheEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry CacheEntry
	if err := gojson.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}
