// Package cache provides a file-based local store with TTL expiration and compression.
//
// It keeps client-side state (recently edited ad cards, generated QR codes,
// signed URLs) between CLI invocations. Key features:
//   - File-based storage in ~/.adtopia/cache/ (one JSON file per key)
//   - Configurable TTL via config file, environment variable, or CLI flag
//   - Large payloads stored zstd-compressed in a versioned envelope
//   - A byte quota that rejects writes with ErrQuotaExceeded
package cache
