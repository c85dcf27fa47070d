// Package chunk processes ordered collections item by item in fixed-size chunks.
//
// A run walks the input sequentially, hands every item to a caller-supplied
// function and keeps going when an item fails. Key features:
//   - Configurable chunk size with a cooldown delay between chunks
//   - Per-item progress, per-chunk completion and per-item error callbacks
//   - Failures recorded with their original input index
//   - Context-aware cancellation between items and during the cooldown
//
// Items inside a chunk are never processed concurrently. Callers that want
// intra-chunk concurrency compose a run with the queue package.
package chunk
