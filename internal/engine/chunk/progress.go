package chunk

import (
	"sync"
	"time"
)

// Progress tracks a chunked run for display. Safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	total           int
	processed       int
	failed          int
	totalChunks     int
	completedChunks int

	start   time.Time
	updated time.Time
	now     func() time.Time
}

// ProgressOption configures a Progress.
type ProgressOption func(*Progress)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProgressOption {
	return func(p *Progress) { p.now = now }
}

// NewProgress tracks total items cut into chunks of chunkSize. A chunkSize
// below 1 leaves the chunk count at zero.
func NewProgress(total, chunkSize int, opts ...ProgressOption) *Progress {
	p := &Progress{
		total:       total,
		totalChunks: len(CalculateChunks(total, chunkSize)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.now()
	p.updated = p.start
	return p
}

// Track returns a copy of opts whose callbacks also feed p.
// Callbacks already present in opts are still invoked.
func Track[T any](opts Options[T], p *Progress) Options[T] {
	onProgress := opts.OnProgress
	onError := opts.OnError
	onChunk := opts.OnChunkComplete

	opts.OnProgress = func(processed, total int) {
		p.Set(processed, p.Failed(), total)
		if onProgress != nil {
			onProgress(processed, total)
		}
	}
	opts.OnError = func(err error, item T, index int) {
		p.AddFailed(1)
		if onError != nil {
			onError(err, item, index)
		}
	}
	opts.OnChunkComplete = func(chunkIndex, processedCount int) {
		p.CompleteChunk()
		if onChunk != nil {
			onChunk(chunkIndex, processedCount)
		}
	}
	return opts
}

// Set replaces the running totals. A total of zero keeps the current one.
func (p *Progress) Set(processed, failed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed = processed
	p.failed = failed
	if total > 0 {
		p.total = total
	}
	p.updated = p.now()
}

// AddFailed counts n more failed items.
func (p *Progress) AddFailed(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed += n
	p.updated = p.now()
}

// CompleteChunk counts one more finished chunk.
func (p *Progress) CompleteChunk() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completedChunks++
	p.updated = p.now()
}

// Failed returns the failed item count.
func (p *Progress) Failed() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failed
}

// Total returns the number of items in the run.
func (p *Progress) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// Settled returns the number of attempted items, successes plus failures.
func (p *Progress) Settled() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processed + p.failed
}

// PercentComplete returns attempted items as a percentage of the total,
// capped at 100.
func (p *Progress) PercentComplete() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.percentLocked()
}

// IsComplete reports whether every item has been attempted.
func (p *Progress) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total > 0 && p.processed+p.failed >= p.total
}

// ItemsPerSecond returns attempted items per second since the start.
func (p *Progress) ItemsPerSecond() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rateLocked()
}

// EstimatedTimeRemaining extrapolates the average time per attempted item
// over the items left. It is zero before the first item and after the last.
func (p *Progress) EstimatedTimeRemaining() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remainingLocked()
}

// ProgressSnapshot is a copy of a Progress at one instant.
type ProgressSnapshot struct {
	TotalItems      int
	ProcessedItems  int
	FailedItems     int
	TotalChunks     int
	CompletedChunks int
	StartTime       time.Time
	LastUpdateTime  time.Time
	PercentComplete float64
	ElapsedTime     time.Duration
	ItemsPerSecond  float64
	Remaining       time.Duration
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressSnapshot{
		TotalItems:      p.total,
		ProcessedItems:  p.processed,
		FailedItems:     p.failed,
		TotalChunks:     p.totalChunks,
		CompletedChunks: p.completedChunks,
		StartTime:       p.start,
		LastUpdateTime:  p.updated,
		PercentComplete: p.percentLocked(),
		ElapsedTime:     p.now().Sub(p.start),
		ItemsPerSecond:  p.rateLocked(),
		Remaining:       p.remainingLocked(),
	}
}

func (p *Progress) percentLocked() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.processed+p.failed)/float64(p.total)*100, 100)
}

func (p *Progress) rateLocked() float64 {
	elapsed := p.now().Sub(p.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.processed+p.failed) / elapsed
}

func (p *Progress) remainingLocked() time.Duration {
	done := p.processed + p.failed
	left := p.total - done
	if done == 0 || left <= 0 {
		return 0
	}
	perItem := p.now().Sub(p.start) / time.Duration(done)
	return perItem * time.Duration(left)
}
