// Package activity writes admin activity log entries to the backend in batches.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/engine/batcher"
)

// Table is the backend table entries are inserted into.
const Table = "admin_activity_log"

// ErrMissingFields is returned by Record for an entry without user or action.
var ErrMissingFields = errors.New("activity entry needs a user id and an action")

// Inserter writes rows to a backend table.
type Inserter interface {
	Insert(ctx context.Context, table string, rows any) error
}

// Recorder buffers activity entries and inserts them in groups.
type Recorder struct {
	batcher *batcher.Batcher[domain.ActivityEntry]
	now     func() time.Time
}

// NewRecorder starts a Recorder. Close must be called to flush buffered entries.
func NewRecorder(ctx context.Context, client Inserter, batchSize int, timeout time.Duration, logger zerolog.Logger) *Recorder {
	handler := func(ctx context.Context, entries []domain.ActivityEntry) error {
		if err := client.Insert(ctx, Table, entries); err != nil {
			return fmt.Errorf("inserting %d activity entries: %w", len(entries), err)
		}
		return nil
	}
	return &Recorder{
		batcher: batcher.New(ctx, handler, batchSize, timeout,
			batcher.WithLogger(logger),
			batcher.WithName("activity"),
		),
		now: time.Now,
	}
}

// Record queues entry, stamping CreatedAt when it is unset.
func (r *Recorder) Record(entry domain.ActivityEntry) error {
	if entry.UserID == "" || entry.Action == "" {
		return ErrMissingFields
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	return r.batcher.Add(entry)
}

// Flush inserts buffered entries now.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.batcher.Flush(ctx)
}

// Close flushes buffered entries and stops the recorder.
func (r *Recorder) Close(ctx context.Context) error {
	return r.batcher.Close(ctx)
}

// Stats reports how many entries were written and how many insert calls failed.
func (r *Recorder) Stats() batcher.Stats {
	return r.batcher.Stats()
}
