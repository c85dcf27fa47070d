package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/engine/batcher"
	"github.com/adtopia/adtopia/internal/engine/chunk"
)

// CardsTable is the table imported cards are inserted into.
const CardsTable = "ad_cards"

// ErrMissingTitle is the row error for a CSV row without a title.
var ErrMissingTitle = errors.New("title is required")

// CardInserter writes rows to a backend table.
type CardInserter interface {
	Insert(ctx context.Context, table string, rows any) error
}

// RecentCards keeps the most recently imported cards locally.
type RecentCards interface {
	AppendCards(cards ...domain.AdCard) error
}

// Importer loads ad cards from CSV and inserts them in batches.
type Importer struct {
	Client CardInserter

	ChunkSize    int
	ChunkDelay   time.Duration
	BatchSize    int
	BatchTimeout time.Duration

	// Recent is optional.
	Recent RecentCards

	OnProgress ProgressFunc
	Logger     zerolog.Logger
}

// ImportSummary reports an import run.
type ImportSummary struct {
	Rows           int
	Parsed         int
	RowErrors      []chunk.ItemError[[]string]
	Inserted       int
	InsertFailures int
}

// Failed returns the number of rows that did not end up in the table.
func (s *ImportSummary) Failed() int {
	return len(s.RowErrors) + s.InsertFailures
}

// Run parses r and inserts every valid card. Invalid rows and failed insert
// batches are counted, not fatal. Cards already handed to the batcher are
// flushed even when ctx is cancelled.
func (im *Importer) Run(ctx context.Context, r io.Reader) (*ImportSummary, error) {
	summary := &ImportSummary{}

	var (
		mu       sync.Mutex
		inserted []domain.AdCard
	)

	b := batcher.New(context.WithoutCancel(ctx), func(ctx context.Context, cards []domain.AdCard) error {
		err := im.Client.Insert(ctx, CardsTable, cards)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			summary.InsertFailures += len(cards)
			return fmt.Errorf("inserting %d cards: %w", len(cards), err)
		}
		summary.Inserted += len(cards)
		inserted = append(inserted, cards...)
		return nil
	}, im.BatchSize, im.BatchTimeout,
		batcher.WithLogger(im.Logger),
		batcher.WithName("import"),
		batcher.WithMaxWait(),
	)

	chunkSize := im.ChunkSize
	if chunkSize < chunk.MinChunkSize {
		chunkSize = 10
	}

	var total, failed int
	result, runErr := chunk.ParseCSVInChunks(ctx, r, func(_ context.Context, row []string, _ int, headers []string) (domain.AdCard, error) {
		card, err := CardFromRow(row, headers)
		if err != nil {
			return card, err
		}
		return card, b.Add(card)
	}, chunk.Options[[]string]{
		ChunkSize: chunkSize,
		Delay:     im.ChunkDelay,
		OnProgress: func(processed, n int) {
			total = n
			im.progress(Progress{Done: processed, Failed: failed, Total: n})
		},
		OnError: func(err error, _ []string, index int) {
			failed++
			im.Logger.Debug().Str("component", "bulk").Int("row", index+1).Err(err).Msg("skipping CSV row")
		},
	})

	if err := b.Close(context.WithoutCancel(ctx)); err != nil {
		return summary, err
	}

	if result != nil {
		summary.Parsed = result.TotalProcessed
		summary.RowErrors = result.Errors
		summary.Rows = max(total, result.Attempted())
	}

	if im.Recent != nil && len(inserted) > 0 {
		if err := im.Recent.AppendCards(inserted...); err != nil {
			im.Logger.Warn().Str("component", "bulk").Err(err).Msg("failed to cache imported cards")
		}
	}

	return summary, runErr
}

func (im *Importer) progress(p Progress) {
	if im.OnProgress != nil {
		im.OnProgress(p)
	}
}

// CardFromRow maps a CSV row onto an AdCard by header name. Keywords are
// separated by ';' or ','. Unknown columns are ignored.
func CardFromRow(row, headers []string) (domain.AdCard, error) {
	var card domain.AdCard
	for i, h := range headers {
		if i >= len(row) {
			break
		}
		v := row[i]
		switch h {
		case "title":
			card.Title = v
		case "description":
			card.Description = v
		case "keywords":
			card.Keywords = SplitKeywords(v)
		case "language":
			card.Language = v
		case "image_url":
			card.ImageURL = v
		}
	}
	if card.Title == "" {
		return card, ErrMissingTitle
	}
	return card, nil
}

// SplitKeywords splits a keyword list on ';' and ','.
func SplitKeywords(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
