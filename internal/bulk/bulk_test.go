package bulk_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/engine/chunk"
)

func TestExtractFilePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"public storage url", "https://abc.supabase.co/storage/v1/object/public/gallery-images/2024/a.png", "2024/a.png"},
		{"other absolute url", "https://cdn.example.com/img/c.png", "img/c.png"},
		{"relative path", "folder/b.png", "folder/b.png"},
		{"not a url", "not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bulk.ExtractFilePath(tt.in))
		})
	}
}

// fakeOptimizer fails any batch containing a path with "fail" in it and
// leaves paths containing "drop" out of its reply.
type fakeOptimizer struct {
	mu      sync.Mutex
	batches [][]string
	reduce  map[string]float64
}

func (f *fakeOptimizer) OptimizeImageBatch(_ context.Context, req edge.OptimizeRequest) (*edge.OptimizeResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, req.FilePaths)
	f.mu.Unlock()

	resp := &edge.OptimizeResponse{Success: true}
	for _, p := range req.FilePaths {
		if strings.Contains(p, "fail") {
			return nil, errors.New("edge function crashed")
		}
		if strings.Contains(p, "drop") {
			continue
		}
		if strings.Contains(p, "skip") {
			resp.Results = append(resp.Results, edge.OptimizeResult{Path: p, Error: "unsupported format"})
			continue
		}
		resp.Results = append(resp.Results, edge.OptimizeResult{Path: p, Success: true, Reduction: f.reduce[p]})
	}
	return resp, nil
}

type fakeActivity struct {
	entries []domain.ActivityEntry
}

func (f *fakeActivity) Record(e domain.ActivityEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func galleryImages(paths ...string) []domain.GalleryImage {
	out := make([]domain.GalleryImage, len(paths))
	for i, p := range paths {
		out[i] = domain.GalleryImage{
			ID:  fmt.Sprintf("img-%d", i),
			URL: "https://abc.supabase.co/storage/v1/object/public/gallery-images/" + p,
		}
	}
	return out
}

func TestOptimizer_NoImages(t *testing.T) {
	o := &bulk.Optimizer{Client: &fakeOptimizer{}}
	_, err := o.Run(context.Background(), nil)
	assert.ErrorIs(t, err, bulk.ErrNoImages)
}

func TestOptimizer_Run(t *testing.T) {
	client := &fakeOptimizer{reduce: map[string]float64{
		"a.png": 10.5,
		"b.png": 20.25,
		"c.png": 30,
	}}
	activity := &fakeActivity{}

	var (
		progressMu sync.Mutex
		last       bulk.Progress
		calls      int
	)
	o := &bulk.Optimizer{
		Client:   client,
		Bucket:   "gallery-images",
		Activity: activity,
		UserID:   "admin-1",
		OnProgress: func(p bulk.Progress) {
			progressMu.Lock()
			defer progressMu.Unlock()
			calls++
			last = p
		},
		Logger: zerolog.Nop(),
	}

	images := galleryImages("a.png", "b.png", "c.png", "fail.png", "d.png", "e.png", "skip.png")
	summary, err := o.Run(context.Background(), images)
	require.NoError(t, err)

	assert.Len(t, client.batches, 3)
	for _, b := range client.batches {
		assert.LessOrEqual(t, len(b), bulk.DefaultOptimizeBatchSize)
	}

	// The failing batch is fail.png, d.png, e.png.
	assert.Equal(t, 7, summary.Requested)
	assert.Equal(t, 3, summary.Success)
	assert.Equal(t, 4, summary.Failed)
	assert.Len(t, summary.Results, 7)
	assert.InDelta(t, 20.25, summary.AvgReduction, 0.001)
	assert.InDelta(t, 10.5, summary.MinReduction, 0.001)
	assert.InDelta(t, 30.0, summary.MaxReduction, 0.001)

	assert.Equal(t, 7, calls)
	assert.Equal(t, bulk.Progress{Done: 3, Failed: 4, Total: 7}, last)

	require.Len(t, activity.entries, 1)
	entry := activity.entries[0]
	assert.Equal(t, "admin-1", entry.UserID)
	assert.Equal(t, bulk.ActionBatchOptimize, entry.Action)
	assert.Equal(t, 7, entry.Metadata["count"])
	assert.Equal(t, 3, entry.Metadata["success"])
	assert.Equal(t, 4, entry.Metadata["failed"])
}

func TestOptimizer_NoUserSkipsActivity(t *testing.T) {
	activity := &fakeActivity{}
	o := &bulk.Optimizer{Client: &fakeOptimizer{}, Activity: activity}

	_, err := o.Run(context.Background(), galleryImages("a.png"))
	require.NoError(t, err)
	assert.Empty(t, activity.entries)
}

func TestOptimizer_AllFailedHasZeroReductions(t *testing.T) {
	o := &bulk.Optimizer{Client: &fakeOptimizer{}}

	summary, err := o.Run(context.Background(), galleryImages("fail-1.png", "fail-2.png"))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Success)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.AvgReduction)
	assert.Zero(t, summary.MinReduction)
	assert.Zero(t, summary.MaxReduction)
}

func TestOptimizer_MissingResultsCountAsFailed(t *testing.T) {
	o := &bulk.Optimizer{Client: &fakeOptimizer{}}

	summary, err := o.Run(context.Background(), galleryImages("a.png", "drop-1.png", "drop-2.png", "d.png"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, summary.Requested, summary.Success+summary.Failed)

	var missing []string
	for _, r := range summary.Results {
		if !r.Success {
			assert.Equal(t, "no result returned", r.Error)
			missing = append(missing, r.Path)
		}
	}
	assert.ElementsMatch(t, []string{"drop-1.png", "drop-2.png"}, missing)
}

func TestOptimizer_Cancelled(t *testing.T) {
	client := &fakeOptimizer{}
	o := &bulk.Optimizer{Client: client}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.Run(ctx, galleryImages("a.png", "b.png", "c.png", "d.png"))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Empty(t, client.batches)
	assert.Equal(t, 0, summary.Success+summary.Failed)
}

// fakeFetcher signs and serves every path except those containing "missing".
type fakeFetcher struct {
	mu     sync.Mutex
	signed int
	delay  map[string]time.Duration
}

func (f *fakeFetcher) SignedURL(ctx context.Context, req edge.SignedURLRequest) (string, error) {
	f.mu.Lock()
	f.signed++
	f.mu.Unlock()

	if d := f.delay[req.Path]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if strings.Contains(req.Path, "missing") {
		return "", &edge.APIError{Method: "POST", Path: "/functions/v1/signed-url", StatusCode: 404, Message: "object not found"}
	}
	return "https://signed.example/" + req.Bucket + "/" + req.Path + "?size=" + req.Size + "&token=secret", nil
}

func (f *fakeFetcher) Download(_ context.Context, rawURL string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("bytes of " + rawURL)), nil
}

func (f *fakeFetcher) signCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signed
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(body)
	}
	return out
}

func TestArchiveNames(t *testing.T) {
	assert.Equal(t, "gallery-medium.zip", bulk.ArchiveName("", ""))
	assert.Equal(t, "summer-full.zip", bulk.ArchiveName("summer", "full"))

	assert.Equal(t, "image-4.webp", bulk.ArchiveFileName("", 4))
	assert.Equal(t, "sunset-beach-1.webp", bulk.ArchiveFileName("Sunset  Beach", 1))
	assert.Equal(t, "neon-sign-12.webp", bulk.ArchiveFileName("Neon\tSign", 12))
	assert.Equal(t, "etc-evil-2.webp", bulk.ArchiveFileName("../../etc/evil", 2))
	assert.Equal(t, "a-b-c-3.webp", bulk.ArchiveFileName(`a\\b.c`, 3))
	assert.Equal(t, "image-5.webp", bulk.ArchiveFileName("/..", 5))
	assert.Equal(t, "café-1.webp", bulk.ArchiveFileName("Café", 1))
}

func TestDownloader_EntryNamesStayInFolder(t *testing.T) {
	d := &bulk.Downloader{Client: &fakeFetcher{}}

	var buf bytes.Buffer
	summary, err := d.Run(context.Background(), []bulk.DownloadImage{
		{Bucket: "gallery-images", Path: "a.png", Title: "../../etc/evil"},
	}, "medium", &buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"images/etc-evil-1.webp"}, summary.Files)

	for name := range readZip(t, buf.Bytes()) {
		assert.NotContains(t, name, "..")
		assert.True(t, strings.HasPrefix(name, "images/"))
	}
}

func TestDownloader_Run(t *testing.T) {
	client := &fakeFetcher{delay: map[string]time.Duration{"a.png": 20 * time.Millisecond}}
	var last bulk.Progress
	d := &bulk.Downloader{
		Client:      client,
		Concurrency: 2,
		OnProgress:  func(p bulk.Progress) { last = p },
	}

	images := []bulk.DownloadImage{
		{Bucket: "gallery-images", Path: "a.png", Title: "Sunset Beach"},
		{Bucket: "gallery-images", Path: "missing.png", Title: "Gone"},
		{Bucket: "gallery-images", Path: "c.png"},
	}

	var buf bytes.Buffer
	summary, err := d.Run(context.Background(), images, "full", &buf)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Requested)
	assert.Equal(t, 2, summary.Downloaded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "missing.png", summary.Failures[0].Item)
	assert.True(t, edge.IsStatus(summary.Failures[0].Err, 404))
	assert.Equal(t, []string{"images/sunset-beach-1.webp", "images/image-3.webp"}, summary.Files)
	assert.Equal(t, bulk.Progress{Done: 2, Failed: 1, Total: 3}, last)

	files := readZip(t, buf.Bytes())
	assert.Len(t, files, 2)
	assert.Contains(t, files["images/sunset-beach-1.webp"], "gallery-images/a.png?size=full")
	assert.Contains(t, files["images/image-3.webp"], "gallery-images/c.png")
}

func TestDownloader_NothingDownloaded(t *testing.T) {
	d := &bulk.Downloader{Client: &fakeFetcher{}}

	var buf bytes.Buffer
	summary, err := d.Run(context.Background(), []bulk.DownloadImage{
		{Bucket: "b", Path: "missing-1.png"},
		{Bucket: "b", Path: "missing-2.png"},
	}, "", &buf)

	assert.ErrorIs(t, err, bulk.ErrNothingDownloaded)
	assert.Len(t, summary.Failures, 2)
	assert.Zero(t, buf.Len())
}

func TestDownloader_NoImages(t *testing.T) {
	d := &bulk.Downloader{Client: &fakeFetcher{}}
	_, err := d.Run(context.Background(), nil, "medium", io.Discard)
	assert.ErrorIs(t, err, bulk.ErrNoImages)
}

func TestDownloader_CachesSignedURLs(t *testing.T) {
	store, err := cache.NewFileStore(t.TempDir(), true, cache.DefaultTTLSeconds, 10)
	require.NoError(t, err)

	client := &fakeFetcher{}
	d := &bulk.Downloader{Client: client, URLCache: store}
	images := []bulk.DownloadImage{
		{Bucket: "b", Path: "a.png"},
		{Bucket: "b", Path: "b.png"},
	}

	_, err = d.Run(context.Background(), images, "thumbnail", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, client.signCalls())

	_, err = d.Run(context.Background(), images, "thumbnail", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, client.signCalls(), "second run should reuse cached URLs")

	// A different size is a different signed URL.
	_, err = d.Run(context.Background(), images, "original", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 4, client.signCalls())
}

func TestDownloader_InvalidSize(t *testing.T) {
	d := &bulk.Downloader{Client: &fakeFetcher{}}
	_, err := d.Run(context.Background(), []bulk.DownloadImage{{Bucket: "b", Path: "a.png"}}, "huge", io.Discard)
	assert.ErrorIs(t, err, bulk.ErrInvalidSize)
}

func TestDownloader_Cancelled(t *testing.T) {
	d := &bulk.Downloader{Client: &fakeFetcher{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := d.Run(ctx, []bulk.DownloadImage{{Bucket: "b", Path: "a.png"}}, "", &buf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

type fakeInserter struct {
	mu      sync.Mutex
	tables  []string
	batches [][]domain.AdCard
	err     error
}

func (f *fakeInserter) Insert(_ context.Context, table string, rows any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tables = append(f.tables, table)
	f.batches = append(f.batches, rows.([]domain.AdCard))
	return nil
}

type fakeRecent struct {
	cards []domain.AdCard
}

func (f *fakeRecent) AppendCards(cards ...domain.AdCard) error {
	f.cards = append(f.cards, cards...)
	return nil
}

const cardsCSV = `Title,Description,Keywords,Language,Image_URL
Summer Sale,Half off everything,"sale; summer, deals",en,https://cdn.example.com/a.png

,missing title,,,
Winter Sale,,,,
Spring Launch,New arrivals,spring,es,
`

func TestImporter_Run(t *testing.T) {
	client := &fakeInserter{}
	recent := &fakeRecent{}
	var last bulk.Progress
	im := &bulk.Importer{
		Client:       client,
		ChunkSize:    2,
		ChunkDelay:   -1,
		BatchSize:    2,
		BatchTimeout: 50 * time.Millisecond,
		Recent:       recent,
		OnProgress:   func(p bulk.Progress) { last = p },
	}

	summary, err := im.Run(context.Background(), strings.NewReader(cardsCSV))
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 3, summary.Parsed)
	require.Len(t, summary.RowErrors, 1)
	assert.Equal(t, 1, summary.RowErrors[0].Index)
	assert.ErrorIs(t, summary.RowErrors[0].Err, bulk.ErrMissingTitle)
	assert.Equal(t, 3, summary.Inserted)
	assert.Zero(t, summary.InsertFailures)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, bulk.Progress{Done: 3, Failed: 1, Total: 4}, last)

	var inserted []domain.AdCard
	for i, b := range client.batches {
		assert.Equal(t, bulk.CardsTable, client.tables[i])
		assert.LessOrEqual(t, len(b), 2)
		inserted = append(inserted, b...)
	}
	require.Len(t, inserted, 3)
	assert.Equal(t, "Summer Sale", inserted[0].Title)
	assert.Equal(t, []string{"sale", "summer", "deals"}, inserted[0].Keywords)
	assert.Equal(t, "https://cdn.example.com/a.png", inserted[0].ImageURL)

	assert.Len(t, recent.cards, 3)
}

func TestImporter_InsertFailure(t *testing.T) {
	client := &fakeInserter{err: errors.New("503 service unavailable")}
	recent := &fakeRecent{}
	im := &bulk.Importer{Client: client, ChunkDelay: -1, BatchSize: 10, Recent: recent}

	summary, err := im.Run(context.Background(), strings.NewReader(cardsCSV))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 3, summary.InsertFailures)
	assert.Equal(t, 4, summary.Failed())
	assert.Empty(t, recent.cards)
}

func TestImporter_TooShort(t *testing.T) {
	im := &bulk.Importer{Client: &fakeInserter{}}
	_, err := im.Run(context.Background(), strings.NewReader("title,description\n"))
	assert.ErrorIs(t, err, chunk.ErrCSVTooShort)
}

func TestCardFromRow(t *testing.T) {
	headers := []string{"title", "keywords", "unused", "language"}

	card, err := bulk.CardFromRow([]string{"Ad", "a,,b ; c", "x", "fr"}, headers)
	require.NoError(t, err)
	assert.Equal(t, domain.AdCard{Title: "Ad", Keywords: []string{"a", "b", "c"}, Language: "fr"}, card)

	card, err = bulk.CardFromRow([]string{"Short"}, headers)
	require.NoError(t, err)
	assert.Equal(t, "Short", card.Title)
	assert.Nil(t, card.Keywords)

	_, err = bulk.CardFromRow([]string{"", "kw"}, headers)
	assert.ErrorIs(t, err, bulk.ErrMissingTitle)
}
