package bulk

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/engine/queue"
)

// Downloader defaults.
const (
	DefaultImageSize           = "medium"
	DefaultZipName             = "gallery"
	DefaultDownloadConcurrency = 5
	SignedURLExpiry            = 3600

	// signedURLMargin keeps cached URLs from being handed out just before expiry.
	signedURLMargin = 60
	archiveFolder   = "images"
)

// ImageSizes lists the renditions the signed-url function can serve.
var ImageSizes = []string{"thumbnail", DefaultImageSize, "full", "original"}

// ErrInvalidSize is returned for a size outside ImageSizes.
var ErrInvalidSize = fmt.Errorf("image size must be one of %s", strings.Join(ImageSizes, ", "))

// ImageFetcher is the backend surface a Downloader drives.
type ImageFetcher interface {
	SignedURL(ctx context.Context, req edge.SignedURLRequest) (string, error)
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// DownloadImage identifies one stored image.
type DownloadImage struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	Title  string `json:"title,omitempty"`
}

// Downloader fetches images through signed URLs and packs them into a zip.
type Downloader struct {
	Client      ImageFetcher
	Concurrency int

	// URLCache is optional. Signed URLs are cached until shortly before they expire.
	URLCache *cache.FileStore

	OnProgress ProgressFunc
	Logger     zerolog.Logger
}

// DownloadSummary reports a download run.
type DownloadSummary struct {
	Requested  int           `json:"requested"`
	Downloaded int           `json:"downloaded"`
	Files      []string      `json:"files"`
	Failures   []ItemFailure `json:"failures,omitempty"`
	Bytes      int64         `json:"bytes"`
}

// ArchiveName returns the file name a run for size should be saved under.
func ArchiveName(zipName, size string) string {
	if zipName == "" {
		zipName = DefaultZipName
	}
	if size == "" {
		size = DefaultImageSize
	}
	return fmt.Sprintf("%s-%s.zip", zipName, size)
}

// slugSeparatorRe matches runs of anything but letters and digits, so path
// separators and dots never reach an archive entry name.
var slugSeparatorRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ArchiveFileName names the n-th image (1-based) inside the archive.
func ArchiveFileName(title string, n int) string {
	slug := strings.Trim(slugSeparatorRe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		return fmt.Sprintf("image-%d.webp", n)
	}
	return fmt.Sprintf("%s-%d.webp", slug, n)
}

type fetched struct {
	name string
	data []byte
}

// Run downloads images at size and writes a zip archive to w. Files keep the
// input order. Individual failures are reported in the summary; when none of
// the images could be fetched nothing is written and ErrNothingDownloaded is
// returned.
func (d *Downloader) Run(ctx context.Context, images []DownloadImage, size string, w io.Writer) (*DownloadSummary, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if size == "" {
		size = DefaultImageSize
	}
	if !slices.Contains(ImageSizes, size) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidSize, size)
	}

	q := queue.New(d.Concurrency, queue.WithLogger(d.Logger), queue.WithName("download"))
	defer q.Close(context.WithoutCancel(ctx)) //nolint:errcheck // Every task has settled by now.

	var (
		mu      sync.Mutex
		summary = &DownloadSummary{Requested: len(images)}
		files   = make([]*fetched, len(images))
		g       errgroup.Group
	)

	for i, img := range images {
		pending := queue.Add(ctx, q, func(ctx context.Context) (*fetched, error) {
			data, err := d.fetch(ctx, img, size)
			if err != nil {
				return nil, err
			}
			return &fetched{name: ArchiveFileName(img.Title, i+1), data: data}, nil
		})

		g.Go(func() error {
			f, err := pending.Wait(context.WithoutCancel(ctx))

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if ctx.Err() == nil {
					d.Logger.Warn().Str("component", "bulk").Str("path", img.Path).Err(err).Msg("image download failed")
				}
				summary.Failures = append(summary.Failures, ItemFailure{Item: img.Path, Err: err})
			} else {
				files[i] = f
				summary.Downloaded++
			}
			d.progress(Progress{Done: summary.Downloaded, Failed: len(summary.Failures), Total: len(images)})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Downloaded == 0 {
		return summary, ErrNothingDownloaded
	}

	if err := d.writeArchive(w, files, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (d *Downloader) fetch(ctx context.Context, img DownloadImage, size string) ([]byte, error) {
	signed, err := d.signedURL(ctx, img, size)
	if err != nil {
		return nil, err
	}

	body, err := d.Client.Download(ctx, signed)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", img.Path, err)
	}
	return data, nil
}

func (d *Downloader) signedURL(ctx context.Context, img DownloadImage, size string) (string, error) {
	key := cache.GenerateKey("signed-url", img.Bucket, img.Path, size)

	if d.URLCache != nil && d.URLCache.IsEnabled() {
		var cached string
		if err := d.URLCache.GetJSON(key, &cached); err == nil && cached != "" {
			return cached, nil
		}
	}

	signed, err := d.Client.SignedURL(ctx, edge.SignedURLRequest{
		Bucket:    img.Bucket,
		Path:      img.Path,
		Size:      size,
		ExpiresIn: SignedURLExpiry,
	})
	if err != nil {
		return "", err
	}

	if d.URLCache != nil && d.URLCache.IsEnabled() {
		if err := d.URLCache.SetJSON(key, signed, SignedURLExpiry-signedURLMargin); err != nil {
			d.Logger.Debug().Str("component", "bulk").Err(err).Msg("signed URL not cached")
		}
	}
	return signed, nil
}

func (d *Downloader) writeArchive(w io.Writer, files []*fetched, summary *DownloadSummary) error {
	zw := zip.NewWriter(w)
	modified := time.Now()

	for _, f := range files {
		if f == nil {
			continue
		}
		name := archiveFolder + "/" + f.name
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("adding %s to archive: %w", name, err)
		}
		n, err := fw.Write(f.data)
		if err != nil {
			return fmt.Errorf("writing %s to archive: %w", name, err)
		}
		summary.Files = append(summary.Files, name)
		summary.Bytes += int64(n)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

func (d *Downloader) progress(p Progress) {
	if d.OnProgress != nil {
		d.OnProgress(p)
	}
}
