package bulk

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/adtopia/adtopia/internal/engine/chunk"
)

// ImageUploader is the storage surface an Uploader drives.
type ImageUploader interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) error
	PublicURL(bucket, path string) string
}

// Uploader stores local image files in a bucket, a chunk at a time.
type Uploader struct {
	Client ImageUploader
	Bucket string
	// Prefix is the folder objects are stored under.
	Prefix string

	ChunkSize  int
	ChunkDelay time.Duration

	OnProgress ProgressFunc
	Logger     zerolog.Logger

	// newName is replaceable in tests.
	newName func() string
}

// UploadedImage is a stored file.
type UploadedImage struct {
	File   string `json:"file"`
	Object string `json:"object"`
	URL    string `json:"url"`
}

// UploadSummary reports an upload run.
type UploadSummary struct {
	Requested      int             `json:"requested"`
	Uploaded       []UploadedImage `json:"uploaded"`
	Failures       []ItemFailure   `json:"failures,omitempty"`
	Elapsed        time.Duration   `json:"elapsed"`
	ItemsPerSecond float64         `json:"items_per_second"`
}

// Run uploads files. Each is stored as {Prefix}/{ulid}{ext} with a content
// type derived from its extension. Failed files are reported and skipped.
func (u *Uploader) Run(ctx context.Context, files []string) (*UploadSummary, error) {
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	chunkSize := u.ChunkSize
	if chunkSize < chunk.MinChunkSize {
		chunkSize = 5
	}
	newName := u.newName
	if newName == nil {
		newName = func() string { return strings.ToLower(ulid.Make().String()) }
	}

	tracker := chunk.NewProgress(len(files), chunkSize)
	var failed int
	opts := chunk.Track(chunk.Options[string]{
		ChunkSize: chunkSize,
		Delay:     u.ChunkDelay,
		OnProgress: func(processed, total int) {
			u.progress(Progress{Done: processed, Failed: failed, Total: total})
		},
		OnError: func(err error, file string, _ int) {
			failed++
			u.Logger.Warn().Str("component", "bulk").Str("file", file).Err(err).Msg("upload failed")
		},
	}, tracker)

	result, err := chunk.ProcessFilesInChunks(ctx, files, func(ctx context.Context, file string, _ int) (UploadedImage, error) {
		object := path.Join(u.Prefix, newName()+strings.ToLower(filepath.Ext(file)))
		if err := u.uploadFile(ctx, file, object); err != nil {
			return UploadedImage{}, err
		}
		return UploadedImage{File: file, Object: object, URL: u.Client.PublicURL(u.Bucket, object)}, nil
	}, opts)

	summary := &UploadSummary{Requested: len(files)}
	if result != nil {
		summary.Uploaded = result.Processed
		for _, e := range result.Errors {
			summary.Failures = append(summary.Failures, ItemFailure{Item: e.Item, Err: e.Err})
		}
	}
	snap := tracker.Snapshot()
	summary.Elapsed = snap.ElapsedTime
	summary.ItemsPerSecond = snap.ItemsPerSecond
	return summary, err
}

func (u *Uploader) uploadFile(ctx context.Context, file, object string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(file)))
	if err := u.Client.Upload(ctx, u.Bucket, object, f, contentType); err != nil {
		return fmt.Errorf("uploading %s: %w", filepath.Base(file), err)
	}
	return nil
}

func (u *Uploader) progress(p Progress) {
	if u.OnProgress != nil {
		u.OnProgress(p)
	}
}
