package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/logging"
)

type downloadOptions struct {
	file        string
	size        string
	out         string
	name        string
	concurrency int
}

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download images into a zip archive",
		Long: `Fetches a signed URL for every image in the list, downloads the requested
rendition and writes them to images/ inside a zip archive. Images that cannot
be fetched are reported and skipped.`,
		Example: `  adtopia download --file images.json --size medium
  adtopia download --file images.json --size full --out summer.zip`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON array of {bucket, path, title} (required)")
	cmd.Flags().StringVar(&opts.size, "size", bulk.DefaultImageSize, "rendition: thumbnail, medium, full or original")
	cmd.Flags().StringVar(&opts.out, "out", "", "archive path (default {name}-{size}.zip)")
	cmd.Flags().StringVar(&opts.name, "name", bulk.DefaultZipName, "archive base name")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "downloads in flight (default 5)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runDownload(cmd *cobra.Command, opts downloadOptions) (err error) {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()

	images, err := loadJSONFile[bulk.DownloadImage](ctx, opts.file)
	if err != nil {
		return err
	}
	for i := range images {
		if images[i].Bucket == "" {
			images[i].Bucket = cfg.Backend.Bucket
		}
	}

	client, err := newBackendClient(ctx, cfg)
	if err != nil {
		return err
	}

	downloader := &bulk.Downloader{
		Client:      client,
		Concurrency: firstPositive(opts.concurrency, bulk.DefaultDownloadConcurrency),
		Logger:      *log,
	}
	if store, cacheErr := openCache(cfg); cacheErr == nil {
		downloader.URLCache = store
	} else {
		log.Warn().Err(cacheErr).Msg("signed URL cache unavailable")
	}

	out := opts.out
	if out == "" {
		out = bulk.ArchiveName(opts.name, opts.size)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".adtopia-download-*.zip")
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var summary *bulk.DownloadSummary
	err = runWithProgress(cmd, progressMode(cmd, cfg), "Downloading images", len(images),
		func(ctx context.Context, report bulk.ProgressFunc) error {
			downloader.OnProgress = report
			var runErr error
			summary, runErr = downloader.Run(ctx, images, opts.size, tmp)
			return runErr
		})
	if err != nil {
		if summary != nil && errors.Is(err, bulk.ErrNothingDownloaded) {
			printDownloadFailures(cmd, summary)
		}
		return err
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err = os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("saving archive: %w", err)
	}

	if outputFormat(cmd, cfg) == config.FormatJSON {
		if err = writeJSON(cmd.OutOrStdout(), downloadReport{Archive: out, Summary: summary}); err != nil {
			return err
		}
	} else {
		p := newPrinter(cmd.OutOrStdout())
		p.Printf("Downloaded %d of %d images as %s (%d bytes)\n", summary.Downloaded, summary.Requested, out, summary.Bytes)
		printDownloadFailures(cmd, summary)
	}

	log.Info().Ctx(ctx).Str("archive", out).Int("downloaded", summary.Downloaded).Msg("download finished")
	return partialFailure("download", len(summary.Failures), summary.Requested)
}

type downloadReport struct {
	Archive string                `json:"archive"`
	Summary *bulk.DownloadSummary `json:"summary"`
}

func printDownloadFailures(cmd *cobra.Command, s *bulk.DownloadSummary) {
	for _, f := range s.Failures {
		cmd.PrintErrf("  failed: %s: %v\n", f.Item, f.Err)
	}
}
