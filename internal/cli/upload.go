package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/logging"
)

type uploadOptions struct {
	bucket    string
	prefix    string
	chunkSize int
	delay     time.Duration
}

// NewUploadCmd creates the upload command.
func NewUploadCmd() *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload image files to the gallery bucket",
		Long: `Uploads local image files to storage in chunks, pausing between chunks, and
prints the public URL of every stored object. Files that fail are reported and
skipped.`,
		Example: `  adtopia upload photos/*.png --prefix summer-2026`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "storage bucket (default from config)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "folder to store objects under")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "files per chunk (default from config)")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "pause between chunks (default from config)")

	return cmd
}

func runUpload(cmd *cobra.Command, opts uploadOptions, files []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()

	client, err := newBackendClient(ctx, cfg)
	if err != nil {
		return err
	}

	delay := cfg.Processing.ChunkDelay
	if cmd.Flags().Changed("delay") {
		delay = opts.delay
	}

	uploader := &bulk.Uploader{
		Client:     client,
		Bucket:     firstNonEmpty(opts.bucket, cfg.Backend.Bucket),
		Prefix:     opts.prefix,
		ChunkSize:  firstPositive(opts.chunkSize, cfg.Processing.ChunkSize),
		ChunkDelay: delay,
		Logger:     *log,
	}

	var summary *bulk.UploadSummary
	err = runWithProgress(cmd, progressMode(cmd, cfg), "Uploading images", len(files),
		func(ctx context.Context, report bulk.ProgressFunc) error {
			uploader.OnProgress = report
			var runErr error
			summary, runErr = uploader.Run(ctx, files)
			return runErr
		})
	if summary != nil {
		if printErr := printUploadSummary(cmd, cfg, summary); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}

	log.Info().Ctx(ctx).
		Int("uploaded", len(summary.Uploaded)).
		Int("failed", len(summary.Failures)).
		Float64("items_per_second", summary.ItemsPerSecond).
		Msg("upload finished")

	return partialFailure("upload", len(summary.Failures), summary.Requested)
}

func printUploadSummary(cmd *cobra.Command, cfg *config.Config, s *bulk.UploadSummary) error {
	if outputFormat(cmd, cfg) == config.FormatJSON {
		return writeJSON(cmd.OutOrStdout(), s)
	}

	p := newPrinter(cmd.OutOrStdout())
	p.Printf("Uploaded %d of %d files in %s\n", len(s.Uploaded), s.Requested, s.Elapsed.Round(time.Millisecond))
	for _, img := range s.Uploaded {
		p.Printf("  %s -> %s\n", img.File, img.URL)
	}
	for _, f := range s.Failures {
		p.Printf("  failed: %s: %v\n", f.Item, f.Err)
	}
	return nil
}
