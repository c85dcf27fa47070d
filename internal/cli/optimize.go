package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/activity"
	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/logging"
)

// adminRole is the role allowed to run batch optimization.
const adminRole = "admin"

// optimizeOptions holds the optimize command flags.
type optimizeOptions struct {
	file        string
	userID      string
	bucket      string
	concurrency int
	batchSize   int
}

// NewOptimizeCmd creates the optimize command.
func NewOptimizeCmd() *cobra.Command {
	var opts optimizeOptions

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Recompress gallery images in batches",
		Long: `Sends the images listed in a gallery export to the optimize-image-batch
function a few at a time and reports the size reduction.

When --user-id is given the user must hold the admin role, and the run is
recorded in the admin activity log.`,
		Example: `  adtopia optimize --file images.json
  adtopia optimize --file images.json --user-id 7f9c... --concurrency 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOptimize(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON array of gallery images (required)")
	cmd.Flags().StringVar(&opts.userID, "user-id", "", "admin user recorded in the activity log")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "storage bucket (default from config)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "batches in flight (default from config)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "images per optimize call (default from config)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runOptimize(cmd *cobra.Command, opts optimizeOptions) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()

	images, err := loadJSONFile[domain.GalleryImage](ctx, opts.file)
	if err != nil {
		return err
	}

	client, err := newBackendClient(ctx, cfg)
	if err != nil {
		return err
	}

	optimizer := &bulk.Optimizer{
		Client:      client,
		Bucket:      firstNonEmpty(opts.bucket, cfg.Backend.Bucket),
		BatchSize:   firstPositive(opts.batchSize, cfg.Processing.OptimizeBatchSize),
		Concurrency: firstPositive(opts.concurrency, cfg.Processing.Concurrency),
		UserID:      opts.userID,
		Logger:      *log,
	}

	if opts.userID != "" {
		ok, err := client.HasRole(ctx, opts.userID, adminRole)
		if err != nil {
			return fmt.Errorf("checking admin role: %w", err)
		}
		if !ok {
			return fmt.Errorf("user %s does not have the %s role", opts.userID, adminRole)
		}

		recorder := activity.NewRecorder(context.WithoutCancel(ctx), client, 1, time.Second, *log)
		defer func() {
			if err := recorder.Close(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("activity log not flushed")
			}
		}()
		optimizer.Activity = recorder
	}

	var summary *bulk.OptimizeSummary
	err = runWithProgress(cmd, progressMode(cmd, cfg), "Optimizing images", len(images),
		func(ctx context.Context, report bulk.ProgressFunc) error {
			optimizer.OnProgress = report
			var runErr error
			summary, runErr = optimizer.Run(ctx, images)
			return runErr
		})
	if summary != nil {
		if printErr := printOptimizeSummary(cmd, cfg, summary); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}

	log.Info().Ctx(ctx).
		Int("success", summary.Success).
		Int("failed", summary.Failed).
		Float64("avg_reduction", summary.AvgReduction).
		Msg("optimize finished")

	return partialFailure("optimize", summary.Failed, summary.Requested)
}

func printOptimizeSummary(cmd *cobra.Command, cfg *config.Config, s *bulk.OptimizeSummary) error {
	if outputFormat(cmd, cfg) == config.FormatJSON {
		return writeJSON(cmd.OutOrStdout(), s)
	}

	p := newPrinter(cmd.OutOrStdout())
	p.Printf("Optimized %d of %d images (%d failed)\n", s.Success, s.Requested, s.Failed)
	if s.Success > 0 {
		p.Printf("Reduction: avg %.2f%%, min %.2f%%, max %.2f%%\n", s.AvgReduction, s.MinReduction, s.MaxReduction)
	}
	for _, r := range s.Results {
		if !r.Success {
			p.Printf("  failed: %s: %s\n", r.Path, r.Error)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
