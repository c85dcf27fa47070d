package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/logging"
)

type importOptions struct {
	csv       string
	chunkSize int
	delay     time.Duration
	batchSize int
}

// NewImportCmd creates the import command.
func NewImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import ad cards from a CSV file",
		Long: `Reads ad cards from CSV and inserts them into ad_cards in batches.

The header row names the columns: title (required), description, keywords
(separated by ';' or ','), language and image_url. Rows without a title are
reported and skipped. Rows are parsed in chunks with a short pause between
chunks.`,
		Example: `  adtopia import --csv cards.csv
  adtopia import --csv cards.csv --chunk-size 50 --delay 100ms --batch-size 25`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.csv, "csv", "", "CSV file to import (required)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "rows per chunk (default from config)")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "pause between chunks (default from config)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "cards per insert (default from config)")
	_ = cmd.MarkFlagRequired("csv")

	return cmd
}

func runImport(cmd *cobra.Command, opts importOptions) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()

	f, err := os.Open(opts.csv)
	if err != nil {
		return fmt.Errorf("opening %s: %w", opts.csv, err)
	}
	defer f.Close()

	client, err := newBackendClient(ctx, cfg)
	if err != nil {
		return err
	}

	delay := cfg.Processing.ChunkDelay
	if cmd.Flags().Changed("delay") {
		delay = opts.delay
	}

	importer := &bulk.Importer{
		Client:       client,
		ChunkSize:    firstPositive(opts.chunkSize, cfg.Processing.ChunkSize),
		ChunkDelay:   delay,
		BatchSize:    firstPositive(opts.batchSize, cfg.Processing.BatchSize),
		BatchTimeout: cfg.Processing.BatchTimeout,
		Logger:       *log,
	}
	if store, cacheErr := openCache(cfg); cacheErr == nil && store.IsEnabled() {
		importer.Recent = cache.NewCardStore(store, *log)
	}

	// The row count is unknown until the file is parsed; the first progress
	// update carries it.
	var summary *bulk.ImportSummary
	err = runWithProgress(cmd, progressMode(cmd, cfg), "Importing cards", 0,
		func(ctx context.Context, report bulk.ProgressFunc) error {
			importer.OnProgress = report
			var runErr error
			summary, runErr = importer.Run(ctx, f)
			return runErr
		})
	if summary != nil && summary.Rows > 0 {
		if printErr := printImportSummary(cmd, cfg, summary); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}

	log.Info().Ctx(ctx).
		Int("rows", summary.Rows).
		Int("inserted", summary.Inserted).
		Int("failed", summary.Failed()).
		Msg("import finished")

	return partialFailure("import", summary.Failed(), summary.Rows)
}

type importReport struct {
	Rows           int                `json:"rows"`
	Parsed         int                `json:"parsed"`
	Inserted       int                `json:"inserted"`
	InsertFailures int                `json:"insert_failures"`
	RowErrors      []bulk.ItemFailure `json:"row_errors,omitempty"`
}

func printImportSummary(cmd *cobra.Command, cfg *config.Config, s *bulk.ImportSummary) error {
	rowErrors := make([]bulk.ItemFailure, len(s.RowErrors))
	for i, e := range s.RowErrors {
		// Row 1 is the header.
		rowErrors[i] = bulk.ItemFailure{Item: fmt.Sprintf("row %d", e.Index+2), Err: e.Err}
	}

	if outputFormat(cmd, cfg) == config.FormatJSON {
		return writeJSON(cmd.OutOrStdout(), importReport{
			Rows:           s.Rows,
			Parsed:         s.Parsed,
			Inserted:       s.Inserted,
			InsertFailures: s.InsertFailures,
			RowErrors:      rowErrors,
		})
	}

	p := newPrinter(cmd.OutOrStdout())
	p.Printf("Imported %d of %d cards (%d invalid rows, %d failed inserts)\n",
		s.Inserted, s.Rows, len(s.RowErrors), s.InsertFailures)
	for _, e := range rowErrors {
		p.Printf("  %s: %v\n", e.Item, e.Err)
	}
	return nil
}
