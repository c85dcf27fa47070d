package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/logging"
)

// ExitCodePartial is the exit status of a run where some items failed.
const ExitCodePartial = 2

// PartialFailureError reports a bulk run that finished with failed items.
type PartialFailureError struct {
	Operation string
	Failed    int
	Total     int
	ExitCode  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Operation, e.Failed, e.Total)
}

// partialFailure returns a *PartialFailureError when failed > 0, else nil.
func partialFailure(operation string, failed, total int) error {
	if failed == 0 {
		return nil
	}
	return &PartialFailureError{Operation: operation, Failed: failed, Total: total, ExitCode: ExitCodePartial}
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var partial *PartialFailureError
	if errors.As(err, &partial) {
		return partial.ExitCode
	}
	return 1
}

// newBackendClient builds the edge client from the backend config section.
func newBackendClient(ctx context.Context, cfg *config.Config) (*edge.Client, error) {
	client, err := edge.New(edge.Options{
		URL:         cfg.Backend.URL,
		AnonKey:     cfg.Backend.AnonKey,
		AccessToken: cfg.Backend.AccessToken,
		Timeout:     cfg.Backend.Timeout,
		RateLimit:   cfg.Backend.RateLimit,
		Burst:       cfg.Backend.Burst,
		Logger:      *logging.FromContext(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}
	return client, nil
}

// openCache opens the local cache store described by cfg.
func openCache(cfg *config.Config) (*cache.FileStore, error) {
	dir, err := cfg.CacheDir()
	if err != nil {
		return nil, err
	}
	store, err := cache.NewFileStore(dir, cfg.Cache.Enabled, cfg.Cache.TTLSeconds, cfg.Cache.MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store.WithCompressThreshold(cfg.Cache.CompressThreshold), nil
}

// loadJSONFile decodes a JSON array of T from path.
func loadJSONFile[T any](ctx context.Context, path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var items []T
	if err := gojson.NewDecoder(f).DecodeContext(ctx, &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return items, nil
}

// outputFormat returns --output or the configured format.
func outputFormat(cmd *cobra.Command, cfg *config.Config) string {
	if f, _ := cmd.Flags().GetString("output"); f != "" {
		return f
	}
	return cfg.Output.Format
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// newPrinter returns a printer that groups digits in counts.
func newPrinter(w io.Writer) *printer {
	return &printer{w: w, p: message.NewPrinter(language.English)}
}

type printer struct {
	w io.Writer
	p *message.Printer
}

func (p *printer) Printf(format string, args ...any) {
	_, _ = p.p.Fprintf(p.w, format, args...)
}
