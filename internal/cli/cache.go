package cli

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/logging"
)

// NewCacheStatsCmd creates the cache stats command.
func NewCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show local cache usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			stats, err := store.Stats()
			if err != nil {
				return err
			}

			if outputFormat(cmd, cfg) == config.FormatJSON {
				return writeJSON(cmd.OutOrStdout(), cacheReport{
					Directory: store.GetDirectory(),
					Enabled:   store.IsEnabled(),
					TTL:       cache.FormatDuration(time.Duration(store.GetTTL())*time.Second),
					Stats:     stats,
				})
			}

			p := newPrinter(cmd.OutOrStdout())
			p.Printf("Directory:  %s\n", store.GetDirectory())
			p.Printf("Enabled:    %t\n", store.IsEnabled())
			p.Printf("TTL:        %s\n", cache.FormatDuration(time.Duration(store.GetTTL())*time.Second))
			p.Printf("Entries:    %d (%d expired, %d compressed)\n", stats.Entries, stats.Expired, stats.Compressed)
			p.Printf("Size:       %d / %d bytes\n", stats.Bytes, stats.MaxBytes)
			return nil
		},
	}
}

type cacheReport struct {
	Directory string           `json:"directory"`
	Enabled   bool             `json:"enabled"`
	TTL       string           `json:"ttl"`
	Stats     cache.StoreStats `json:"stats"`
}

// NewCacheClearCmd creates the cache clear command.
func NewCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache(config.GetGlobalConfig())
			if err != nil {
				return err
			}
			n, err := store.Clear()
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).Printf("Removed %d cache entries\n", n)
			return nil
		},
	}
}

// NewCacheCleanupCmd creates the cache cleanup command.
func NewCacheCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache(config.GetGlobalConfig())
			if err != nil {
				return err
			}
			n, err := store.CleanupExpired()
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).Printf("Removed %d expired cache entries\n", n)
			return nil
		},
	}
}

type cardReport struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	QRCodes []string `json:"qr_codes,omitempty"`
}

// NewCacheCardsCmd creates the cache cards command.
func NewCacheCardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cards",
		Short: "List recently saved ad cards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			cards := cache.NewCardStore(store, *logging.FromContext(cmd.Context()))

			saved := cards.LoadCards()
			reports := make([]cardReport, 0, len(saved))
			for _, card := range saved {
				r := cardReport{ID: card.ID, Title: card.Title}
				for name := range cards.LoadQRCodes(card.ID) {
					r.QRCodes = append(r.QRCodes, name)
				}
				sort.Strings(r.QRCodes)
				reports = append(reports, r)
			}

			if outputFormat(cmd, cfg) == config.FormatJSON {
				return writeJSON(cmd.OutOrStdout(), reports)
			}

			p := newPrinter(cmd.OutOrStdout())
			if len(reports) == 0 {
				p.Printf("No saved cards\n")
				return nil
			}
			for _, r := range reports {
				id := r.ID
				if id == "" {
					id = "-"
				}
				p.Printf("%-26s  %s", id, r.Title)
				if len(r.QRCodes) > 0 {
					p.Printf("  [qr: %s]", strings.Join(r.QRCodes, ", "))
				}
				p.Printf("\n")
			}
			return nil
		},
	}
}
