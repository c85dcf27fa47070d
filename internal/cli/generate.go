package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adtopia/adtopia/internal/bulk"
	"github.com/adtopia/adtopia/internal/config"
	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/engine/cache"
	"github.com/adtopia/adtopia/internal/logging"
	"github.com/adtopia/adtopia/internal/qr"
)

type generateOptions struct {
	ad       edge.AIAdRequest
	keywords string
	language string
	shareURL string
	qrOut    string
}

// NewGenerateCmd creates the generate command.
func NewGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate ad copy and save it as an ad card",
		Long: `Calls generate-ai-ad for a title and description and keeps the result as a
local ad card. With --share-url the card also gets a QR code for the link;
"{id}" in the URL is replaced with the card ID.`,
		Example: `  adtopia generate --title "Red bike" --description "Barely used, 21 gears"
  adtopia generate --title "Red bike" --description "21 gears" \
    --share-url "https://adtopia.example/cards/{id}" --qr-out bike-qr.png`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ad.Title, "title", "", "ad title (required)")
	cmd.Flags().StringVar(&opts.ad.Description, "description", "", "what is on offer (required)")
	cmd.Flags().StringVar(&opts.ad.Style, "style", "", "copy style")
	cmd.Flags().StringVar(&opts.ad.Category, "category", "", "ad category")
	cmd.Flags().StringVar(&opts.ad.Tier, "tier", "", "subscription tier")
	cmd.Flags().StringVar(&opts.ad.TemplateID, "template-id", "", "ad template")
	cmd.Flags().StringVar(&opts.ad.UserID, "user-id", "", "user the ad is generated for")
	cmd.Flags().StringVar(&opts.keywords, "keywords", "", "card keywords separated by ';' or ','")
	cmd.Flags().StringVar(&opts.language, "language", "", "card language")
	cmd.Flags().StringVar(&opts.shareURL, "share-url", "", "link to encode as a QR code")
	cmd.Flags().StringVar(&opts.qrOut, "qr-out", "", "write the QR code PNG to this file")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}

func runGenerate(cmd *cobra.Command, opts generateOptions) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	cfg := config.GetGlobalConfig()

	if opts.qrOut != "" && opts.shareURL == "" {
		return errors.New("--qr-out needs --share-url")
	}

	client, err := newBackendClient(ctx, cfg)
	if err != nil {
		return err
	}

	gen := &bulk.Generator{Client: client, Logger: *log}
	if store, cacheErr := openCache(cfg); cacheErr == nil && store.IsEnabled() {
		gen.Cards = cache.NewCardStore(store, *log)
	}

	out, err := gen.Run(ctx, bulk.GenerateRequest{
		Ad:       opts.ad,
		Keywords: bulk.SplitKeywords(opts.keywords),
		Language: opts.language,
		ShareURL: opts.shareURL,
	})
	if err != nil {
		return err
	}

	if opts.qrOut != "" {
		png, decodeErr := qr.DecodeDataURL(out.QRCodes[bulk.QRShareKey])
		if decodeErr != nil {
			return decodeErr
		}
		if writeErr := os.WriteFile(opts.qrOut, png, 0o600); writeErr != nil {
			return fmt.Errorf("writing %s: %w", opts.qrOut, writeErr)
		}
	}

	log.Info().Ctx(ctx).
		Str("card", out.Card.ID).
		Int("tokens", out.Tokens).
		Bool("qr", len(out.QRCodes) > 0).
		Msg("ad generated")

	if outputFormat(cmd, cfg) == config.FormatJSON {
		return writeJSON(cmd.OutOrStdout(), out)
	}

	p := newPrinter(cmd.OutOrStdout())
	p.Printf("%s\n\n", out.Card.Description)
	p.Printf("Card %s (%d tokens)\n", out.Card.ID, out.Tokens)
	if out.ShareURL != "" {
		p.Printf("Share link: %s\n", out.ShareURL)
	}
	if opts.qrOut != "" {
		p.Printf("QR code written to %s\n", opts.qrOut)
	}
	return nil
}
