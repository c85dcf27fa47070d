package bulk

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/qr"
)

// QRShareKey names the share-link code in a card's QR code set.
const QRShareKey = "share"

// ErrNoAdCopy is returned when generate-ai-ad succeeds without copy.
var ErrNoAdCopy = errors.New("generate-ai-ad returned no ad copy")

// AdGenerator writes ad copy.
type AdGenerator interface {
	GenerateAIAd(ctx context.Context, req edge.AIAdRequest) (*edge.AIAdResponse, error)
}

// CardArchive keeps generated cards and their QR codes locally.
type CardArchive interface {
	RecentCards
	SaveQRCodes(cardID string, codes map[string]string) error
}

// Generator turns generated ad copy into an ad card.
type Generator struct {
	Client AdGenerator
	// Cards is optional.
	Cards  CardArchive
	Logger zerolog.Logger

	now     func() time.Time
	newName func() string
}

// GenerateRequest describes the card to create.
type GenerateRequest struct {
	Ad       edge.AIAdRequest
	Keywords []string
	Language string
	// ShareURL is encoded as a QR code when set. "{id}" is replaced with
	// the new card's ID.
	ShareURL string
}

// GeneratedCard is the outcome of a Generator run.
type GeneratedCard struct {
	Card     domain.AdCard     `json:"card"`
	Tokens   int               `json:"tokens"`
	Tier     string            `json:"tier,omitempty"`
	ShareURL string            `json:"share_url,omitempty"`
	QRCodes  map[string]string `json:"qr_codes,omitempty"`
}

// Run generates copy for req and builds the card. Saving to Cards is best
// effort: failures are logged and the card is still returned.
func (g *Generator) Run(ctx context.Context, req GenerateRequest) (*GeneratedCard, error) {
	resp, err := g.Client.GenerateAIAd(ctx, req.Ad)
	if err != nil {
		return nil, err
	}
	if !resp.Success || strings.TrimSpace(resp.AdCopy) == "" {
		return nil, ErrNoAdCopy
	}

	now, newName := g.now, g.newName
	if now == nil {
		now = time.Now
	}
	if newName == nil {
		newName = func() string { return strings.ToLower(ulid.Make().String()) }
	}

	out := &GeneratedCard{
		Card: domain.AdCard{
			ID:          newName(),
			Title:       strings.TrimSpace(req.Ad.Title),
			Description: strings.TrimSpace(resp.AdCopy),
			Keywords:    req.Keywords,
			Language:    req.Language,
			CreatedAt:   now().UTC(),
		},
		Tokens: resp.Metadata.Tokens,
		Tier:   resp.Metadata.Tier,
	}

	if req.ShareURL != "" {
		out.ShareURL = strings.ReplaceAll(req.ShareURL, "{id}", out.Card.ID)
		code, err := qr.DataURL(out.ShareURL)
		if err != nil {
			return nil, err
		}
		out.QRCodes = map[string]string{QRShareKey: code}
	}

	g.archive(out)
	return out, nil
}

func (g *Generator) archive(out *GeneratedCard) {
	if g.Cards == nil {
		return
	}
	log := g.Logger.With().Str("component", "bulk").Str("card", out.Card.ID).Logger()
	if err := g.Cards.AppendCards(out.Card); err != nil {
		log.Warn().Err(err).Msg("failed to save generated card")
	}
	if len(out.QRCodes) == 0 {
		return
	}
	if err := g.Cards.SaveQRCodes(out.Card.ID, out.QRCodes); err != nil {
		log.Warn().Err(err).Msg("failed to save QR codes")
	}
}
