package cache

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/adtopia/adtopia/internal/domain"
)

// Card store limits.
const (
	MaxStoredCards      = 20
	FallbackStoredCards = 10

	cardsKey   = "cards"
	qrCodesKey = "qr_codes"
)

// CardStore keeps recently saved ad cards and their generated QR codes.
// Read failures are treated as an empty store.
type CardStore struct {
	store  *FileStore
	logger zerolog.Logger
}

// NewCardStore wraps store.
func NewCardStore(store *FileStore, logger zerolog.Logger) *CardStore {
	return &CardStore{store: store, logger: logger.With().Str("component", "cache").Logger()}
}

// SaveCards stores the most recent MaxStoredCards cards. When the quota is
// exhausted it retries once with the most recent FallbackStoredCards,
// compressed.
func (c *CardStore) SaveCards(cards []domain.AdCard) error {
	recent := lastN(cards, MaxStoredCards)

	err := c.store.SetJSON(cardsKey, recent, MaxTTLSeconds)
	if !errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	c.logger.Warn().
		Int("cards", len(recent)).
		Int("fallback", FallbackStoredCards).
		Msg("cache quota exceeded, keeping fewer cards")

	data, err := marshalJSON(lastN(cards, FallbackStoredCards))
	if err != nil {
		return err
	}
	return c.store.SetCompressed(cardsKey, data, MaxTTLSeconds)
}

// LoadCards returns the saved cards, or nil if none can be read.
func (c *CardStore) LoadCards() []domain.AdCard {
	var cards []domain.AdCard
	if err := c.store.GetJSON(cardsKey, &cards); err != nil {
		c.logDiscard(cardsKey, err)
		return nil
	}
	return cards
}

// AppendCards adds cards after the saved ones and saves the result.
func (c *CardStore) AppendCards(cards ...domain.AdCard) error {
	return c.SaveCards(append(c.LoadCards(), cards...))
}

// SaveQRCodes records the QR code data URLs generated for cardID.
func (c *CardStore) SaveQRCodes(cardID string, codes map[string]string) error {
	all := c.loadAllQRCodes()
	if all == nil {
		all = make(map[string]map[string]string)
	}
	all[cardID] = codes
	return c.store.SetJSON(qrCodesKey, all, MaxTTLSeconds)
}

// LoadQRCodes returns the QR codes saved for cardID, or nil.
func (c *CardStore) LoadQRCodes(cardID string) map[string]string {
	return c.loadAllQRCodes()[cardID]
}

func (c *CardStore) loadAllQRCodes() map[string]map[string]string {
	var all map[string]map[string]string
	if err := c.store.GetJSON(qrCodesKey, &all); err != nil {
		c.logDiscard(qrCodesKey, err)
		return nil
	}
	return all
}

func (c *CardStore) logDiscard(key string, err error) {
	if errors.Is(err, ErrCacheNotFound) {
		return
	}
	c.logger.Debug().Str("key", key).Err(err).Msg("ignoring unreadable cache entry")
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
