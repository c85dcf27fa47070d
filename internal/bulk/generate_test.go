package bulk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adtopia/adtopia/internal/domain"
	"github.com/adtopia/adtopia/internal/edge"
	"github.com/adtopia/adtopia/internal/qr"
)

type fakeAdGenerator struct {
	resp *edge.AIAdResponse
	err  error
	got  edge.AIAdRequest
}

func (f *fakeAdGenerator) GenerateAIAd(_ context.Context, req edge.AIAdRequest) (*edge.AIAdResponse, error) {
	f.got = req
	return f.resp, f.err
}

type fakeArchive struct {
	cards   []domain.AdCard
	qrCodes map[string]map[string]string
	failQR  bool
}

func (f *fakeArchive) AppendCards(cards ...domain.AdCard) error {
	f.cards = append(f.cards, cards...)
	return nil
}

func (f *fakeArchive) SaveQRCodes(id string, codes map[string]string) error {
	if f.failQR {
		return errors.New("quota exceeded")
	}
	if f.qrCodes == nil {
		f.qrCodes = map[string]map[string]string{}
	}
	f.qrCodes[id] = codes
	return nil
}

func adResponse(adCopy string) *edge.AIAdResponse {
	resp := &edge.AIAdResponse{Success: true, AdCopy: adCopy}
	resp.Metadata.Tokens = 42
	resp.Metadata.Tier = "pro"
	return resp
}

func testGenerator(client AdGenerator, cards CardArchive) *Generator {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Generator{
		Client:  client,
		Cards:   cards,
		now:     func() time.Time { return created },
		newName: func() string { return "card-1" },
	}
}

func TestGenerator_Run(t *testing.T) {
	client := &fakeAdGenerator{resp: adResponse("  Ride further on a red bike.  ")}
	archive := &fakeArchive{}
	g := testGenerator(client, archive)

	out, err := g.Run(context.Background(), GenerateRequest{
		Ad:       edge.AIAdRequest{Title: " Bike ", Description: "Red", Tier: "pro"},
		Keywords: []string{"bike", "red"},
		Language: "en",
		ShareURL: "https://adtopia.example/cards/{id}",
	})
	require.NoError(t, err)

	assert.Equal(t, " Bike ", client.got.Title)
	assert.Equal(t, domain.AdCard{
		ID:          "card-1",
		Title:       "Bike",
		Description: "Ride further on a red bike.",
		Keywords:    []string{"bike", "red"},
		Language:    "en",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, out.Card)
	assert.Equal(t, 42, out.Tokens)
	assert.Equal(t, "https://adtopia.example/cards/card-1", out.ShareURL)

	require.Contains(t, out.QRCodes, QRShareKey)
	_, err = qr.DecodeDataURL(out.QRCodes[QRShareKey])
	require.NoError(t, err)

	assert.Equal(t, []domain.AdCard{out.Card}, archive.cards)
	assert.Equal(t, out.QRCodes, archive.qrCodes["card-1"])
}

func TestGenerator_NoShareURL(t *testing.T) {
	archive := &fakeArchive{}
	g := testGenerator(&fakeAdGenerator{resp: adResponse("copy")}, archive)

	out, err := g.Run(context.Background(), GenerateRequest{Ad: edge.AIAdRequest{Title: "T", Description: "D"}})
	require.NoError(t, err)
	assert.Empty(t, out.QRCodes)
	assert.Len(t, archive.cards, 1)
	assert.Empty(t, archive.qrCodes)
}

func TestGenerator_ArchiveFailureKeepsCard(t *testing.T) {
	g := testGenerator(&fakeAdGenerator{resp: adResponse("copy")}, &fakeArchive{failQR: true})

	out, err := g.Run(context.Background(), GenerateRequest{
		Ad:       edge.AIAdRequest{Title: "T", Description: "D"},
		ShareURL: "https://adtopia.example/{id}",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.QRCodes)
}

func TestGenerator_Errors(t *testing.T) {
	_, err := testGenerator(&fakeAdGenerator{resp: &edge.AIAdResponse{Success: true}}, nil).
		Run(context.Background(), GenerateRequest{})
	assert.ErrorIs(t, err, ErrNoAdCopy)

	_, err = testGenerator(&fakeAdGenerator{resp: &edge.AIAdResponse{AdCopy: "x"}}, nil).
		Run(context.Background(), GenerateRequest{})
	assert.ErrorIs(t, err, ErrNoAdCopy)

	backendErr := errors.New("edge function crashed")
	_, err = testGenerator(&fakeAdGenerator{err: backendErr}, nil).
		Run(context.Background(), GenerateRequest{})
	assert.ErrorIs(t, err, backendErr)
}
