package qr

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	data, err := PNG("https://adtopia.example/cards/01j")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, ImageSize, img.Bounds().Dx())

	_, err = PNG("")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestDataURL_RoundTrip(t *testing.T) {
	url, err := DataURL("https://adtopia.example/cards/01j")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	data, err := DecodeDataURL(url)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = DecodeDataURL("data:text/plain;base64,aGk=")
	assert.Error(t, err)
}
