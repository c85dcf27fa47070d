// Package qr renders share links as QR code images.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// ImageSize is the edge length in pixels of rendered codes.
const ImageSize = 256

const dataURLPrefix = "data:image/png;base64,"

// ErrEmptyContent is returned when there is nothing to encode.
var ErrEmptyContent = errors.New("QR content is empty")

//nolint:gochecknoglobals // Fixed palette.
var foreground = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}

// PNG encodes content at medium error correction.
func PNG(content string) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encoding QR code: %w", err)
	}
	code.ForegroundColor = foreground
	code.BackgroundColor = color.White
	return code.PNG(ImageSize)
}

// DataURL returns the PNG for content as a data: URL.
func DataURL(content string) (string, error) {
	png, err := PNG(content)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// DecodeDataURL returns the PNG bytes of a URL produced by DataURL.
func DecodeDataURL(url string) ([]byte, error) {
	if len(url) < len(dataURLPrefix) || url[:len(dataURLPrefix)] != dataURLPrefix {
		return nil, fmt.Errorf("not a PNG data URL")
	}
	return base64.StdEncoding.DecodeString(url[len(dataURLPrefix):])
}
