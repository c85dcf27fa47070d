// Package bulk runs the AdTopia bulk workflows: image optimization, gallery
// download and ad card import. Each workflow drives one of the engine
// processors against the backend client.
package bulk

import (
	"errors"
	"math"
	"net/url"
	"regexp"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Common workflow errors.
var (
	ErrNoImages          = errors.New("no images selected")
	ErrNothingDownloaded = errors.New("no images could be downloaded")
)

// Progress is a point-in-time count for a running workflow.
type Progress struct {
	Done   int
	Failed int
	Total  int
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// ItemFailure names an input that could not be processed.
type ItemFailure struct {
	Item string
	Err  error
}

// MarshalJSON encodes the failure with its error message.
func (f ItemFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return gojson.Marshal(struct {
		Item  string `json:"item"`
		Error string `json:"error"`
	}{f.Item, msg})
}

var storagePathRe = regexp.MustCompile(`/storage/v1/object/public/([^/]+)/(.+)`)

// ExtractFilePath returns the object path of a public storage URL: the part
// after /storage/v1/object/public/{bucket}/. Other absolute URLs yield their
// path without the leading slash and anything else is returned unchanged.
func ExtractFilePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	if m := storagePathRe.FindStringSubmatch(u.Path); m != nil {
		return m[2]
	}
	return strings.TrimPrefix(u.Path, "/")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
