package edge

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// PublicURL returns the public object URL for path in bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return c.BaseURL() + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + escapePath(path)
}

// Upload stores r at bucket/path, replacing any existing object.
func (c *Client) Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) error {
	header := http.Header{}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	header.Set("x-upsert", "true")

	resp, err := c.send(ctx, http.MethodPost,
		"storage/v1/object/"+url.PathEscape(bucket)+"/"+escapePath(path), r, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Download opens rawURL, which may be absolute (a signed URL) or relative to
// the backend. The caller closes the returned body.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func escapePath(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
