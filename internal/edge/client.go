// Package edge is the HTTP client for the AdTopia backend: edge functions,
// object storage and the REST table API.
package edge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	// maxErrorBody bounds how much of a failed response is kept in APIError.
	maxErrorBody = 4096
)

// ErrMissingURL is returned by New when no backend URL is configured.
var ErrMissingURL = errors.New("backend URL is not configured (set backend.url or ADTOPIA_URL)")

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Options configures a Client.
type Options struct {
	URL         string
	AnonKey     string
	AccessToken string
	Timeout     time.Duration

	// RateLimit caps requests per second (0 = unlimited).
	RateLimit float64
	Burst     int

	// HTTPClient overrides the default retrying client.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the backend. It is safe for concurrent use.
type Client struct {
	baseURL     *url.URL
	anonKey     string
	accessToken string
	http        *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, ErrMissingURL
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend URL %q must be absolute", opts.URL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = newHTTPClient(timeout)
	}

	c := &Client{
		baseURL:     base,
		anonKey:     opts.AnonKey,
		accessToken: opts.AccessToken,
		http:        httpClient,
		logger:      opts.Logger.With().Str("component", "edge").Logger(),
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// doJSON sends body as JSON to path and decodes a 2xx response into out.
// A nil out discards the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, header http.Header) error {
	var reader io.Reader
	if body != nil {
		data, err := gojson.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	if header == nil {
		header = http.Header{}
	}
	if body != nil {
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(ctx, method, path, reader, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := gojson.NewDecoder(resp.Body).DecodeContext(ctx, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// send waits for the rate limiter, performs the request and converts non-2xx
// responses into *APIError. The caller closes the returned body.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if req.URL.Host == c.baseURL.Host {
		c.authorize(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}

	// Signed URLs carry their token in the query, so only the path is reported.
	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(method, req.URL.Path, resp)
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	token := c.accessToken
	if token == "" {
		token = c.anonKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// resolve joins path onto the base URL. Absolute URLs pass through.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL.String() + "/" + strings.TrimLeft(path, "/")
}

// readAPIError extracts a message from the usual backend error shapes:
// {"error": "..."}, {"message": "..."} or {"error": {"message": "..."}}.
func readAPIError(method, path string, resp *http.Response) *APIError {
	apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error   gojson.RawMessage `json:"error"`
		Message string            `json:"message"`
	}
	if gojson.Unmarshal(data, &payload) != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	switch {
	case payload.Message != "":
		apiErr.Message = payload.Message
	case len(payload.Error) > 0:
		var s string
		if gojson.Unmarshal(payload.Error, &s) == nil {
			apiErr.Message = s
			break
		}
		var nested struct {
			Message string `json:"message"`
		}
		if gojson.Unmarshal(payload.Error, &nested) == nil {
			apiErr.Message = nested.Message
		}
	}
	return apiErr
}
