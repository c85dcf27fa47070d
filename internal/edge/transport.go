package edge

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

const (
	defaultRetryMax = 2

	// Retry delays grow from retryInitial, doubling per attempt up to
	// retryMaxDelay, with full jitter.
	retryInitial  = 200 * time.Millisecond
	retryMaxDelay = 2 * time.Second
)

// retryTransport retries replayable requests (GET and HEAD without a body)
// after transport errors. HTTP error statuses are returned as-is.
type retryTransport struct {
	base     http.RoundTripper
	retryMax int
	// delay returns the pause before retry attempt n (1-based).
	delay func(attempt int) time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	attempts := 1
	if (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil {
		attempts += max(t.retryMax, 0)
	}

	delay := t.delay
	if delay == nil {
		delay = jitteredBackoff
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if err := wait(req.Context(), delay(attempt)); err != nil {
				break
			}
		}
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// jitteredBackoff returns a random duration in
// [0, min(retryInitial * 2^(attempt-1), retryMaxDelay)].
func jitteredBackoff(attempt int) time.Duration {
	base := float64(retryInitial) * math.Pow(2, float64(attempt-1))
	base = min(base, float64(retryMaxDelay))
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSHandshakeTimeout = 10 * time.Second
	base.ResponseHeaderTimeout = 15 * time.Second

	return &http.Client{
		Transport: &retryTransport{base: base, retryMax: defaultRetryMax},
		Timeout:   timeout,
	}
}
