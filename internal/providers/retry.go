package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPError is a non-2xx response from a provider endpoint.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// connectWithRetry opens the provider stream, retrying transient
// failures with exponential backoff. Only the connection phase
// retries; once a body is returned, the stream is consumed as-is.
func connectWithRetry(ctx context.Context, maxTries uint, open func() (io.ReadCloser, error)) (io.ReadCloser, error) {
	op := func() (io.ReadCloser, error) {
		body, err := open()
		if err == nil {
			return body, nil
		}
		if he, ok := err.(*HTTPError); ok {
			if !retryable(he.Status) {
				return nil, backoff.Permanent(err)
			}
			if he.RetryAfter > 0 {
				return nil, &backoff.RetryAfterError{Duration: he.RetryAfter}
			}
		}
		return nil, err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries))
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
