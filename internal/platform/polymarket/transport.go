package polymarket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

const baseRetryWait = 250 * time.Millisecond

// Options configures the HTTP transport shared by the Gamma and CLOB
// clients.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
}

// transport performs rate-limited GETs with bounded retries on 429 and 5xx.
type transport struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger
}

func newTransport(opts Options, logger *slog.Logger) *transport {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &transport{
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

// get sends a GET and returns the body of a 2xx response.
func (t *transport) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, status, err := t.do(ctx, url)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = checkHTTPStatus(status, body)
			t.logger.WarnContext(ctx, "polymarket: retryable response",
				slog.String("url", url),
				slog.Int("status", status),
				slog.Int("attempt", attempt+1),
			)
		default:
			if err := checkHTTPStatus(status, body); err != nil {
				return nil, err
			}
			return body, nil
		}

		if attempt < t.maxRetries && !t.sleep(ctx, attempt) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", t.maxRetries, lastErr)
}

func (t *transport) do(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// sleep waits with exponential backoff. It returns false if ctx ended.
func (t *transport) sleep(ctx context.Context, attempt int) bool {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
