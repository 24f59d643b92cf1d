// Package retry wraps a feed provider with bounded retries for transient
// store failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chokli/nifty-backtest/internal/feed"
	"github.com/chokli/nifty-backtest/internal/models"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is tuned for per-day blob fetches.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries feed fetches on transient errors. It implements
// feed.Provider so it can stack under the circuit breaker decorator.
type Client struct {
	provider feed.Provider
	logger   *logrus.Logger
	config   Config
}

// Ensure Client implements feed.Provider at compile time.
var _ feed.Provider = (*Client)(nil)

// NewClient wraps a provider with retry behavior.
func NewClient(provider feed.Provider, logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		provider: provider,
		logger:   logger,
		config:   cfg,
	}
}

// OptionChain fetches the option blob for a date, retrying transient failures.
func (c *Client) OptionChain(ctx context.Context, date string) ([]models.OptionRecord, error) {
	return fetchWithRetry(ctx, c, "option chain", date, func(fetchCtx context.Context) ([]models.OptionRecord, error) {
		return c.provider.OptionChain(fetchCtx, date)
	})
}

// SpotSeries fetches the spot blob for a date, retrying transient failures.
func (c *Client) SpotSeries(ctx context.Context, date string) ([]models.Candle, error) {
	return fetchWithRetry(ctx, c, "spot series", date, func(fetchCtx context.Context) ([]models.Candle, error) {
		return c.provider.SpotSeries(fetchCtx, date)
	})
}

func fetchWithRetry[T any](
	ctx context.Context,
	c *Client,
	what, date string,
	fetch func(context.Context) (T, error),
) (T, error) {
	var zero T

	fetchCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := fetchCtx.Err(); err != nil {
			return zero, fmt.Errorf("%s fetch for %s canceled: %w", what, date, err)
		}

		result, err := fetch(fetchCtx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"date":    date,
			"attempt": attempt + 1,
		}).Warnf("%s fetch failed: %v", what, err)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-fetchCtx.Done():
			return zero, fmt.Errorf("%s fetch for %s timed out during backoff: %w", what, date, fetchCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s fetch for %s failed after %d attempts: %w",
		what, date, c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Warnf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// isTransientError reports whether a fetch error is worth retrying. Missing
// blobs and malformed records are definitive answers and never retried.
func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, feed.ErrDataUnavailable) {
		return false
	}
	var malformed *feed.MalformedRecordError
	if errors.As(err, &malformed) {
		return false
	}

	var apiErr *feed.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
