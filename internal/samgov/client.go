package samgov

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
)

// Config tunes the resilient client for the external search API.
type Config struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`

	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`

	// RequestsPerSecond caps outbound call rate ahead of any retry logic.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultConfig returns the documented defaults: 5 attempts, 2s initial
// delay, 2x multiplier, 30s clamp.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://api.sam.gov/opportunities/v2",
		MaxAttempts:       5,
		InitialDelay:      2 * time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        2,
		RequestsPerSecond: 2,
	}
}

// APIError carries the upstream status so retry classification can see it.
type APIError struct {
	StatusCode int
	Status     string
	RetryAfter string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s", e.Status)
}

// Retryable reports whether the upstream status is worth retrying: any 5xx
// and 429 are; every other 4xx is terminal.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client wraps calls to the external paginated search API with rate
// limiting and rate-limit-aware retry.
type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *rate.Limiter
	logger  logging.Logger

	// sleep is injectable so tests can observe computed delays without
	// waiting them out.
	sleep func(ctx context.Context, d time.Duration) error

	// now is injectable for HTTP-date Retry-After parsing in tests.
	now func() time.Time
}

// NewClient builds a Client. A nil httpClient gets a default with a 30s
// timeout.
func NewClient(cfg Config, httpClient *http.Client, logger logging.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		cfg:     cfg,
		hc:      httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		now: time.Now,
	}
}

// HasKey reports whether an API key is configured. Extraction uses this to
// decide between the API path and markup scraping.
func (c *Client) HasKey() bool {
	return c.cfg.APIKey != ""
}

// ExecuteWithRetry runs op until it succeeds, fails terminally, or the
// attempt budget is exhausted. Network failures, 5xx and 429 are retried;
// other 4xx are re-raised immediately.
func (c *Client) ExecuteWithRetry(ctx context.Context, operation string, op func(context.Context) (*model.Response, error)) (*model.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", operation, err)
		}

		resp, err := op(ctx)
		if err == nil && resp != nil && resp.StatusCode < 400 {
			if attempt > 0 && c.logger != nil {
				c.logger.Info("api call succeeded after retries",
					logging.Field{Key: "operation", Value: operation},
					logging.Field{Key: "attempt", Value: attempt + 1})
			}
			c.logRateHeaders(operation, resp)
			return resp, nil
		}

		var apiErr *APIError
		if err != nil {
			// Network-level failure; always retryable.
			lastErr = err
		} else {
			apiErr = &APIError{
				StatusCode: resp.StatusCode,
				Status:     http.StatusText(resp.StatusCode),
				RetryAfter: resp.Headers.Get("Retry-After"),
				Body:       truncate(string(resp.Body), 512),
			}
			lastErr = apiErr
			if !apiErr.Retryable() {
				if c.logger != nil {
					c.logger.Error("api call failed with terminal status",
						logging.Field{Key: "operation", Value: operation},
						logging.Field{Key: "status", Value: resp.StatusCode})
				}
				return nil, apiErr
			}
		}

		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		delay := c.retryDelay(attempt, apiErr)
		if c.logger != nil {
			c.logger.Warn("api call failed, retrying",
				logging.Field{Key: "operation", Value: operation},
				logging.Field{Key: "attempt", Value: attempt + 1},
				logging.Field{Key: "delay", Value: delay.String()},
				logging.Field{Key: "error", Value: lastErr.Error()})
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s: canceled during backoff: %w", operation, err)
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", operation, c.cfg.MaxAttempts, lastErr)
}

// retryDelay honors Retry-After when present, otherwise uses exponential
// backoff. Both paths add jitter and clamp to MaxDelay.
func (c *Client) retryDelay(attempt int, apiErr *APIError) time.Duration {
	var base time.Duration

	if apiErr != nil && apiErr.RetryAfter != "" {
		base = c.parseRetryAfter(apiErr.RetryAfter)
	}
	if base <= 0 {
		base = time.Duration(float64(c.cfg.InitialDelay) * pow(c.cfg.Multiplier, attempt))
	}
	if base > c.cfg.MaxDelay {
		base = c.cfg.MaxDelay
	}

	// Up to 10% jitter so synchronized clients don't stampede.
	jitter := time.Duration(rand.Int63n(int64(base)/10 + 1))
	delay := base + jitter
	if delay > c.cfg.MaxDelay+jitter {
		delay = c.cfg.MaxDelay
	}
	return delay
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func (c *Client) parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(c.now()); d > 0 {
			return d
		}
	}
	return 0
}

// logRateHeaders records upstream rate-limit headers; nothing acts on them
// outside the retry path.
func (c *Client) logRateHeaders(operation string, resp *model.Response) {
	if c.logger == nil || resp == nil {
		return
	}
	remaining := resp.Headers.Get("X-RateLimit-Remaining")
	limit := resp.Headers.Get("X-RateLimit-Limit")
	if remaining == "" && limit == "" {
		return
	}
	c.logger.Debug("upstream rate limit",
		logging.Field{Key: "operation", Value: operation},
		logging.Field{Key: "remaining", Value: remaining},
		logging.Field{Key: "limit", Value: limit})
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
