package samgov

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/model"
)

// newTestClient returns a client whose sleep records delays instead of
// waiting them out.
func newTestClient(t *testing.T, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(cfg, &http.Client{}, interfaces.NewTestLogger(false))
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func respWithStatus(status int, headers http.Header) *model.Response {
	if headers == nil {
		headers = http.Header{}
	}
	return &model.Response{StatusCode: status, Headers: headers, FetchedAt: time.Now()}
}

func TestExecuteWithRetry_SucceedsOnFifthAttempt(t *testing.T) {
	c, delays := newTestClient(t, DefaultConfig())

	calls := 0
	resp, err := c.ExecuteWithRetry(context.Background(), "search", func(ctx context.Context) (*model.Response, error) {
		calls++
		if calls < 5 {
			return respWithStatus(http.StatusServiceUnavailable, nil), nil
		}
		return respWithStatus(http.StatusOK, nil), nil
	})
	if err != nil {
		t.Fatalf("expected success on 5th attempt: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
	if len(*delays) != 4 {
		t.Fatalf("recorded %d delays, want 4", len(*delays))
	}

	// Geometric growth modulo jitter: each base doubles (2s, 4s, 8s, 16s),
	// jitter adds at most 10%.
	base := 2 * time.Second
	for i, d := range *delays {
		if d < base || d > base+base/10 {
			t.Errorf("delay[%d] = %v, want within [%v, %v]", i, d, base, base+base/10)
		}
		base *= 2
	}
}

func TestExecuteWithRetry_TerminalClientError(t *testing.T) {
	c, delays := newTestClient(t, DefaultConfig())

	calls := 0
	_, err := c.ExecuteWithRetry(context.Background(), "search", func(ctx context.Context) (*model.Response, error) {
		calls++
		return respWithStatus(http.StatusBadRequest, nil), nil
	})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError with 400, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retries for 4xx)", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("recorded %d delays, want 0", len(*delays))
	}
}

func TestExecuteWithRetry_RetryAfterSeconds(t *testing.T) {
	c, delays := newTestClient(t, DefaultConfig())

	calls := 0
	_, err := c.ExecuteWithRetry(context.Background(), "search", func(ctx context.Context) (*model.Response, error) {
		calls++
		if calls == 1 {
			h := http.Header{}
			h.Set("Retry-After", "5")
			return respWithStatus(http.StatusTooManyRequests, h), nil
		}
		return respWithStatus(http.StatusOK, nil), nil
	})
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if len(*delays) != 1 {
		t.Fatalf("recorded %d delays, want 1", len(*delays))
	}
	d := (*delays)[0]
	if d < 5*time.Second || d > 5*time.Second+500*time.Millisecond {
		t.Fatalf("delay = %v, want 5s plus at most 10%% jitter", d)
	}
}

func TestExecuteWithRetry_RetryAfterHTTPDate(t *testing.T) {
	c, delays := newTestClient(t, DefaultConfig())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	calls := 0
	_, err := c.ExecuteWithRetry(context.Background(), "search", func(ctx context.Context) (*model.Response, error) {
		calls++
		if calls == 1 {
			h := http.Header{}
			h.Set("Retry-After", fixed.Add(10*time.Second).Format(http.TimeFormat))
			return respWithStatus(http.StatusTooManyRequests, h), nil
		}
		return respWithStatus(http.StatusOK, nil), nil
	})
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if d := (*delays)[0]; d < 10*time.Second || d > 11*time.Second {
		t.Fatalf("delay = %v, want ~10s", d)
	}
}

func TestExecuteWithRetry_RetryAfterClampedToMaxDelay(t *testing.T) {
	c, delays := newTestClient(t, DefaultConfig())

	calls := 0
	_, _ = c.ExecuteWithRetry(context.Background(), "search", func(ctx context.Context) (*model.Response, error) {
		calls++
		h := http.Header{}
		h.Set("Retry-After", "300")
		return respWithStatus(http.StatusTooManyRequests, h), nil
	})
	for i, d := range *delays {
		if d > 33*time.Second {
			t.Errorf("delay[%d] = %v exceeds 30s clamp plus jitter", i, d)
		}
	}
}

func TestExecuteWithRetry_NetworkErrorsRetried(t *testing.T) {
	c, _ := newTestClient(t, DefaultConfig())

	calls := 0
	_, err := c.ExecuteWithRetry(context.Background(), "search", func(ctx context.Context) (*model.Response, error) {
		calls++
		return nil, fmt.Errorf("connection refused")
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
}

func TestNormalizeDate(t *testing.T) {
	d := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if got := NormalizeDate(d); got != "09/01/2026" {
		t.Fatalf("NormalizeDate = %q, want 09/01/2026", got)
	}
}

func TestDefaultDateWindow(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	from, to := DefaultDateWindow(now)
	if from.Year() != 2026 || from.Month() != time.January || from.Day() != 1 {
		t.Fatalf("from = %v, want Jan 1 2026", from)
	}
	if to.Year() != 2026 || to.Month() != time.December || to.Day() != 31 {
		t.Fatalf("to = %v, want Dec 31 2026", to)
	}
}

func TestExtractNoticeID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://sam.gov/opp/0123456789abcdef0123456789abcdef/view", "0123456789abcdef0123456789abcdef"},
		{"https://sam.gov/search?noticeid=fedcba9876543210fedcba9876543210", "fedcba9876543210fedcba9876543210"},
		{"https://example.gov/detail/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{"https://example.gov/detail/not-an-id", ""},
	}
	for _, tc := range cases {
		if got := ExtractNoticeID(tc.url); got != tc.want {
			t.Errorf("ExtractNoticeID(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
