package webclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/opphound/opphound/internal/interfaces"
)

// RegisterDefaultBackends registers the default nethttp and chromedp backends.
// Call this early in main() to make backends available to New.
func RegisterDefaultBackends() {
	RegisterBackend(BackendNetHTTP, func(cfg Config, logger interfaces.Logger) (interfaces.WebClient, error) {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		client := &http.Client{Timeout: timeout}

		if logger != nil {
			logger.Debug("created nethttp webclient", interfaces.Field{Key: "timeout", Value: timeout.String()})
		}

		return NewNetHTTPClient(client, cfg.UserAgent, logger), nil
	})

	RegisterBackend(BackendChromedp, func(cfg Config, logger interfaces.Logger) (interfaces.WebClient, error) {
		idleAfter := cfg.IdleAfter
		if idleAfter <= 0 {
			idleAfter = 2 * time.Second
		}

		var opts []chromedp.ExecAllocatorOption
		if !cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}

		client, err := NewChromeDPClient(idleAfter, opts...)
		if err != nil {
			return nil, fmt.Errorf("create chromedp client: %w", err)
		}

		if logger != nil {
			logger.Debug("created chromedp webclient", interfaces.Field{Key: "idle_after", Value: idleAfter.String()})
		}

		return client, nil
	})
}
