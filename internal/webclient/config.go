package webclient

import "time"

// Backend names registered by RegisterDefaultBackends.
const (
	BackendNetHTTP  = "nethttp"
	BackendChromedp = "chromedp"
)

// Config selects and tunes a WebClient backend. Portals that render their
// listings with JavaScript use the chromedp backend; everything else uses
// plain net/http.
type Config struct {
	Backend   string        `yaml:"backend"`
	Timeout   time.Duration `yaml:"timeout"`
	IdleAfter time.Duration `yaml:"idle_after"`
	Headless  bool          `yaml:"headless"`
	UserAgent string        `yaml:"user_agent"`
}

// DefaultConfig returns the nethttp backend with a 30s timeout.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendNetHTTP,
		Timeout:   30 * time.Second,
		IdleAfter: 2 * time.Second,
		Headless:  true,
	}
}
