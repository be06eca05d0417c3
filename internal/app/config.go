package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opphound/opphound/internal/coordinator"
	"github.com/opphound/opphound/internal/samgov"
	"github.com/opphound/opphound/internal/scanmgr"
	"github.com/opphound/opphound/internal/webclient"
)

// Config is the full runtime configuration, assembled from the per-module
// configs so a single YAML file can drive the whole pipeline.
type Config struct {
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`

	ScanMgr     scanmgr.Config     `yaml:"scan_manager"`
	Coordinator coordinator.Config `yaml:"coordinator"`

	// WebClient is the default fetch backend. Portals that require a login
	// are driven through the chromedp backend instead when
	// BrowserForLogins is set.
	WebClient        webclient.Config `yaml:"web_client"`
	BrowserForLogins bool             `yaml:"browser_for_logins"`

	// SAMGov enables the federal API extractor when an API key is set.
	SAMGov samgov.Config `yaml:"sam_gov"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  ":8080",
		DBPath:      "opphound.db",
		ScanMgr:     scanmgr.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		WebClient:   webclient.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
