package scanmgr

import "time"

// Config bounds the manager's resources.
type Config struct {
	// MaxActiveScans caps the active-scan set; the oldest scan is forced
	// out when a new one would exceed it.
	MaxActiveScans int `yaml:"max_active_scans"`

	// MaxEventsPerScan caps each scan's event buffer, oldest evicted first.
	MaxEventsPerScan int `yaml:"max_events_per_scan"`

	// HistoryPerPortal caps the per-portal summary history.
	HistoryPerPortal int `yaml:"history_per_portal"`

	// ScanTimeout is the absolute safety deadline; a scan never completed
	// by its driving workflow is force-failed at this age.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// SubscriberBuffer is each subscriber channel's capacity. Slow
	// subscribers drop events rather than block emission.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxActiveScans:   10,
		MaxEventsPerScan: 100,
		HistoryPerPortal: 20,
		ScanTimeout:      30 * time.Minute,
		SubscriberBuffer: 32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxActiveScans <= 0 {
		c.MaxActiveScans = d.MaxActiveScans
	}
	if c.MaxEventsPerScan <= 0 {
		c.MaxEventsPerScan = d.MaxEventsPerScan
	}
	if c.HistoryPerPortal <= 0 {
		c.HistoryPerPortal = d.HistoryPerPortal
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	return c
}
