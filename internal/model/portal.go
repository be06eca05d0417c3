package model

// PortalType identifies the family of procurement portal, used to pick
// extraction fingerprints.
type PortalType string

const (
	PortalSAMGov   PortalType = "sam_gov"
	PortalStateBid PortalType = "state_bid"
	PortalGeneric  PortalType = "generic"
)

// Portal is a registered procurement portal to scan.
type Portal struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	URL  string     `json:"url"`
	Type PortalType `json:"type"`

	// RequiresLogin marks portals whose content sits behind a session.
	RequiresLogin bool `json:"requires_login"`

	// CheckFrequency is the monitoring poll interval in minutes, handed to
	// the monitoring configuration as-is.
	CheckFrequency int `json:"check_frequency,omitempty"`

	CreatedAt  int64 `json:"created_at"`
	LastScanAt int64 `json:"last_scan_at,omitempty"`
}

// PortalCredentials are login credentials for a portal, fetched separately
// from the Portal record so plain reads never carry secrets.
type PortalCredentials struct {
	PortalID string `json:"portal_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	LoginURL string `json:"login_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// Configured reports whether any login is configured at all. Portals
// without credentials authenticate trivially.
func (c *PortalCredentials) Configured() bool {
	return c != nil && (c.Username != "" || c.APIKey != "")
}
