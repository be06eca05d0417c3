package server

// CreatePortalRequest is the payload for registering a procurement portal.
type CreatePortalRequest struct {
	Name           string `json:"name" example:"California eProcure"`
	URL            string `json:"url" example:"https://caleprocure.ca.gov"`
	Type           string `json:"type" example:"state_bid"`
	RequiresLogin  bool   `json:"requires_login" example:"false"`
	CheckFrequency int    `json:"check_frequency" example:"60"`

	// Credentials are stored apart from the portal record.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	LoginURL string `json:"login_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// StartScanResponse hands back the ids needed to follow a scan.
type StartScanResponse struct {
	ScanID     string `json:"scan_id" example:"8b5c2f64-4c5a-4eab-9d2e-1f1f4f6f9a10"`
	WorkItemID string `json:"work_item_id" example:"0d9c78be-6db2-4a37-a249-52a1f25d2fd2"`
	PortalID   string `json:"portal_id" example:"p1"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
