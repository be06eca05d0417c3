package model

import "time"

// Opportunity is a discovered procurement record, the unit of work product
// handed to storage. Confidence is 0.0-1.0.
type Opportunity struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Agency         string     `json:"agency,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	EstimatedValue float64    `json:"estimated_value,omitempty"`
	SourceURL      string     `json:"source_url"`
	Category       string     `json:"category,omitempty"`
	NoticeID       string     `json:"notice_id,omitempty"`
	Confidence     float64    `json:"confidence"`
}

// ContentKind classifies raw page or API content for extractor selection.
type ContentKind string

const (
	ContentAPI    ContentKind = "api"    // JSON / structured API payload
	ContentMarkup ContentKind = "markup" // HTML with structural indicators
	ContentPlain  ContentKind = "plain"  // free text, no structure detected
)

// ContentAnalysis is derived from raw content, never persisted.
type ContentAnalysis struct {
	Kind ContentKind `json:"kind"`

	// Structural indicators found in markup content.
	HasTables   bool `json:"has_tables"`
	HasListings bool `json:"has_listings"`
	HasJSONLD   bool `json:"has_json_ld"`

	// RFP-domain keyword presence.
	Keywords []string `json:"keywords,omitempty"`

	// PortalScore is the fingerprint match against the target portal type.
	PortalScore float64 `json:"portal_score"`

	// Confidence combines the above into a single 0.0-1.0 value.
	Confidence float64 `json:"confidence"`

	Recommended []string `json:"recommended_extractors,omitempty"`
}
