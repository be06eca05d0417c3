package model

import "time"

// WorkItemStatus tracks a delegated stage's work item in storage.
type WorkItemStatus string

const (
	WorkPending   WorkItemStatus = "pending"
	WorkActive    WorkItemStatus = "active"
	WorkCompleted WorkItemStatus = "completed"
	WorkFailed    WorkItemStatus = "failed"
)

// WorkItem is the structured input handed to a delegated stage. PortalID,
// ScanID and SequenceID are required; their absence is a fatal input error.
type WorkItem struct {
	ID         string         `json:"id"`
	PortalID   string         `json:"portal_id"`
	ScanID     string         `json:"scan_id"`
	SequenceID string         `json:"sequence_id"`
	TaskType   string         `json:"task_type"`
	Status     WorkItemStatus `json:"status"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at,omitempty"`
}

// StageProgress holds the four independent 0-100 counters of a sequence.
type StageProgress struct {
	Authentication int `json:"authentication"`
	Scanning       int `json:"scanning"`
	Extraction     int `json:"extraction"`
	Monitoring     int `json:"monitoring"`
}

// PortalWorkContext is shared by reference across the stages of one
// discovery sequence. It is created when the first stage begins and deleted
// when the sequence completes or fails terminally.
type PortalWorkContext struct {
	PortalID   string `json:"portal_id"`
	PortalName string `json:"portal_name"`
	ScanID     string `json:"scan_id"`
	SequenceID string `json:"sequence_id"`

	// Session artifacts from the authenticate stage.
	SessionToken  string    `json:"-"`
	Authenticated bool      `json:"authenticated"`
	AuthExpiry    time.Time `json:"auth_expiry,omitempty"`

	// ContentMap is the navigation map built by the scan stage: candidate
	// listing URLs discovered on the portal.
	ContentMap []string `json:"content_map,omitempty"`

	Opportunities []Opportunity `json:"opportunities,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
	Progress      StageProgress `json:"progress"`

	StartedAt time.Time `json:"started_at"`
}

// SpecialistAssignment records which capability-matched agent owns a stage.
// ExpectedCompletion is advisory metadata for stall detection; the
// coordinator does not enforce it.
type SpecialistAssignment struct {
	WorkItemID         string    `json:"work_item_id"`
	AgentID            string    `json:"agent_id"`
	TaskType           string    `json:"task_type"`
	AssignedAt         time.Time `json:"assigned_at"`
	ExpectedCompletion time.Time `json:"expected_completion"`
}

// MonitoringConfig is assembled by the monitor stage and handed off; no
// recurring poller consumes it in this process.
type MonitoringConfig struct {
	PortalID       string `json:"portal_id"`
	Enabled        bool   `json:"enabled"`
	CheckFrequency int    `json:"check_frequency_minutes"`
	Fingerprint    string `json:"fingerprint,omitempty"`
}

// SequenceReport is the final report of a discovery sequence.
type SequenceReport struct {
	SequenceID string `json:"sequence_id"`
	PortalID   string `json:"portal_id"`
	ScanID     string `json:"scan_id"`

	Authenticated bool `json:"authenticated"`
	Scanned       bool `json:"scanned"`
	Extracted     bool `json:"extracted"`
	Monitored     bool `json:"monitored"`

	OpportunityCount int           `json:"opportunity_count"`
	PageCount        int           `json:"page_count"`
	Elapsed          time.Duration `json:"elapsed"`
	Errors           []string      `json:"errors,omitempty"`

	Monitoring *MonitoringConfig `json:"monitoring,omitempty"`

	// ChangeSummary is the monitor stage's diff against the previous scan's
	// content fingerprint, empty on a portal's first scan.
	ChangeSummary string `json:"change_summary,omitempty"`
}
