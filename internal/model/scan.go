package model

import "time"

// ScanStatus is the lifecycle state of a portal scan.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// Well-known step names emitted during a discovery sequence.
const (
	StepInitializing  = "initializing"
	StepAuthenticated = "authenticated"
	StepExtracting    = "extracting"
	StepParsing       = "parsing"
	StepCompleted     = "completed"
	StepFailed        = "failed"
)

// ScanStep is a value describing where a scan currently is. It is replaced
// wholesale on every transition; progress is 0-100 within the step.
type ScanStep struct {
	Name     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// ScanEventType enumerates the event kinds published on a scan's stream.
type ScanEventType string

const (
	EventScanStarted   ScanEventType = "scan_started"
	EventStepUpdate    ScanEventType = "step_update"
	EventLog           ScanEventType = "log"
	EventRFPDiscovered ScanEventType = "rfp_discovered"
	EventError         ScanEventType = "error"
	EventScanCompleted ScanEventType = "scan_completed"
	EventScanFailed    ScanEventType = "scan_failed"

	// EventInitialState is synthesized for new stream subscribers only;
	// it never appears in a scan's stored event history.
	EventInitialState ScanEventType = "initial_state"
)

// ScanEvent is an immutable, append-only record on a scan's event stream.
type ScanEvent struct {
	Type      ScanEventType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message,omitempty"`
	Data      any           `json:"data,omitempty"`
}

// ScanState is the authoritative in-memory record of one in-flight scan.
// It is created by the scan manager and mutated only by it.
type ScanState struct {
	ID          string     `json:"scan_id"`
	PortalID    string     `json:"portal_id"`
	PortalName  string     `json:"portal_name"`
	Status      ScanStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CurrentStep ScanStep      `json:"current_step"`
	Errors      []string      `json:"errors,omitempty"`
	Discovered  []Opportunity `json:"discovered_items,omitempty"`

	// Events is capped; oldest entries are evicted first.
	Events []ScanEvent `json:"events,omitempty"`
}

// ScanSummary is the compact record kept in per-portal history after the
// full ScanState has been released.
type ScanSummary struct {
	ScanID          string     `json:"scan_id"`
	PortalID        string     `json:"portal_id"`
	PortalName      string     `json:"portal_name"`
	Status          ScanStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     time.Time  `json:"completed_at"`
	DiscoveredCount int        `json:"discovered_count"`
	ErrorCount      int        `json:"error_count"`
}
