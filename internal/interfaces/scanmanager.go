package interfaces

import "github.com/opphound/opphound/internal/model"

// LogLevel classifies a scan log line.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// ScanManager owns the authoritative state of every in-flight scan. All
// other components mutate scan state only through these operations.
type ScanManager interface {
	StartScan(portalID, portalName string) string
	UpdateStep(scanID, step string, progress int, message string)
	Log(scanID string, level LogLevel, message string)
	RecordDiscovery(scanID string, opp model.Opportunity)
	CompleteScan(scanID string, success bool)
	TimeoutScan(scanID, reason string)

	GetScan(scanID string) *model.ScanState
	ActiveScans() []*model.ScanState
	ScanHistory(portalID string, limit int) []model.ScanSummary
	IsPortalScanning(portalID string) bool

	// Subscribe returns an ordered event channel for one scan plus an
	// unsubscribe func. The channel is closed when the scan is cleaned up
	// or the subscriber unsubscribes.
	Subscribe(scanID string) (<-chan model.ScanEvent, func(), error)

	Shutdown()
}
