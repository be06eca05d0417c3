package scanmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
)

// ErrScanNotFound is returned by Subscribe for unknown or already
// cleaned-up scans.
var ErrScanNotFound = errors.New("scan not found")

// Compile-time assertion that Manager satisfies the published interface.
var _ interfaces.ScanManager = (*Manager)(nil)

// Manager owns every in-flight scan: state, event fan-out, per-portal
// history and the safety timeout. It is the sole mutator of all of them.
type Manager struct {
	cfg    Config
	logger logging.Logger
	sched  *scheduler

	// store is optional; terminal summaries and event logs are persisted
	// there best-effort when present.
	store interfaces.Store

	mu      sync.Mutex
	scans   map[string]*model.ScanState
	order   []string // scan ids in admission order, for oldest-first eviction
	subs    map[string]map[int]chan model.ScanEvent
	nextSub int
	history map[string][]model.ScanSummary
	closed  bool
}

// New builds a Manager. store may be nil.
func New(cfg Config, store interfaces.Store, logger logging.Logger) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		sched:   newScheduler(),
		store:   store,
		scans:   make(map[string]*model.ScanState),
		subs:    make(map[string]map[int]chan model.ScanEvent),
		history: make(map[string][]model.ScanSummary),
	}
}

// StartScan admits a new scan in running status. When the active-scan cap
// is reached the oldest active scan is force-failed first so the new scan
// can always be admitted.
func (m *Manager) StartScan(portalID, portalName string) string {
	scanID := uuid.New().String()
	now := time.Now().UTC()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return scanID
	}
	for len(m.scans) >= m.cfg.MaxActiveScans && len(m.order) > 0 {
		oldest := m.order[0]
		m.logLocked(oldest, interfaces.LogError, "scan evicted: active scan limit reached")
		m.completeLocked(oldest, false)
	}

	state := &model.ScanState{
		ID:         scanID,
		PortalID:   portalID,
		PortalName: portalName,
		Status:     model.ScanRunning,
		StartedAt:  now,
		CurrentStep: model.ScanStep{
			Name:     model.StepInitializing,
			Progress: 0,
			Message:  "scan starting",
		},
	}
	m.scans[scanID] = state
	m.order = append(m.order, scanID)
	m.emitLocked(scanID, model.ScanEvent{
		Type:      model.EventScanStarted,
		Timestamp: now,
		Message:   fmt.Sprintf("scan started for %s", portalName),
		Data:      map[string]string{"portal_id": portalID},
	})
	m.mu.Unlock()

	m.sched.Schedule("scan-timeout:"+scanID, now.Add(m.cfg.ScanTimeout), func() {
		m.TimeoutScan(scanID, fmt.Sprintf("scan exceeded %s safety deadline", m.cfg.ScanTimeout))
	})

	if m.logger != nil {
		m.logger.Info("scan started",
			logging.Field{Key: "scan_id", Value: scanID},
			logging.Field{Key: "portal_id", Value: portalID})
	}
	return scanID
}

// UpdateStep replaces the current step wholesale and emits one step_update
// event. Unknown scan ids are a no-op: the scan was already cleaned up.
func (m *Manager) UpdateStep(scanID, step string, progress int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.scans[scanID]
	if !ok || state.Status.Terminal() {
		return
	}
	state.CurrentStep = model.ScanStep{Name: step, Progress: progress, Message: message}
	m.emitLocked(scanID, model.ScanEvent{
		Type:      model.EventStepUpdate,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      state.CurrentStep,
	})
}

// Log records a log line on the scan's stream. Error-level lines are also
// appended to the scan's error list; nothing is ever dropped silently.
func (m *Manager) Log(scanID string, level interfaces.LogLevel, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLocked(scanID, level, message)
}

func (m *Manager) logLocked(scanID string, level interfaces.LogLevel, message string) {
	state, ok := m.scans[scanID]
	if !ok {
		return
	}
	if level == interfaces.LogError {
		state.Errors = append(state.Errors, message)
	}
	evType := model.EventLog
	if level == interfaces.LogError {
		evType = model.EventError
	}
	m.emitLocked(scanID, model.ScanEvent{
		Type:      evType,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Data:      map[string]string{"level": string(level)},
	})
}

// RecordDiscovery appends a discovered opportunity and emits
// rfp_discovered.
func (m *Manager) RecordDiscovery(scanID string, opp model.Opportunity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.scans[scanID]
	if !ok || state.Status.Terminal() {
		return
	}
	state.Discovered = append(state.Discovered, opp)
	m.emitLocked(scanID, model.ScanEvent{
		Type:      model.EventRFPDiscovered,
		Timestamp: time.Now().UTC(),
		Message:   opp.Title,
		Data:      opp,
	})
}

// CompleteScan finishes a scan. Idempotent: missing or already-terminal
// scans are ignored.
func (m *Manager) CompleteScan(scanID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeLocked(scanID, success)
}

func (m *Manager) completeLocked(scanID string, success bool) {
	state, ok := m.scans[scanID]
	if !ok || state.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	state.CompletedAt = &now
	evType := model.EventScanCompleted
	stepName := model.StepCompleted
	if success {
		state.Status = model.ScanCompleted
	} else {
		state.Status = model.ScanFailed
		evType = model.EventScanFailed
		stepName = model.StepFailed
	}
	state.CurrentStep = model.ScanStep{
		Name:     stepName,
		Progress: 100,
		Message:  fmt.Sprintf("scan %s", state.Status),
	}

	duration := now.Sub(state.StartedAt)
	m.emitLocked(scanID, model.ScanEvent{
		Type:      evType,
		Timestamp: now,
		Message:   fmt.Sprintf("scan %s after %s", state.Status, duration.Round(time.Millisecond)),
		Data: map[string]any{
			"duration_ms":      duration.Milliseconds(),
			"discovered_count": len(state.Discovered),
			"error_count":      len(state.Errors),
		},
	})

	summary := model.ScanSummary{
		ScanID:          state.ID,
		PortalID:        state.PortalID,
		PortalName:      state.PortalName,
		Status:          state.Status,
		StartedAt:       state.StartedAt,
		CompletedAt:     now,
		DiscoveredCount: len(state.Discovered),
		ErrorCount:      len(state.Errors),
	}
	hist := append(m.history[state.PortalID], summary)
	if len(hist) > m.cfg.HistoryPerPortal {
		hist = hist[len(hist)-m.cfg.HistoryPerPortal:]
	}
	m.history[state.PortalID] = hist

	if m.store != nil {
		events := append([]model.ScanEvent(nil), state.Events...)
		go m.persist(summary, events)
	}

	m.cleanupLocked(scanID)

	if m.logger != nil {
		m.logger.Info("scan finished",
			logging.Field{Key: "scan_id", Value: scanID},
			logging.Field{Key: "status", Value: string(state.Status)},
			logging.Field{Key: "discovered", Value: len(state.Discovered)})
	}
}

// TimeoutScan force-fails a scan that is still running, with a
// timeout-specific error line first.
func (m *Manager) TimeoutScan(scanID, reason string) {
	if reason == "" {
		reason = "scan timed out"
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.scans[scanID]
	if !ok || state.Status.Terminal() {
		return
	}
	m.logLocked(scanID, interfaces.LogError, reason)
	m.completeLocked(scanID, false)
}

// GetScan returns a snapshot of one active scan, or nil.
func (m *Manager) GetScan(scanID string) *model.ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.scans[scanID]
	if !ok {
		return nil
	}
	return snapshot(state)
}

// ActiveScans returns snapshots of all active scans in admission order.
func (m *Manager) ActiveScans() []*model.ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ScanState, 0, len(m.order))
	for _, id := range m.order {
		if state, ok := m.scans[id]; ok {
			out = append(out, snapshot(state))
		}
	}
	return out
}

// ScanHistory returns up to limit most-recent summaries for a portal,
// newest first.
func (m *Manager) ScanHistory(portalID string, limit int) []model.ScanSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.history[portalID]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]model.ScanSummary, 0, limit)
	for i := len(hist) - 1; i >= len(hist)-limit; i-- {
		out = append(out, hist[i])
	}
	return out
}

// IsPortalScanning reports whether any active scan belongs to the portal.
func (m *Manager) IsPortalScanning(portalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.scans {
		if state.PortalID == portalID {
			return true
		}
	}
	return false
}

// Subscribe returns an ordered event channel for the scan. The first event
// is a synthetic initial_state snapshot. The returned func unsubscribes;
// the channel is also closed when the scan is cleaned up.
func (m *Manager) Subscribe(scanID string) (<-chan model.ScanEvent, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.scans[scanID]
	if !ok {
		return nil, nil, ErrScanNotFound
	}

	ch := make(chan model.ScanEvent, m.cfg.SubscriberBuffer)
	id := m.nextSub
	m.nextSub++
	if m.subs[scanID] == nil {
		m.subs[scanID] = make(map[int]chan model.ScanEvent)
	}
	m.subs[scanID][id] = ch

	ch <- model.ScanEvent{
		Type:      model.EventInitialState,
		Timestamp: time.Now().UTC(),
		Data:      snapshot(state),
	}

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[scanID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
		}
	}
	return ch, unsubscribe, nil
}

// Shutdown clears all timers, channels and state. Safe to call at process
// termination and safe to call twice.
func (m *Manager) Shutdown() {
	m.sched.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for scanID, set := range m.subs {
		for id, ch := range set {
			delete(set, id)
			close(ch)
		}
		delete(m.subs, scanID)
	}
	m.scans = map[string]*model.ScanState{}
	m.order = nil
	m.history = map[string][]model.ScanSummary{}
}

// emitLocked appends to the capped event buffer and fans out to
// subscribers. Slow subscribers lose events rather than block emission.
func (m *Manager) emitLocked(scanID string, ev model.ScanEvent) {
	state, ok := m.scans[scanID]
	if !ok {
		return
	}
	state.Events = append(state.Events, ev)
	if len(state.Events) > m.cfg.MaxEventsPerScan {
		state.Events = state.Events[len(state.Events)-m.cfg.MaxEventsPerScan:]
	}
	for _, ch := range m.subs[scanID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// cleanupLocked releases the scan's channel, timer and state.
func (m *Manager) cleanupLocked(scanID string) {
	m.sched.Cancel("scan-timeout:" + scanID)
	for id, ch := range m.subs[scanID] {
		delete(m.subs[scanID], id)
		close(ch)
	}
	delete(m.subs, scanID)
	delete(m.scans, scanID)
	for i, id := range m.order {
		if id == scanID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) persist(summary model.ScanSummary, events []model.ScanEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveScanSummary(ctx, &summary); err != nil && m.logger != nil {
		m.logger.Warn("persisting scan summary failed",
			logging.Field{Key: "scan_id", Value: summary.ScanID},
			logging.Field{Key: "error", Value: err.Error()})
	}
	if err := m.store.SaveScanEvents(ctx, summary.ScanID, events); err != nil && m.logger != nil {
		m.logger.Warn("persisting scan events failed",
			logging.Field{Key: "scan_id", Value: summary.ScanID},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

// snapshot copies state so callers can't mutate manager-owned memory.
func snapshot(state *model.ScanState) *model.ScanState {
	cp := *state
	cp.Errors = append([]string(nil), state.Errors...)
	cp.Discovered = append([]model.Opportunity(nil), state.Discovered...)
	cp.Events = append([]model.ScanEvent(nil), state.Events...)
	return &cp
}
