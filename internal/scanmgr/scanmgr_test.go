package scanmgr

import (
	"testing"
	"time"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/model"
)

func newTestManager(cfg Config) *Manager {
	return New(cfg, nil, interfaces.NewTestLogger(false))
}

// drain reads events until the channel closes or the deadline passes.
func drain(t *testing.T, ch <-chan model.ScanEvent) []model.ScanEvent {
	t.Helper()
	var events []model.ScanEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out draining event channel, got %d events", len(events))
		}
	}
}

func countType(events []model.ScanEvent, typ model.ScanEventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestStartScanCreatesRunningScan(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	if id == "" {
		t.Fatal("StartScan returned empty id")
	}

	state := m.GetScan(id)
	if state == nil {
		t.Fatal("GetScan returned nil for active scan")
	}
	if state.Status != model.ScanRunning {
		t.Errorf("status = %q, want %q", state.Status, model.ScanRunning)
	}
	if state.PortalID != "p1" || state.PortalName != "Acme Portal" {
		t.Errorf("portal = %q/%q, want p1/Acme Portal", state.PortalID, state.PortalName)
	}
	if state.CurrentStep.Name != model.StepInitializing || state.CurrentStep.Progress != 0 {
		t.Errorf("initial step = %+v", state.CurrentStep)
	}
	if got := countType(state.Events, model.EventScanStarted); got != 1 {
		t.Errorf("scan_started events = %d, want 1", got)
	}
	if !m.IsPortalScanning("p1") {
		t.Error("IsPortalScanning(p1) = false, want true")
	}
	if m.IsPortalScanning("other") {
		t.Error("IsPortalScanning(other) = true, want false")
	}
}

func TestUpdateStepReplacesStepAndEmitsOneEvent(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	m.UpdateStep(id, "authenticating", 10, "logging in")
	m.UpdateStep(id, model.StepExtracting, 50, "crawling listings")

	state := m.GetScan(id)
	if state.CurrentStep.Name != model.StepExtracting {
		t.Errorf("step = %q, want %q", state.CurrentStep.Name, model.StepExtracting)
	}
	if state.CurrentStep.Progress != 50 {
		t.Errorf("progress = %d, want 50", state.CurrentStep.Progress)
	}
	if got := countType(state.Events, model.EventStepUpdate); got != 2 {
		t.Errorf("step_update events = %d, want 2", got)
	}
}

func TestErrorLogAppendsToErrorList(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	m.Log(id, interfaces.LogInfo, "just a note")
	m.Log(id, interfaces.LogError, "login failed")

	state := m.GetScan(id)
	if len(state.Errors) != 1 || state.Errors[0] != "login failed" {
		t.Errorf("errors = %v, want [login failed]", state.Errors)
	}
	if got := countType(state.Events, model.EventLog); got != 1 {
		t.Errorf("log events = %d, want 1", got)
	}
	if got := countType(state.Events, model.EventError); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
}

func TestRecordDiscoveryAppendsAndEmits(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	m.RecordDiscovery(id, model.Opportunity{Title: "Road resurfacing RFP"})
	m.RecordDiscovery(id, model.Opportunity{Title: "IT services RFQ"})

	state := m.GetScan(id)
	if len(state.Discovered) != 2 {
		t.Fatalf("discovered = %d, want 2", len(state.Discovered))
	}
	if got := countType(state.Events, model.EventRFPDiscovered); got != 2 {
		t.Errorf("rfp_discovered events = %d, want 2", got)
	}
}

func TestCompleteScanIsIdempotent(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	ch, _, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.CompleteScan(id, true)
	m.CompleteScan(id, true)
	m.CompleteScan(id, false)

	events := drain(t, ch)
	if got := countType(events, model.EventScanCompleted); got != 1 {
		t.Errorf("scan_completed events = %d, want 1", got)
	}
	if got := countType(events, model.EventScanFailed); got != 0 {
		t.Errorf("scan_failed events = %d, want 0", got)
	}

	hist := m.ScanHistory("p1", 0)
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	if hist[0].Status != model.ScanCompleted {
		t.Errorf("history status = %q, want %q", hist[0].Status, model.ScanCompleted)
	}
	if m.GetScan(id) != nil {
		t.Error("completed scan still present in active set")
	}
}

func TestActiveScanCapEvictsOldest(t *testing.T) {
	m := newTestManager(Config{MaxActiveScans: 2})
	defer m.Shutdown()

	first := m.StartScan("p1", "Portal One")
	second := m.StartScan("p2", "Portal Two")
	third := m.StartScan("p3", "Portal Three")

	active := m.ActiveScans()
	if len(active) != 2 {
		t.Fatalf("active scans = %d, want 2", len(active))
	}
	if active[0].ID != second || active[1].ID != third {
		t.Errorf("active order = %s, %s; want %s, %s", active[0].ID, active[1].ID, second, third)
	}
	if m.GetScan(first) != nil {
		t.Error("evicted scan still active")
	}

	hist := m.ScanHistory("p1", 0)
	if len(hist) != 1 || hist[0].Status != model.ScanFailed {
		t.Errorf("evicted scan history = %+v, want one failed entry", hist)
	}
}

func TestEventBufferDropsOldestFirst(t *testing.T) {
	m := newTestManager(Config{MaxEventsPerScan: 5})
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	for i := 0; i < 10; i++ {
		m.Log(id, interfaces.LogInfo, "tick")
	}

	state := m.GetScan(id)
	if len(state.Events) != 5 {
		t.Fatalf("buffered events = %d, want 5", len(state.Events))
	}
	// The scan_started event was the oldest and must be gone.
	if got := countType(state.Events, model.EventScanStarted); got != 0 {
		t.Errorf("scan_started still buffered after overflow")
	}
	for _, ev := range state.Events {
		if ev.Type != model.EventLog {
			t.Errorf("unexpected event type %q after overflow", ev.Type)
		}
	}
}

func TestScanHistoryNewestFirstAndCapped(t *testing.T) {
	m := newTestManager(Config{HistoryPerPortal: 3})
	defer m.Shutdown()

	var last string
	for i := 0; i < 5; i++ {
		id := m.StartScan("p1", "Acme Portal")
		m.CompleteScan(id, true)
		last = id
	}

	hist := m.ScanHistory("p1", 0)
	if len(hist) != 3 {
		t.Fatalf("history entries = %d, want 3", len(hist))
	}
	if hist[0].ScanID != last {
		t.Errorf("history[0] = %s, want most recent %s", hist[0].ScanID, last)
	}

	if got := m.ScanHistory("p1", 2); len(got) != 2 {
		t.Errorf("limited history = %d entries, want 2", len(got))
	}
}

func TestSubscribeDeliversInitialStateFirst(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	m.UpdateStep(id, "authenticating", 10, "logging in")

	ch, unsubscribe, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	first := <-ch
	if first.Type != model.EventInitialState {
		t.Fatalf("first event = %q, want %q", first.Type, model.EventInitialState)
	}
	snap, ok := first.Data.(*model.ScanState)
	if !ok {
		t.Fatalf("initial_state data is %T, want *model.ScanState", first.Data)
	}
	if snap.CurrentStep.Name != "authenticating" {
		t.Errorf("snapshot step = %q, want authenticating", snap.CurrentStep.Name)
	}

	m.UpdateStep(id, model.StepExtracting, 50, "crawling")
	next := <-ch
	if next.Type != model.EventStepUpdate {
		t.Errorf("second event = %q, want %q", next.Type, model.EventStepUpdate)
	}
}

func TestSubscribeUnknownScan(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	if _, _, err := m.Subscribe("no-such-scan"); err != ErrScanNotFound {
		t.Errorf("err = %v, want ErrScanNotFound", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	ch, unsubscribe, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsubscribe()
	unsubscribe() // second call must be harmless

	m.UpdateStep(id, model.StepExtracting, 50, "crawling")

	events := drain(t, ch)
	if countType(events, model.EventStepUpdate) != 0 {
		t.Error("received events after unsubscribe")
	}
}

func TestTimeoutScanForceFails(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	ch, _, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.TimeoutScan(id, "scan exceeded deadline")
	m.TimeoutScan(id, "scan exceeded deadline")

	events := drain(t, ch)
	if got := countType(events, model.EventScanFailed); got != 1 {
		t.Errorf("scan_failed events = %d, want 1", got)
	}
	if got := countType(events, model.EventError); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
	hist := m.ScanHistory("p1", 0)
	if len(hist) != 1 || hist[0].Status != model.ScanFailed {
		t.Errorf("history = %+v, want one failed entry", hist)
	}
	if hist[0].ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", hist[0].ErrorCount)
	}
}

func TestSafetyTimeoutFiresAutomatically(t *testing.T) {
	m := newTestManager(Config{ScanTimeout: 20 * time.Millisecond})
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	ch, _, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	events := drain(t, ch)
	if got := countType(events, model.EventScanFailed); got != 1 {
		t.Errorf("scan_failed events = %d, want 1", got)
	}
}

func TestFullScanSequence(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	ch, _, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.UpdateStep(id, "authenticating", 10, "logging in")
	m.RecordDiscovery(id, model.Opportunity{Title: "Bridge inspection RFP"})
	m.CompleteScan(id, true)

	events := drain(t, ch)
	wantOrder := []model.ScanEventType{
		model.EventInitialState,
		model.EventStepUpdate,
		model.EventRFPDiscovered,
		model.EventScanCompleted,
	}
	if len(events) != len(wantOrder) {
		t.Fatalf("events = %d, want %d: %+v", len(events), len(wantOrder), events)
	}
	for i, want := range wantOrder {
		if events[i].Type != want {
			t.Errorf("events[%d] = %q, want %q", i, events[i].Type, want)
		}
	}

	hist := m.ScanHistory("p1", 0)
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	if hist[0].Status != model.ScanCompleted || hist[0].DiscoveredCount != 1 {
		t.Errorf("history = %+v, want completed with 1 discovery", hist[0])
	}
}

func TestMutationsAfterTerminalAreIgnored(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	m.CompleteScan(id, true)

	m.UpdateStep(id, model.StepExtracting, 50, "too late")
	m.RecordDiscovery(id, model.Opportunity{Title: "too late"})
	m.Log(id, interfaces.LogError, "too late")

	hist := m.ScanHistory("p1", 0)
	if hist[0].DiscoveredCount != 0 || hist[0].ErrorCount != 0 {
		t.Errorf("post-terminal mutations leaked into history: %+v", hist[0])
	}
}

func TestShutdownIsSafeToCallTwice(t *testing.T) {
	m := newTestManager(DefaultConfig())

	id := m.StartScan("p1", "Acme Portal")
	ch, _, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m.Shutdown()
	m.Shutdown()

	events := drain(t, ch)
	if got := countType(events, model.EventInitialState); got != 1 {
		t.Errorf("initial_state events before shutdown = %d, want 1", got)
	}
	if len(m.ActiveScans()) != 0 {
		t.Error("active scans survived shutdown")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := newTestManager(DefaultConfig())
	defer m.Shutdown()

	id := m.StartScan("p1", "Acme Portal")
	m.RecordDiscovery(id, model.Opportunity{Title: "original"})

	snap := m.GetScan(id)
	snap.Discovered[0].Title = "mutated"
	snap.Status = model.ScanFailed

	again := m.GetScan(id)
	if again.Discovered[0].Title != "original" {
		t.Error("caller mutation reached manager state")
	}
	if again.Status != model.ScanRunning {
		t.Errorf("status = %q, want running", again.Status)
	}
}
