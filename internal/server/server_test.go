package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opphound/opphound/internal/agents"
	"github.com/opphound/opphound/internal/coordinator"
	"github.com/opphound/opphound/internal/extraction"
	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/scanmgr"
	"github.com/opphound/opphound/internal/server"
	"github.com/opphound/opphound/internal/storage"
	"github.com/opphound/opphound/internal/testutil"
)

const bidsPageHTML = `<html><body>
<h1>Current Bid Opportunities</h1>
<table>
  <thead><tr><th>Title</th><th>Agency</th><th>Due Date</th></tr></thead>
  <tbody>
    <tr><td><a href="/opp/101">Road Resurfacing RFP</a></td><td>Dept of Transportation</td><td>2026-10-15</td></tr>
    <tr><td><a href="/opp/102">IT Services RFQ</a></td><td>Office of Technology</td><td>2026-11-01</td></tr>
  </tbody>
</table>
</body></html>`

type fixture struct {
	srv   *server.Server
	store *storage.SQLiteStore
	scans *scanmgr.Manager
	wc    *testutil.DummyWebClient
}

func newTestServer(t *testing.T) *fixture {
	t.Helper()

	logger := &testutil.DummyLogger{}

	store, err := storage.Open(filepath.Join(t.TempDir(), "opphound.db"), logger)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	scans := scanmgr.New(scanmgr.DefaultConfig(), nil, logger)
	t.Cleanup(scans.Shutdown)

	wc := &testutil.DummyWebClient{
		Pages: map[string]string{
			"https://portal.example":      `<html><body><a href="/bids">Bid Opportunities</a></body></html>`,
			"https://portal.example/bids": bidsPageHTML,
		},
	}
	factory := func(*model.Portal) (interfaces.WebClient, error) { return wc, nil }

	engine := extraction.NewEngine(nil, extraction.NewStructuredExtractor(), extraction.NewGenericExtractor())
	registry := agents.NewDefaultRegistry(nil)
	coord := coordinator.New(coordinator.DefaultConfig(), store, registry, scans, engine, factory, logger)
	t.Cleanup(func() { coord.Close() })

	srv := server.NewServer(server.Config{ListenAddr: ":0", Logger: logger}, store, scans, coord)
	return &fixture{srv: srv, store: store, scans: scans, wc: wc}
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

func createPortal(t *testing.T, f *fixture) model.Portal {
	t.Helper()
	rec := doJSON(t, f.srv, "POST", "/portals",
		`{"name":"Acme Portal","url":"https://portal.example","type":"state_bid"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create portal: status %d (body: %s)", rec.Code, rec.Body.String())
	}
	var p model.Portal
	decodeJSON(t, rec, &p)
	return p
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "GET", "/portals", "")

	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
}

// ─── Portals ───────────────────────────────────────────────────────────

func TestServer_CreatePortal(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "POST", "/portals",
		`{"name":"Acme Portal","url":"https://portal.example","type":"state_bid","requires_login":true,"username":"buyer","password":"hunter2","login_url":"https://portal.example/login"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", rec.Code, rec.Body.String())
	}

	var p model.Portal
	decodeJSON(t, rec, &p)
	if p.ID == "" {
		t.Fatal("created portal has no ID")
	}
	if !p.RequiresLogin {
		t.Error("requires_login not persisted")
	}

	_, creds, err := f.store.GetPortalWithCredentials(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPortalWithCredentials: %v", err)
	}
	if creds == nil || creds.Username != "buyer" {
		t.Errorf("credentials not stored alongside portal: %+v", creds)
	}
}

func TestServer_CreatePortal_MissingFields(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "POST", "/portals", `{"url":"https://portal.example"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServer_ListPortals_Empty(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "GET", "/portals", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var portals []model.Portal
	decodeJSON(t, rec, &portals)
	if len(portals) != 0 {
		t.Errorf("expected empty list, got %d portals", len(portals))
	}
}

// ─── Scans ─────────────────────────────────────────────────────────────

func TestServer_StartScan_RunsToCompletion(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)
	p := createPortal(t, f)

	rec := doJSON(t, f.srv, "POST", "/portals/"+p.ID+"/scan", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", rec.Code, rec.Body.String())
	}
	var resp server.StartScanResponse
	decodeJSON(t, rec, &resp)
	if resp.ScanID == "" || resp.WorkItemID == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}

	// The sequence runs in the background; wait for it to finish.
	deadline := time.Now().Add(5 * time.Second)
	var history []model.ScanSummary
	for time.Now().Before(deadline) {
		history = f.scans.ScanHistory(p.ID, 0)
		if len(history) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].Status != model.ScanCompleted {
		t.Errorf("scan status = %s, want completed", history[0].Status)
	}
	if history[0].DiscoveredCount == 0 {
		t.Error("no opportunities discovered")
	}

	item, err := f.store.GetWorkItem(context.Background(), resp.WorkItemID)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if item.Status != model.WorkCompleted {
		t.Errorf("work item status = %s, want completed", item.Status)
	}
}

func TestServer_StartScan_ConflictWhenAlreadyScanning(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)
	p := createPortal(t, f)

	f.scans.StartScan(p.ID, p.Name)

	rec := doJSON(t, f.srv, "POST", "/portals/"+p.ID+"/scan", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestServer_StartScan_UnknownPortal(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "POST", "/portals/no-such-portal/scan", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_GetScan_NotFound(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "GET", "/scans/no-such-scan", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_GetScan_Active(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	scanID := f.scans.StartScan("p1", "Acme Portal")

	rec := doJSON(t, f.srv, "GET", "/scans/"+scanID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state model.ScanState
	decodeJSON(t, rec, &state)
	if state.ID != scanID || state.Status != model.ScanRunning {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestServer_GetScan_FallsBackToStorage(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	now := time.Now().UTC()
	summary := &model.ScanSummary{
		ScanID:      "scan-done",
		PortalID:    "p1",
		PortalName:  "Acme Portal",
		Status:      model.ScanCompleted,
		StartedAt:   now.Add(-time.Minute),
		CompletedAt: now,
	}
	if err := f.store.SaveScanSummary(context.Background(), summary); err != nil {
		t.Fatalf("SaveScanSummary: %v", err)
	}

	rec := doJSON(t, f.srv, "GET", "/scans/scan-done", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Summary model.ScanSummary `json:"summary"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Summary.ScanID != "scan-done" {
		t.Errorf("summary scan_id = %q, want scan-done", resp.Summary.ScanID)
	}
}

func TestServer_ScanHistory_FallsBackToStorage(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	now := time.Now().UTC()
	summary := &model.ScanSummary{
		ScanID:      "scan-old",
		PortalID:    "p1",
		Status:      model.ScanFailed,
		StartedAt:   now.Add(-time.Hour),
		CompletedAt: now.Add(-time.Hour + time.Minute),
	}
	if err := f.store.SaveScanSummary(context.Background(), summary); err != nil {
		t.Fatalf("SaveScanSummary: %v", err)
	}

	rec := doJSON(t, f.srv, "GET", "/portals/p1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var history []model.ScanSummary
	decodeJSON(t, rec, &history)
	if len(history) != 1 || history[0].ScanID != "scan-old" {
		t.Errorf("unexpected history: %+v", history)
	}
}

// ─── Opportunities ─────────────────────────────────────────────────────

func TestServer_ListOpportunities(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	opps := []model.Opportunity{
		{Title: "Road Resurfacing RFP", SourceURL: "https://portal.example/opp/101", Confidence: 0.8},
		{Title: "IT Services RFQ", SourceURL: "https://portal.example/opp/102", Confidence: 0.6},
	}
	if _, err := f.store.SaveOpportunities(context.Background(), "p1", opps); err != nil {
		t.Fatalf("SaveOpportunities: %v", err)
	}

	rec := doJSON(t, f.srv, "GET", "/portals/p1/opportunities", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []model.Opportunity
	decodeJSON(t, rec, &got)
	if len(got) != 2 {
		t.Fatalf("expected 2 opportunities, got %d", len(got))
	}
	if got[0].Confidence < got[1].Confidence {
		t.Error("opportunities not ordered by confidence")
	}
}

// ─── WebSockets ────────────────────────────────────────────────────────

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.ScanEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.ScanEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestServer_WS_StreamsScanEvents(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)

	scanID := f.scans.StartScan("p1", "Acme Portal")
	conn := dialWS(t, ts, "/ws/scans/"+scanID+"/events")

	first := readEvent(t, conn)
	if first.Type != model.EventInitialState {
		t.Fatalf("first event type = %s, want initial_state", first.Type)
	}

	f.scans.UpdateStep(scanID, model.StepExtracting, 50, "content map built")
	if ev := readEvent(t, conn); ev.Type != model.EventStepUpdate {
		t.Fatalf("event type = %s, want step_update", ev.Type)
	}

	f.scans.CompleteScan(scanID, true)
	if ev := readEvent(t, conn); ev.Type != model.EventScanCompleted {
		t.Fatalf("event type = %s, want scan_completed", ev.Type)
	}

	// The server closes the stream after the terminal event.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev model.ScanEvent
	if err := conn.ReadJSON(&ev); err == nil {
		t.Errorf("expected closed stream, got event %+v", ev)
	}
}

func TestServer_WS_UnknownScan(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "/ws/scans/no-such-scan/events")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var resp server.ErrorResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if resp.Error != "scan not found" {
		t.Errorf("error = %q, want scan not found", resp.Error)
	}
}

// ─── Health ────────────────────────────────────────────────────────────

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	f := newTestServer(t)

	rec := doJSON(t, f.srv, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
